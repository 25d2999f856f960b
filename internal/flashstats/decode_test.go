package flashstats

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tbloader/internal/services"
)

func sampleStats() *Stats {
	s := &Stats{
		Reflashes:             3,
		Serial:                "B-000C0123",
		Deployment:            "DEMO-2016-1",
		Community:             "VILLAGE-A",
		Image:                 "DEMO-PKG",
		Day:                   20,
		Month:                 12,
		Year:                  2016,
		Periods:               7,
		CumulativeDays:        41,
		CorruptionDay:         -1,
		Powerups:              12,
		LastInitVoltage:       245,
		TotalMessages:         2,
		MessageIDs:            []string{"LB-2_msg1", "LB-2_msg2"},
		ProfileOrder:          1,
		ProfileName:           "ENGLISH",
		ProfileTotalMessages:  2,
		ProfileTotalRotations: 3,
	}
	for r := range s.Rotations {
		s.Rotations[r] = Rotation{Number: int16(r), StartingPeriod: int16(r * 2), HoursAfterUpdate: int16(10 * r), InitVoltage: 240}
	}
	s.Messages = make([][Rotations]MessageStats, 2)
	for m := range s.Messages {
		for r := 0; r < Rotations; r++ {
			s.Messages[m][r] = MessageStats{
				Index:     int16(m),
				Rotation:  int16(r),
				Started:   int16(m + r + 1),
				Completed: 1,
				Seconds:   uint16(60 * (m + 1)),
			}
		}
	}
	return s
}

func TestDecodeRoundTrip(t *testing.T) {
	want := sampleStats()
	got, err := DecodeBytes(Encode(want))
	if err != nil {
		t.Fatalf("DecodeBytes returned error: %v", err)
	}
	if got.Serial != want.Serial || got.Community != want.Community || got.Image != want.Image || got.Deployment != want.Deployment {
		t.Fatalf("header mismatch: %+v", got)
	}
	if got.Reflashes != 3 || got.Year != 2016 || got.Month != 12 || got.Day != 20 {
		t.Fatalf("header numbers mismatch: %+v", got)
	}
	if got.Rotations[4].HoursAfterUpdate != 40 || got.LastInitVoltage != 245 {
		t.Fatalf("counts mismatch: %+v", got.Rotations)
	}
	if len(got.MessageIDs) != 2 || got.MessageIDs[1] != "LB-2_msg2" {
		t.Fatalf("message ids mismatch: %v", got.MessageIDs)
	}
	if got.ProfileName != "ENGLISH" || got.ProfileTotalRotations != 3 {
		t.Fatalf("profile mismatch: %+v", got)
	}
	if got.Messages[1][4].Started != 6 || got.Messages[1][4].Seconds != 120 {
		t.Fatalf("message stats mismatch: %+v", got.Messages[1][4])
	}
}

func TestDecodeSecondsAreUnsigned(t *testing.T) {
	s := sampleStats()
	s.Messages[0][0].Seconds = 0xFFFE
	got, err := DecodeBytes(Encode(s))
	if err != nil {
		t.Fatalf("DecodeBytes returned error: %v", err)
	}
	if got.Messages[0][0].Seconds != 65534 {
		t.Fatalf("expected 65534 seconds, got %d", got.Messages[0][0].Seconds)
	}
}

func TestDecodeShortReadIsCorrupt(t *testing.T) {
	blob := Encode(sampleStats())
	for _, n := range []int{0, 1, 10, 300, len(blob) - 1} {
		stats, err := DecodeBytes(blob[:n])
		if !errors.Is(err, services.ErrCorruptFlashData) {
			t.Fatalf("truncated at %d: expected ErrCorruptFlashData, got %v", n, err)
		}
		if stats != nil {
			t.Fatalf("truncated at %d: expected nil stats", n)
		}
	}
}

func TestDecodeRejectsMessageCount(t *testing.T) {
	for _, count := range []int16{-2, MaxMessages + 1} {
		s := sampleStats()
		s.TotalMessages = count
		s.Messages = nil
		_, err := DecodeBytes(Encode(s))
		if !errors.Is(err, services.ErrCorruptFlashData) {
			t.Fatalf("count %d: expected ErrCorruptFlashData, got %v", count, err)
		}
		if !strings.Contains(err.Error(), "out of range") {
			t.Fatalf("count %d: unexpected message %q", count, err)
		}
	}
}

func TestDecodeEmptyMessageMap(t *testing.T) {
	s := sampleStats()
	s.TotalMessages = 0
	got, err := DecodeBytes(Encode(s))
	if err != nil {
		t.Fatalf("DecodeBytes returned error: %v", err)
	}
	if len(got.Messages) != 0 || len(got.MessageIDs) != 0 {
		t.Fatalf("expected no messages, got %d", len(got.Messages))
	}
	if got.Totals() != (Totals{}) {
		t.Fatalf("expected zero totals, got %+v", got.Totals())
	}
}

func TestStringsStopAtFirstZero(t *testing.T) {
	blob := Encode(sampleStats())
	// Serial starts after pad and reflash count; put garbage after its terminator.
	off := 4 + 2*len("B-000C0123")
	blob[off] = 0
	blob[off+2] = 'X'
	got, err := DecodeBytes(blob)
	if err != nil {
		t.Fatalf("DecodeBytes returned error: %v", err)
	}
	if got.Serial != "B-000C0123" {
		t.Fatalf("expected serial to end at terminator, got %q", got.Serial)
	}
}

func TestPresent(t *testing.T) {
	s := sampleStats()
	s.Reflashes = -1
	got, err := DecodeBytes(Encode(s))
	if err != nil {
		t.Fatalf("DecodeBytes returned error: %v", err)
	}
	if got.Present() {
		t.Fatal("expected reflash count -1 to be reported as not present")
	}
	if _, ok := got.LastUpdated(); ok {
		t.Fatal("absent stats must not report an update date")
	}
	var nilStats *Stats
	if nilStats.Present() {
		t.Fatal("nil stats must not be present")
	}
}

func TestTotalsAndSeconds(t *testing.T) {
	s := sampleStats()
	totals := s.Totals()
	if totals.Seconds != 5*60+5*120 {
		t.Fatalf("unexpected total seconds %d", totals.Seconds)
	}
	if totals.Completed != 10 {
		t.Fatalf("unexpected completed %d", totals.Completed)
	}
	if got := s.SecondsPerRotation(2); got != 180 {
		t.Fatalf("SecondsPerRotation(2) = %d", got)
	}
	if got := s.SecondsPerMessage(1); got != 600 {
		t.Fatalf("SecondsPerMessage(1) = %d", got)
	}
	if got := s.TotalsFor(1, 0); got.Started != 2 {
		t.Fatalf("TotalsFor(1,0) = %+v", got)
	}
	if got := s.TotalsFor(9, 0); got != (Totals{}) {
		t.Fatalf("out of range TotalsFor should be zero, got %+v", got)
	}
	if s.ActiveRotations() != 3 {
		t.Fatalf("ActiveRotations = %d", s.ActiveRotations())
	}
}

func TestLastUpdated(t *testing.T) {
	s := sampleStats()
	got, ok := s.LastUpdated()
	if !ok || !got.Equal(time.Date(2016, 12, 20, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("LastUpdated = %v, %v", got, ok)
	}
	s.Year = 16
	if got, ok := s.LastUpdated(); !ok || got.Year() != 2016 {
		t.Fatalf("two digit year = %v, %v", got, ok)
	}
	s.Month = -1
	if _, ok := s.LastUpdated(); ok {
		t.Fatal("expected missing month to report no date")
	}
	if s.UpdateDate() != "16/-1/20" {
		t.Fatalf("UpdateDate = %q", s.UpdateDate())
	}
}

func TestSummaryMentionsRotations(t *testing.T) {
	out := sampleStats().Summary()
	for _, want := range []string{"Serial Number : B-000C0123", "TOTAL STATS (2 messages)", "Rotation:2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Rotation:3") {
		t.Fatalf("summary should stop at active rotations:\n%s", out)
	}
}
