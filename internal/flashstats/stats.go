package flashstats

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MaxMessages is the size of the message map in flash.
	MaxMessages = 40
	// Rotations is the number of rotation slots per message.
	Rotations = 5

	// FileName is the blob's name on the device.
	FileName = "flashData.bin"
)

// Paths lists the device locations of the blob, most specific first.
var Paths = []string{"statistics/stats/" + FileName, "statistics/" + FileName}

// Rotation holds the timing of one rotation.
type Rotation struct {
	Number           int16
	StartingPeriod   int16
	HoursAfterUpdate int16
	InitVoltage      int16
}

// MessageStats are the play counters for one message in one rotation.
type MessageStats struct {
	Index         int16
	Profile       int16
	Rotation      int16
	Started       int16
	Quarter       int16
	Half          int16
	ThreeQuarters int16
	Completed     int16
	Applied       int16
	Useless       int16
	Seconds       uint16
}

// Totals accumulates counters over several MessageStats.
type Totals struct {
	Seconds       int64
	Started       int64
	Quarter       int64
	Half          int64
	ThreeQuarters int64
	Completed     int64
	Applied       int64
	Useless       int64
}

func (t *Totals) add(m MessageStats) {
	t.Seconds += int64(m.Seconds)
	t.Started += int64(m.Started)
	t.Quarter += int64(m.Quarter)
	t.Half += int64(m.Half)
	t.ThreeQuarters += int64(m.ThreeQuarters)
	t.Completed += int64(m.Completed)
	t.Applied += int64(m.Applied)
	t.Useless += int64(m.Useless)
}

// Stats is a decoded flash blob. It is never mutated after Decode returns.
type Stats struct {
	Reflashes  int16
	Serial     string
	Deployment string
	Community  string
	Image      string
	Day        int16
	Month      int16
	Year       int16

	Periods         int16
	CumulativeDays  int16
	CorruptionDay   int16
	Powerups        int16
	LastInitVoltage int16
	Rotations       [Rotations]Rotation

	TotalMessages int16
	MessageIDs    []string

	ProfileOrder          int16
	ProfileName           string
	ProfileTotalMessages  int16
	ProfileTotalRotations int16

	// Messages is indexed [message][rotation].
	Messages [][Rotations]MessageStats
}

// Present reports whether the blob carries real data.
func (s *Stats) Present() bool {
	return s != nil && s.Reflashes != -1
}

// TotalsFor returns the counters of one message in one rotation. Out of
// range indexes yield zero totals.
func (s *Stats) TotalsFor(message, rotation int) Totals {
	var t Totals
	if message < 0 || message >= len(s.Messages) || rotation < 0 || rotation >= Rotations {
		return t
	}
	t.add(s.Messages[message][rotation])
	return t
}

// Totals sums every message over every rotation slot.
func (s *Stats) Totals() Totals {
	var t Totals
	for m := range s.Messages {
		for r := 0; r < Rotations; r++ {
			t.add(s.Messages[m][r])
		}
	}
	return t
}

// SecondsPerRotation sums the seconds played of all messages in rotation r.
func (s *Stats) SecondsPerRotation(r int) int64 {
	if r < 0 || r >= Rotations {
		return 0
	}
	var total int64
	for m := range s.Messages {
		total += int64(s.Messages[m][r].Seconds)
	}
	return total
}

// SecondsPerMessage sums the seconds played of message m over all rotations.
func (s *Stats) SecondsPerMessage(m int) int64 {
	if m < 0 || m >= len(s.Messages) {
		return 0
	}
	var total int64
	for r := 0; r < Rotations; r++ {
		total += int64(s.Messages[m][r].Seconds)
	}
	return total
}

// UpdateDate formats the flash update date as "y/m/d", the form written to
// the operation logs.
func (s *Stats) UpdateDate() string {
	return fmt.Sprintf("%d/%d/%d", s.Year, s.Month, s.Day)
}

// LastUpdated returns the flash update date. ok is false when the device
// never recorded one.
func (s *Stats) LastUpdated() (time.Time, bool) {
	if !s.Present() || s.Year == -1 || s.Month == -1 || s.Day == -1 {
		return time.Time{}, false
	}
	if s.Month < 1 || s.Month > 12 || s.Day < 1 || s.Day > 31 {
		return time.Time{}, false
	}
	year := int(s.Year)
	if year < 100 {
		year += 2000
	}
	return time.Date(year, time.Month(s.Month), int(s.Day), 0, 0, 0, 0, time.UTC), true
}

// ActiveRotations is the number of rotation slots the profile used.
func (s *Stats) ActiveRotations() int {
	n := int(s.ProfileTotalRotations)
	if n < 0 {
		return 0
	}
	return min(n, Rotations)
}

// Summary renders a human readable report of the blob.
func (s *Stats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Serial Number : %s\n", s.Serial)
	fmt.Fprintf(&b, "Reflashes     : %d\n", s.Reflashes)
	fmt.Fprintf(&b, "Deployment    : %s\n", s.Deployment)
	fmt.Fprintf(&b, "Image         : %s\n", s.Image)
	fmt.Fprintf(&b, "Profile       : %s\n", s.ProfileName)
	fmt.Fprintf(&b, "Community     : %s\n", s.Community)
	fmt.Fprintf(&b, "Last Updated  : %s\n", s.UpdateDate())
	fmt.Fprintf(&b, "Powered Days  : %d\n", s.CumulativeDays)
	fmt.Fprintf(&b, "Last PowerupV : %d\n", s.LastInitVoltage)
	fmt.Fprintf(&b, "StartUps      : %d\n", s.Powerups)
	fmt.Fprintf(&b, "Corruption Day: %d\n", s.CorruptionDay)
	fmt.Fprintf(&b, "Periods       : %d\n", s.Periods)
	fmt.Fprintf(&b, "Rotations     : %d\n\n", s.ProfileTotalRotations)

	t := s.Totals()
	fmt.Fprintf(&b, "TOTAL STATS (%d messages)\n", s.TotalMessages)
	fmt.Fprintf(&b, "       Time:%dmin %dsec   Started:%d   P:%d   H:%d   M:%d   F:%d   A:%d   U:%d\n\n",
		t.Seconds/60, t.Seconds%60, t.Started, t.Quarter, t.Half, t.ThreeQuarters, t.Completed, t.Applied, t.Useless)

	for r := 0; r < s.ActiveRotations(); r++ {
		secs := s.SecondsPerRotation(r)
		rot := s.Rotations[r]
		fmt.Fprintf(&b, "  Rotation:%d     %dmin %dsec    Starting Period:%d   Hours After Update:%d   Init Voltage:%d\n",
			r, secs/60, secs%60, rot.StartingPeriod, rot.HoursAfterUpdate, rot.InitVoltage)
	}
	return b.String()
}
