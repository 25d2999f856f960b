package updater

import (
	"time"

	"tbloader/internal/devicefs"
	"tbloader/internal/flashstats"
	"tbloader/internal/identity"
)

// ReformatOutcome reports what happened to a corrupted disk.
type ReformatOutcome int

const (
	NoAttempt ReformatOutcome = iota
	Succeeded
	Failed
)

func (o ReformatOutcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "no-attempt"
	}
}

// StepRecord is the summary of one finished step.
type StepRecord struct {
	Step     Step
	Files    int
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Summary renders "N file(s), X, T" for the step.
func (r StepRecord) Summary() string {
	if !r.Step.countsFiles() {
		return FormatElapsed(r.Duration)
	}
	noun := "files"
	if r.Files == 1 {
		noun = "file"
	}
	return formatCount(r.Files, noun) + ", " + FormatBytes(r.Bytes) + ", " + FormatElapsed(r.Duration)
}

// SessionState is the mutable record of a running session, shared by every
// step.
type SessionState struct {
	SessionID string
	Started   time.Time
	Version   identity.Version
	// Before is the device as found; Previous and Next are the descriptors
	// before and after the update.
	Before   identity.DeviceIdentity
	Previous identity.Descriptor
	Next     identity.Descriptor
	// SynchDir names this collection, like 2026y03m01d09h30m15s-000c.
	SynchDir  string
	StatsUUID string
	// Flash is the statistics blob as found, before any step clears it.
	Flash *flashstats.Stats

	HadCorruption  bool
	Reformat       ReformatOutcome
	NewLabel       string
	GotStatistics  bool
	ClearedFlash   bool
	Verified       bool
	NeedFirmware   bool
	FirmwareCopied bool

	// WorkDir is the session's scratch directory on Temp; DataDir is the
	// gathered-files directory inside it.
	WorkDir string
	DataDir string
	ZipPath string

	Steps []StepRecord

	current  StepRecord
	stepFrom time.Time
}

// Totals sums files and bytes over every step.
func (s *SessionState) Totals() devicefs.CopyStats {
	var total devicefs.CopyStats
	for _, r := range s.Steps {
		total.Files += r.Files
		total.Bytes += r.Bytes
	}
	return total
}

// Step returns the record of step, if it ran.
func (s *SessionState) Step(step Step) (StepRecord, bool) {
	for _, r := range s.Steps {
		if r.Step == step {
			return r, true
		}
	}
	return StepRecord{}, false
}

func (s *SessionState) addFiles(n int) { s.current.Files += n }

func (s *SessionState) addBytes(n int64) { s.current.Bytes += n }

func (s *SessionState) addCopy(stats devicefs.CopyStats) {
	s.current.Files += stats.Files
	s.current.Bytes += stats.Bytes
}
