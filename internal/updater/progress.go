package updater

import (
	"fmt"
	"time"
)

// ProgressSink receives operator facing progress.
type ProgressSink interface {
	// Step announces a new step and the overall completion percentage.
	Step(step Step, percent int, label string)
	// Detail reports a transient line, usually the file being copied.
	Detail(line string)
	// Log reports a line worth keeping in the session transcript.
	Log(line string)
}

// StepObserver receives timings for metrics.
type StepObserver interface {
	SessionStarted(version string)
	ObserveStep(step string, elapsed time.Duration, files int, bytes int64)
	SessionFinished(version string, success, corrupted bool, reformat string, elapsed time.Duration)
}

type nopProgress struct{}

func (nopProgress) Step(Step, int, string) {}
func (nopProgress) Detail(string)          {}
func (nopProgress) Log(string)             {}

type nopObserver struct{}

func (nopObserver) SessionStarted(string)                                     {}
func (nopObserver) ObserveStep(string, time.Duration, int, int64)             {}
func (nopObserver) SessionFinished(string, bool, bool, string, time.Duration) {}

// FormatBytes scales a byte count the way step summaries show it.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d bytes", n)
	}
	units := []string{"KiB", "MiB", "GiB", "TiB"}
	value := float64(n) / unit
	i := 0
	for value >= unit && i < len(units)-1 {
		value /= unit
		i++
	}
	return fmt.Sprintf("%.2f %s", value, units[i])
}

// FormatElapsed renders a step duration: milliseconds below a second,
// seconds with two decimals below a minute, else m:ss.
func FormatElapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%d ms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2f s", d.Seconds())
	default:
		return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
	}
}

func formatCount(n int, noun string) string {
	return fmt.Sprintf("%d %s", n, noun)
}
