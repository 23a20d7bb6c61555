package workflow

import "time"

// Timing controls the simulated scan. Progress advances by ProgressStep
// every ProgressInterval, never beyond ProgressCap, until UploadDelay
// elapses; it then jumps to 100 and the engine runs after AnalysisDelay.
type Timing struct {
	UploadDelay      time.Duration
	AnalysisDelay    time.Duration
	ProgressInterval time.Duration
	ProgressStep     int
	ProgressCap      int
}

// DefaultTiming returns the prototype's delays: 3s upload, 1.5s analysis,
// +15 every 200ms capped at 90.
func DefaultTiming() Timing {
	return Timing{
		UploadDelay:      3 * time.Second,
		AnalysisDelay:    1500 * time.Millisecond,
		ProgressInterval: 200 * time.Millisecond,
		ProgressStep:     15,
		ProgressCap:      90,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.UploadDelay <= 0 {
		t.UploadDelay = d.UploadDelay
	}
	if t.AnalysisDelay <= 0 {
		t.AnalysisDelay = d.AnalysisDelay
	}
	if t.ProgressInterval <= 0 {
		t.ProgressInterval = d.ProgressInterval
	}
	if t.ProgressStep <= 0 {
		t.ProgressStep = d.ProgressStep
	}
	if t.ProgressCap <= 0 || t.ProgressCap > 100 {
		t.ProgressCap = d.ProgressCap
	}
	return t
}
