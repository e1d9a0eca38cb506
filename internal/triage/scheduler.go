package triage

import "time"

// Task is a handle to a deferred callback.
type Task interface {
	// Cancel stops the callback if it has not started. It reports whether the
	// callback was prevented from running.
	Cancel() bool
}

// Scheduler runs callbacks after a delay. Photo-analysis stages go through it
// so they can be cancelled on reset and shutdown, and driven by hand in tests.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
}

// TimerScheduler schedules on the runtime timer heap.
type TimerScheduler struct{}

// AfterFunc implements Scheduler.
func (TimerScheduler) AfterFunc(d time.Duration, f func()) Task {
	return timerTask{t: time.AfterFunc(d, f)}
}

type timerTask struct {
	t *time.Timer
}

func (t timerTask) Cancel() bool {
	return t.t.Stop()
}
