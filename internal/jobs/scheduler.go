package jobs

import "time"

// Timer is a handle to one scheduled callback. Stop is idempotent and
// reports whether it prevented the callback from running.
type Timer interface {
	Stop() bool
}

// Scheduler runs a callback once after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler schedules on the runtime timer wheel.
var SystemScheduler Scheduler = systemScheduler{}
