package pagestate

import "time"

// Timer is a handle to one scheduled poll.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The controller holds at most one Timer.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealScheduler schedules on the runtime timer.
var RealScheduler Scheduler = realScheduler{}
