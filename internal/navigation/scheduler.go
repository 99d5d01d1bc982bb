package navigation

import "time"

// Task is a scheduled action that can be cancelled before it runs.
type Task interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) Task {
	return time.AfterFunc(d, f)
}

// TimerScheduler runs tasks on the runtime timer.
var TimerScheduler Scheduler = timerScheduler{}
