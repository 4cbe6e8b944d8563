package executor

import "time"

// Clock abstracts time so settlement schedules are testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now().UTC() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func SystemClock() Clock { return systemClock{} }
