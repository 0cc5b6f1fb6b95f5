package usecase

import "time"

// Clock abstracts the wall clock so coordination logic can be tested
// without sleeping against real TTLs.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
