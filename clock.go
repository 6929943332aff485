package authgate

import "time"

// Clock abstracts time.Now so expiry logic stays testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock used by every component.
var SystemClock Clock = systemClock{}
