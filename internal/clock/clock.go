// Package clock provides an injectable time source so services that compute
// daily and monthly windows can be tested deterministically.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the time source used by every component that reasons about
// rollover windows.
type Clock interface {
	Now() time.Time
}

// Module provides the system clock.
var Module = fx.Provide(NewSystemClock)

type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
