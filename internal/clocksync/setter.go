package clocksync

import (
	"errors"
	"time"
)

// ErrClockSet wraps every failure to step the system clock.
var ErrClockSet = errors.New("set system clock")

// Setter steps the system clock to an absolute UTC time.
type Setter interface {
	Set(t time.Time) error
}

// SystemSetter sets the host's real-time clock. It needs root (or
// CAP_SYS_TIME) on unix and SeSystemtimePrivilege on Windows.
type SystemSetter struct{}

// Set steps the clock to t, truncated to the millisecond.
func (SystemSetter) Set(t time.Time) error {
	return setSystemClock(t.UTC().Truncate(time.Millisecond))
}

// Clock is the system time source sampled for the offset. Tests inject a
// fixed clock.
type Clock interface {
	Now() time.Time
}

// RealClock reads time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

var (
	_ Setter = SystemSetter{}
	_ Clock  = RealClock{}
)
