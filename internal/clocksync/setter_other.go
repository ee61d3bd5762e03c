//go:build !linux && !darwin && !freebsd && !windows

package clocksync

import (
	"fmt"
	"time"
)

func setSystemClock(t time.Time) error {
	return fmt.Errorf("%w: not supported on this platform", ErrClockSet)
}
