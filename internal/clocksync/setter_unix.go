//go:build linux || darwin || freebsd

package clocksync

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func setSystemClock(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	if err := unix.Settimeofday(&tv); err != nil {
		return fmt.Errorf("%w: settimeofday: %w", ErrClockSet, err)
	}
	return nil
}
