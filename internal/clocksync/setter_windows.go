//go:build windows

package clocksync

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procSetSystemTime = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetSystemTime")

func setSystemClock(t time.Time) error {
	st := windows.Systemtime{
		Year:         uint16(t.Year()),
		Month:        uint16(t.Month()),
		DayOfWeek:    uint16(t.Weekday()),
		Day:          uint16(t.Day()),
		Hour:         uint16(t.Hour()),
		Minute:       uint16(t.Minute()),
		Second:       uint16(t.Second()),
		Milliseconds: uint16(t.Nanosecond() / int(time.Millisecond)),
	}
	r1, _, e1 := procSetSystemTime.Call(uintptr(unsafe.Pointer(&st)))
	if r1 == 0 {
		return fmt.Errorf("%w: SetSystemTime: %w", ErrClockSet, e1)
	}
	return nil
}
