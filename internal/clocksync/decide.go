package clocksync

import (
	"fmt"
	"math"
	"time"

	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/gps"
)

// Thresholds gate the decision on |offset|. Warn and Sync are independent;
// Warn > Sync is legal and simply means a sync can happen without a warning.
type Thresholds struct {
	Warn time.Duration
	Sync time.Duration
}

// Seconds converts a threshold or offset given in fractional seconds to a
// Duration truncated to the microsecond. Values beyond the Duration range
// saturate; NaN maps to the maximum so a bad threshold can never force a sync.
func Seconds(s float64) time.Duration {
	ns := math.Round(s * 1e9)
	switch {
	case math.IsNaN(ns), ns >= float64(math.MaxInt64):
		return time.Duration(math.MaxInt64).Truncate(time.Microsecond)
	case ns <= float64(math.MinInt64):
		return time.Duration(math.MinInt64).Truncate(time.Microsecond)
	}
	return time.Duration(ns).Truncate(time.Microsecond)
}

type Action int

const (
	NoActionNeeded Action = iota
	// WarnOnly: |offset| reached the warn threshold but not the sync threshold.
	// No clock change is needed.
	WarnOnly
	SyncRequired
)

func (a Action) String() string {
	switch a {
	case NoActionNeeded:
		return "no-action-needed"
	case WarnOnly:
		return "warn-only"
	case SyncRequired:
		return "sync-required"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the classification of one offset measurement.
type Decision struct {
	Action Action
	// Warn is set whenever |offset| >= Thresholds.Warn, including alongside
	// SyncRequired.
	Warn       bool
	Offset     time.Duration
	Thresholds Thresholds
}

// SyncRequired reports whether the system clock should be stepped.
func (d Decision) SyncRequired() bool { return d.Action == SyncRequired }

// OffsetSeconds is the signed offset (system - gps) in seconds.
func (d Decision) OffsetSeconds() float64 { return d.Offset.Seconds() }

// AbsOffset is |offset|.
func (d Decision) AbsOffset() time.Duration {
	if d.Offset < 0 {
		return -d.Offset
	}
	return d.Offset
}

// Offset returns system - gps. A positive offset means the system clock is
// ahead of GPS.
func Offset(gpsTime gps.Timestamp, system time.Time) time.Duration {
	return system.Truncate(time.Microsecond).Sub(gpsTime.Time())
}

// Decide classifies the offset between a GPS timestamp and the system clock
// reading taken for it. It has no side effects.
func Decide(gpsTime gps.Timestamp, system time.Time, th Thresholds) Decision {
	d := Decision{Offset: Offset(gpsTime, system), Thresholds: th}
	abs := d.AbsOffset()

	d.Warn = abs >= th.Warn
	switch {
	case abs >= th.Sync:
		d.Action = SyncRequired
	case d.Warn:
		d.Action = WarnOnly
	default:
		d.Action = NoActionNeeded
	}
	return d
}
