package clocksync

import (
	"errors"
	"fmt"
	"time"

	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/gps"
)

type Mode string

const (
	// ModeCompare measures and reports; the clock is never touched.
	ModeCompare Mode = "compare"
	// ModeSync steps the clock when the decision requires it.
	ModeSync Mode = "sync"
)

// ParseMode accepts "compare" or "sync" (case-sensitive, as written in
// config files).
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCompare, ModeSync:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown sync mode %q", s)
	}
}

type Outcome string

const (
	OutcomeNoAction        Outcome = "no-action"
	OutcomeSyncRecommended Outcome = "sync-recommended"
	OutcomeSyncPerformed   Outcome = "sync-performed"
	OutcomeSyncSkippedDry  Outcome = "sync-skipped-dry-run"
	OutcomeSyncFailed      Outcome = "sync-failed"
)

type Options struct {
	Mode       Mode
	Thresholds Thresholds
	DryRun     bool
}

// Result is everything one measurement cycle produced.
type Result struct {
	GPS      gps.Timestamp
	System   time.Time
	Decision Decision
	Outcome  Outcome
	// Applied is the time handed to the Setter; zero unless a sync was
	// attempted.
	Applied time.Time
}

// Execute samples the system clock, decides, and in sync mode steps the clock
// when required and not a dry run. The GPS time is advanced by the time spent
// between sampling and setting so the step lands on "now" rather than on the
// moment the sentence was read.
//
// On a setter failure the Result carries OutcomeSyncFailed and the returned
// error wraps ErrClockSet.
func Execute(gpsTime gps.Timestamp, clock Clock, setter Setter, opts Options) (Result, error) {
	if clock == nil {
		clock = RealClock{}
	}
	system := clock.Now()
	res := Result{
		GPS:      gpsTime,
		System:   system,
		Decision: Decide(gpsTime, system, opts.Thresholds),
		Outcome:  OutcomeNoAction,
	}
	if !res.Decision.SyncRequired() {
		return res, nil
	}

	switch {
	case opts.Mode != ModeSync:
		res.Outcome = OutcomeSyncRecommended
		return res, nil
	case opts.DryRun:
		res.Outcome = OutcomeSyncSkippedDry
		return res, nil
	case setter == nil:
		res.Outcome = OutcomeSyncFailed
		return res, fmt.Errorf("%w: no clock setter configured", ErrClockSet)
	}

	elapsed := clock.Now().Sub(system)
	if elapsed < 0 {
		elapsed = 0
	}
	res.Applied = gpsTime.Time().Add(elapsed).Truncate(time.Millisecond)
	if err := setter.Set(res.Applied); err != nil {
		res.Outcome = OutcomeSyncFailed
		if !errors.Is(err, ErrClockSet) {
			err = fmt.Errorf("%w: %w", ErrClockSet, err)
		}
		return res, err
	}
	res.Outcome = OutcomeSyncPerformed
	return res, nil
}
