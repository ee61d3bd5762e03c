// Package report renders one measurement cycle for the operator (text on
// stdout) and for machines (JSON to UDP/MQTT sinks).
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/clocksync"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/gps"
)

const OutcomeNoFix = "no-fix"

type Report struct {
	RunID    string   `json:"run_id"`
	Mode     string   `json:"mode"`
	DryRun   bool     `json:"dry_run,omitempty"`
	Sentence string   `json:"sentence,omitempty"`
	Attempts int      `json:"attempts"`
	Fix      *gps.Fix `json:"fix,omitempty"`

	GPSUTC    string `json:"gps_utc,omitempty"`
	SystemUTC string `json:"system_utc,omitempty"`

	OffsetSeconds        float64 `json:"offset_s"`
	WarnThresholdSeconds float64 `json:"warn_threshold_s"`
	SyncThresholdSeconds float64 `json:"sync_threshold_s"`
	Warn                 bool    `json:"warn"`
	Action               string  `json:"action,omitempty"`

	Outcome    string `json:"outcome"`
	AppliedUTC string `json:"applied_utc,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewRunID() string { return uuid.NewString() }

// FromCycle builds the report for a cycle that acquired a fix. execErr is the
// error returned by clocksync.Execute, if any.
func FromCycle(runID string, opts clocksync.Options, acq gps.AcquireResult, res clocksync.Result, execErr error) Report {
	d := res.Decision
	r := Report{
		RunID:                runID,
		Mode:                 string(opts.Mode),
		DryRun:               opts.DryRun,
		Sentence:             acq.Sentence,
		Attempts:             acq.Attempts,
		GPSUTC:               gps.FormatISO(res.GPS.Time()),
		SystemUTC:            gps.FormatISO(res.System),
		OffsetSeconds:        d.OffsetSeconds(),
		WarnThresholdSeconds: d.Thresholds.Warn.Seconds(),
		SyncThresholdSeconds: d.Thresholds.Sync.Seconds(),
		Warn:                 d.Warn,
		Action:               d.Action.String(),
		Outcome:              string(res.Outcome),
	}
	if fix, ok := gps.DecodeFix(acq.Sentence); ok {
		r.Fix = &fix
	}
	if !res.Applied.IsZero() {
		r.AppliedUTC = gps.FormatISO(res.Applied)
	}
	if execErr != nil {
		r.Error = execErr.Error()
	}
	return r
}

// NoFix builds the report for a cycle whose attempt budget ran out.
func NoFix(runID string, opts clocksync.Options, acq gps.AcquireResult) Report {
	return Report{
		RunID:                runID,
		Mode:                 string(opts.Mode),
		DryRun:               opts.DryRun,
		Attempts:             acq.Attempts,
		WarnThresholdSeconds: opts.Thresholds.Warn.Seconds(),
		SyncThresholdSeconds: opts.Thresholds.Sync.Seconds(),
		Outcome:              OutcomeNoFix,
	}
}

// WriteText prints the operator-facing report.
func WriteText(w io.Writer, r Report) error {
	var b strings.Builder
	if r.Outcome == OutcomeNoFix {
		b.WriteString("No valid RMC UTC sentence received from GPS.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	fmt.Fprintf(&b, "NMEA: %s\n", r.Sentence)
	fmt.Fprintf(&b, "GPS UTC    : %s\n", r.GPSUTC)
	fmt.Fprintf(&b, "System UTC : %s\n", r.SystemUTC)
	if r.Fix != nil {
		fmt.Fprintf(&b, "Position   : %.5f, %.5f\n", r.Fix.LatDeg, r.Fix.LonDeg)
	}
	fmt.Fprintf(&b, "Offset (system - gps): %+.3f s\n", r.OffsetSeconds)

	abs := r.OffsetSeconds
	if abs < 0 {
		abs = -abs
	}
	if r.Warn {
		fmt.Fprintf(&b, "Warning: |offset| %.3f s >= warn threshold %.3f s\n", abs, r.WarnThresholdSeconds)
	}

	switch clocksync.Outcome(r.Outcome) {
	case clocksync.OutcomeNoAction:
		fmt.Fprintf(&b, "Result: %s (|offset| %.3f s < sync threshold %.3f s)\n", r.Outcome, abs, r.SyncThresholdSeconds)
	case clocksync.OutcomeSyncRecommended:
		fmt.Fprintf(&b, "Result: %s (|offset| %.3f s >= sync threshold %.3f s; compare mode, clock not changed)\n", r.Outcome, abs, r.SyncThresholdSeconds)
	case clocksync.OutcomeSyncSkippedDry:
		fmt.Fprintf(&b, "Result: %s (dry run enabled; system clock was not changed)\n", r.Outcome)
	case clocksync.OutcomeSyncPerformed:
		fmt.Fprintf(&b, "Result: %s (system UTC set to %s)\n", r.Outcome, r.AppliedUTC)
	case clocksync.OutcomeSyncFailed:
		fmt.Fprintf(&b, "Result: %s (%s)\n", r.Outcome, r.Error)
	default:
		fmt.Fprintf(&b, "Result: %s\n", r.Outcome)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
