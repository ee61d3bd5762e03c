package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/clocksync"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/gps"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

const (
	sentence     = "$GPRMC,000000,A,4807.038,N,01131.000,E,022.4,084.4,010124,003.1,W"
	testRunID    = "6f1c1f0e-3a39-4a34-9b7f-8f7f6c0e2b11"
	gpsUTCString = "2024-01-01T00:00:00+00:00"
)

var thresholds = clocksync.Thresholds{Warn: clocksync.Seconds(0.25), Sync: clocksync.Seconds(0.5)}

func cycle(t *testing.T, line string, offset time.Duration, opts clocksync.Options, setErr error) (gps.AcquireResult, clocksync.Result, error) {
	t.Helper()
	ts, err := gps.ParseRMC(line)
	require.NoError(t, err)
	acq := gps.AcquireResult{Timestamp: ts, Sentence: line, Attempts: 7}

	system := ts.Time().Add(offset)
	res, execErr := clocksync.Execute(ts, fixedClock{system}, setterFunc(func(time.Time) error { return setErr }), opts)
	return acq, res, execErr
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type setterFunc func(time.Time) error

func (f setterFunc) Set(t time.Time) error { return f(t) }

func render(t *testing.T, r Report) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, r))
	return buf.String()
}

func TestWriteText_WarnWithoutSync(t *testing.T) {
	opts := clocksync.Options{Mode: clocksync.ModeSync, Thresholds: thresholds}
	acq, res, err := cycle(t, sentence, 300*time.Millisecond, opts, nil)
	require.NoError(t, err)

	want := "NMEA: " + sentence + "\n" +
		"GPS UTC    : " + gpsUTCString + "\n" +
		"System UTC : 2024-01-01T00:00:00.300000+00:00\n" +
		"Offset (system - gps): +0.300 s\n" +
		"Warning: |offset| 0.300 s >= warn threshold 0.250 s\n" +
		"Result: no-action (|offset| 0.300 s < sync threshold 0.500 s)\n"
	assert.Equal(t, want, render(t, FromCycle(testRunID, opts, acq, res, err)))
}

func TestWriteText_SyncPerformed(t *testing.T) {
	opts := clocksync.Options{Mode: clocksync.ModeSync, Thresholds: thresholds}
	acq, res, err := cycle(t, sentence, -600*time.Millisecond, opts, nil)
	require.NoError(t, err)

	out := render(t, FromCycle(testRunID, opts, acq, res, err))
	assert.Contains(t, out, "Offset (system - gps): -0.600 s\n")
	assert.Contains(t, out, "Warning: |offset| 0.600 s >= warn threshold 0.250 s\n")
	assert.Contains(t, out, "Result: sync-performed (system UTC set to "+gpsUTCString+")\n")
}

func TestWriteText_DryRun(t *testing.T) {
	opts := clocksync.Options{Mode: clocksync.ModeSync, Thresholds: thresholds, DryRun: true}
	acq, res, err := cycle(t, sentence, 600*time.Millisecond, opts, nil)
	require.NoError(t, err)

	out := render(t, FromCycle(testRunID, opts, acq, res, err))
	assert.Contains(t, out, "Result: sync-skipped-dry-run (dry run enabled; system clock was not changed)\n")
}

func TestWriteText_CompareRecommends(t *testing.T) {
	opts := clocksync.Options{Mode: clocksync.ModeCompare, Thresholds: thresholds}
	acq, res, err := cycle(t, sentence, 2*time.Second, opts, nil)
	require.NoError(t, err)

	out := render(t, FromCycle(testRunID, opts, acq, res, err))
	assert.Contains(t, out, "Offset (system - gps): +2.000 s\n")
	assert.Contains(t, out, "Result: sync-recommended (|offset| 2.000 s >= sync threshold 0.500 s; compare mode, clock not changed)\n")
}

func TestWriteText_SyncFailedNeverClaimsSuccess(t *testing.T) {
	opts := clocksync.Options{Mode: clocksync.ModeSync, Thresholds: thresholds}
	acq, res, err := cycle(t, sentence, time.Second, opts, errors.New("operation not permitted"))
	require.ErrorIs(t, err, clocksync.ErrClockSet)

	r := FromCycle(testRunID, opts, acq, res, err)
	out := render(t, r)
	assert.NotContains(t, out, "sync-performed")
	assert.Contains(t, out, "Result: sync-failed (set system clock: operation not permitted)\n")
	assert.Equal(t, "set system clock: operation not permitted", r.Error)
}

func TestWriteText_NoWarningBelowThreshold(t *testing.T) {
	opts := clocksync.Options{Mode: clocksync.ModeCompare, Thresholds: thresholds}
	acq, res, err := cycle(t, sentence, 0, opts, nil)
	require.NoError(t, err)

	out := render(t, FromCycle(testRunID, opts, acq, res, err))
	assert.NotContains(t, out, "Warning")
	assert.Contains(t, out, "Offset (system - gps): +0.000 s\n")
	assert.Contains(t, out, "System UTC : "+gpsUTCString+"\n")
}

func TestWriteText_PositionWhenChecksummed(t *testing.T) {
	line := nmeaLine(sentence[1:])
	opts := clocksync.Options{Mode: clocksync.ModeCompare, Thresholds: thresholds}
	acq, res, err := cycle(t, line, 0, opts, nil)
	require.NoError(t, err)

	r := FromCycle(testRunID, opts, acq, res, err)
	require.NotNil(t, r.Fix)
	assert.Contains(t, render(t, r), "Position   : 48.11730, 11.51667\n")
}

func TestWriteText_NoFix(t *testing.T) {
	opts := clocksync.Options{Mode: clocksync.ModeSync, Thresholds: thresholds}
	r := NoFix(testRunID, opts, gps.AcquireResult{Attempts: 200})
	assert.Equal(t, "No valid RMC UTC sentence received from GPS.\n", render(t, r))
	assert.Equal(t, 200, r.Attempts)
}

func TestReport_JSON(t *testing.T) {
	opts := clocksync.Options{Mode: clocksync.ModeSync, Thresholds: thresholds, DryRun: true}
	acq, res, err := cycle(t, sentence, 600*time.Millisecond, opts, nil)
	require.NoError(t, err)

	b, err := json.Marshal(FromCycle(testRunID, opts, acq, res, err))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, testRunID, got["run_id"])
	assert.Equal(t, "sync", got["mode"])
	assert.Equal(t, true, got["dry_run"])
	assert.Equal(t, float64(7), got["attempts"])
	assert.Equal(t, gpsUTCString, got["gps_utc"])
	assert.InDelta(t, 0.6, got["offset_s"], 1e-9)
	assert.Equal(t, true, got["warn"])
	assert.Equal(t, "sync-required", got["action"])
	assert.Equal(t, "sync-skipped-dry-run", got["outcome"])
	assert.NotContains(t, got, "applied_utc")
	assert.NotContains(t, got, "fix")
	assert.NotContains(t, got, "error")
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
