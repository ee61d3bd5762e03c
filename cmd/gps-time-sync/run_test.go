package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/clocksync"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/config"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/report"
)

const classicRMC = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"

var classicUTC = time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingSetter struct {
	calls []time.Time
	err   error
}

func (s *recordingSetter) Set(t time.Time) error {
	s.calls = append(s.calls, t)
	return s.err
}

func writeCapture(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.nmea")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\r\n")+"\r\n"), 0o644))
	return path
}

func fileConfig(path string) config.Config {
	cfg := config.Default()
	cfg.GPS.Source = "file"
	cfg.GPS.Port = path
	return cfg
}

func testDeps(clock clocksync.Clock, setter clocksync.Setter, out io.Writer) deps {
	d := defaultDeps(out)
	d.clock = clock
	d.setter = setter
	d.runID = func() string { return "run-1" }
	return d
}

func TestRun_CompareWithinThresholdsIsNoAction(t *testing.T) {
	path := writeCapture(t, "$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39", classicRMC)
	setter := &recordingSetter{}
	var out bytes.Buffer

	code := run(context.Background(), fileConfig(path), testDeps(fixedClock{classicUTC.Add(100 * time.Millisecond)}, setter, &out))

	require.Equal(t, exitOK, code)
	assert.Empty(t, setter.calls)
	text := out.String()
	assert.Contains(t, text, "NMEA: "+classicRMC)
	assert.Contains(t, text, "GPS UTC    : 1994-03-23T12:35:19+00:00")
	assert.Contains(t, text, "Offset (system - gps): +0.100 s")
	assert.NotContains(t, text, "Warning:")
	assert.Contains(t, text, "Result: no-action")
}

func TestRun_CompareBeyondSyncThresholdRecommends(t *testing.T) {
	path := writeCapture(t, classicRMC)
	setter := &recordingSetter{}
	var out bytes.Buffer

	code := run(context.Background(), fileConfig(path), testDeps(fixedClock{classicUTC.Add(-2 * time.Second)}, setter, &out))

	require.Equal(t, exitOK, code)
	assert.Empty(t, setter.calls)
	assert.Contains(t, out.String(), "Offset (system - gps): -2.000 s")
	assert.Contains(t, out.String(), "Warning:")
	assert.Contains(t, out.String(), "Result: sync-recommended")
}

func TestRun_SyncModeSetsClock(t *testing.T) {
	path := writeCapture(t, classicRMC)
	cfg := fileConfig(path)
	cfg.Sync.Mode = "sync"
	setter := &recordingSetter{}
	var out bytes.Buffer

	code := run(context.Background(), cfg, testDeps(fixedClock{classicUTC.Add(3 * time.Second)}, setter, &out))

	require.Equal(t, exitOK, code)
	require.Len(t, setter.calls, 1)
	assert.True(t, setter.calls[0].Equal(classicUTC), "set to %s", setter.calls[0])
	assert.Contains(t, out.String(), "Result: sync-performed (system UTC set to 1994-03-23T12:35:19+00:00)")
}

func TestRun_DryRunLeavesClockAlone(t *testing.T) {
	path := writeCapture(t, classicRMC)
	cfg := fileConfig(path)
	cfg.Sync.Mode = "sync"
	cfg.Sync.DryRun = true
	setter := &recordingSetter{}
	var out bytes.Buffer

	code := run(context.Background(), cfg, testDeps(fixedClock{classicUTC.Add(3 * time.Second)}, setter, &out))

	require.Equal(t, exitOK, code)
	assert.Empty(t, setter.calls)
	assert.Contains(t, out.String(), "Result: sync-skipped-dry-run")
}

func TestRun_SetterFailureExitsNonZero(t *testing.T) {
	path := writeCapture(t, classicRMC)
	cfg := fileConfig(path)
	cfg.Sync.Mode = "sync"
	setter := &recordingSetter{err: errors.New("operation not permitted")}
	var out bytes.Buffer

	code := run(context.Background(), cfg, testDeps(fixedClock{classicUTC.Add(3 * time.Second)}, setter, &out))

	assert.Equal(t, exitFailure, code)
	assert.Len(t, setter.calls, 1)
	assert.Contains(t, out.String(), "Result: sync-failed")
	assert.Contains(t, out.String(), "operation not permitted")
}

func TestRun_NoFixIsReportedNotFailed(t *testing.T) {
	void := "$GPRMC,123519,V,,,,,,,230394,,*33"
	path := writeCapture(t, void, void, void)
	cfg := fileConfig(path)
	cfg.GPS.MaxAttempts = 10
	setter := &recordingSetter{}
	var out bytes.Buffer

	code := run(context.Background(), cfg, testDeps(fixedClock{classicUTC}, setter, &out))

	assert.Equal(t, exitOK, code)
	assert.Empty(t, setter.calls)
	assert.Equal(t, "No valid RMC UTC sentence received from GPS.\n", out.String())
}

func TestRun_TransportFailureExitsNonZero(t *testing.T) {
	cfg := fileConfig(filepath.Join(t.TempDir(), "missing.nmea"))
	var out bytes.Buffer

	code := run(context.Background(), cfg, testDeps(fixedClock{classicUTC}, &recordingSetter{}, &out))

	assert.Equal(t, exitFailure, code)
	assert.Empty(t, out.String())
}

func TestRun_PublishesJSONToUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	path := writeCapture(t, classicRMC)
	cfg := fileConfig(path)
	cfg.Report.UDPDest = pc.LocalAddr().String()
	var out bytes.Buffer

	code := run(context.Background(), cfg, testDeps(fixedClock{classicUTC.Add(300 * time.Millisecond)}, &recordingSetter{}, &out))
	require.Equal(t, exitOK, code)

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	var got report.Report
	require.NoError(t, json.Unmarshal(buf[:n], &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "compare", got.Mode)
	assert.Equal(t, classicRMC, got.Sentence)
	assert.Equal(t, 1, got.Attempts)
	assert.InDelta(t, 0.3, got.OffsetSeconds, 1e-9)
	assert.True(t, got.Warn)
	assert.Equal(t, "warn-only", got.Action)
	assert.Equal(t, "no-action", got.Outcome)
	require.NotNil(t, got.Fix)
	assert.InDelta(t, 48.1173, got.Fix.LatDeg, 1e-4)
	assert.InDelta(t, 11.5167, got.Fix.LonDeg, 1e-4)
}

func TestRun_CanceledContextExitsNonZero(t *testing.T) {
	path := writeCapture(t, classicRMC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer

	code := run(ctx, fileConfig(path), testDeps(fixedClock{classicUTC}, &recordingSetter{}, &out))

	assert.Equal(t, exitFailure, code)
}

func TestOpenSinks_BadDestinationIsSkipped(t *testing.T) {
	pub := openSinks(config.ReportConfig{UDPDest: "no-port-here"})
	defer pub.Close()
	assert.Equal(t, 0, pub.Len())
}

func TestRun_CaptureRecordsSession(t *testing.T) {
	path := writeCapture(t, "$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39", classicRMC)
	cfg := fileConfig(path)
	cfg.GPS.Capture = filepath.Join(t.TempDir(), "session.nmea")
	var out bytes.Buffer

	code := run(context.Background(), cfg, testDeps(fixedClock{classicUTC}, &recordingSetter{}, &out))
	require.Equal(t, exitOK, code)

	b, err := os.ReadFile(cfg.GPS.Capture)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(b), "\r\n"), "\r\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "# gps-time-sync capture run=run-1 "))
	assert.Equal(t, classicRMC, lines[2])
}

func TestRun_LargestSyncThresholdNeverStepsClock(t *testing.T) {
	path := writeCapture(t, classicRMC)
	cfg := fileConfig(path)
	cfg.Sync.Mode = "sync"
	cfg.Sync.WarnThreshold = float64(config.MaxSeconds)
	cfg.Sync.SyncThreshold = float64(config.MaxSeconds)
	require.NoError(t, cfg.Validate())
	setter := &recordingSetter{}
	var out bytes.Buffer

	code := run(context.Background(), cfg, testDeps(fixedClock{classicUTC.Add(24 * time.Hour)}, setter, &out))

	require.Equal(t, exitOK, code)
	assert.Empty(t, setter.calls)
	assert.NotContains(t, out.String(), "Warning:")
	assert.Contains(t, out.String(), "Result: no-action")
}
