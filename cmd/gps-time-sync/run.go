package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/capture"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/clocksync"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/config"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/gps"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/report"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/udp"
)

type lineStream interface {
	gps.LineSource
	Close() error
}

// deps are the collaborators run talks to; tests swap them out.
type deps struct {
	open   func(ctx context.Context, cfg gps.Config) (lineStream, error)
	clock  clocksync.Clock
	setter clocksync.Setter
	sinks  func(cfg config.ReportConfig) *report.Publisher
	runID  func() string
	stdout io.Writer
}

func defaultDeps(stdout io.Writer) deps {
	return deps{
		open: func(ctx context.Context, cfg gps.Config) (lineStream, error) {
			s, err := gps.Open(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		clock:  clocksync.RealClock{},
		setter: clocksync.SystemSetter{},
		sinks:  openSinks,
		runID:  report.NewRunID,
		stdout: stdout,
	}
}

// run performs one acquire, decide, act and report cycle and returns the
// process exit code.
func run(ctx context.Context, cfg config.Config, d deps) int {
	mode, err := clocksync.ParseMode(cfg.Sync.Mode)
	if err != nil {
		log.Printf("%v", err)
		return exitUsage
	}
	opts := clocksync.Options{
		Mode: mode,
		Thresholds: clocksync.Thresholds{
			Warn: clocksync.Seconds(cfg.Sync.WarnThreshold),
			Sync: clocksync.Seconds(cfg.Sync.SyncThreshold),
		},
		DryRun: cfg.Sync.DryRun,
	}
	runID := d.runID()
	log.Printf("gps-time-sync starting run=%s mode=%s dry_run=%t warn=%.3fs sync=%.3fs",
		runID, mode, opts.DryRun, cfg.Sync.WarnThreshold, cfg.Sync.SyncThreshold)

	pub := d.sinks(cfg.Report)
	defer func() {
		if err := pub.Close(); err != nil {
			log.Printf("report sinks close: %v", err)
		}
	}()

	acq, err := acquire(ctx, cfg.GPS, runID, d.open)
	switch {
	case errors.Is(err, gps.ErrNoFix):
		log.Printf("gps no fix after %d reads (%s)", acq.Attempts, summarizeRejections(acq.Rejections))
		r := report.NoFix(runID, opts, acq)
		if werr := report.WriteText(d.stdout, r); werr != nil {
			log.Printf("report write: %v", werr)
		}
		_ = pub.Publish(r)
		return exitOK
	case err != nil:
		log.Printf("gps acquisition failed: %v", err)
		return exitFailure
	}

	res, execErr := clocksync.Execute(acq.Timestamp, d.clock, d.setter, opts)
	r := report.FromCycle(runID, opts, acq, res, execErr)
	if werr := report.WriteText(d.stdout, r); werr != nil {
		log.Printf("report write: %v", werr)
	}
	_ = pub.Publish(r)

	if execErr != nil {
		log.Printf("clock set failed: %v", execErr)
		return exitFailure
	}
	return exitOK
}

// acquire opens the transport, reads until a fix or the budget runs out, and
// releases the transport before returning.
func acquire(ctx context.Context, cfg config.GPSConfig, runID string, open func(context.Context, gps.Config) (lineStream, error)) (gps.AcquireResult, error) {
	stream, err := open(ctx, gps.Config{
		Source:      cfg.Source,
		Device:      cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return gps.AcquireResult{}, err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Printf("gps close: %v", err)
		}
	}()

	var src gps.LineSource = stream
	if cfg.Capture != "" {
		w, err := capture.CreateWriter(cfg.Capture, runID, time.Now())
		if err != nil {
			log.Printf("gps capture disabled path=%s: %v", cfg.Capture, err)
		} else {
			defer func() {
				if err := w.Close(); err != nil {
					log.Printf("gps capture close: %v", err)
					return
				}
				log.Printf("gps capture wrote %d lines to %s", w.Lines(), cfg.Capture)
			}()
			src = capture.Tap(stream, w, func(err error) {
				log.Printf("gps capture write failed, recording stopped: %v", err)
			})
		}
	}

	return gps.Acquire(ctx, src, gps.AcquireOptions{
		MaxAttempts:     cfg.MaxAttempts,
		RequireChecksum: cfg.RequireChecksum,
	})
}

func openSinks(cfg config.ReportConfig) *report.Publisher {
	pub := &report.Publisher{}
	if cfg.UDPDest != "" {
		b, err := udp.NewBroadcaster(cfg.UDPDest)
		if err != nil {
			log.Printf("report udp sink disabled dest=%s: %v", cfg.UDPDest, err)
		} else {
			pub.Add("udp", b)
		}
	}
	if cfg.MQTTBroker != "" {
		s, err := report.NewMQTTSink(report.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
		})
		if err != nil {
			log.Printf("report mqtt sink disabled: %v", err)
		} else {
			pub.Add("mqtt", s)
		}
	}
	return pub
}

func summarizeRejections(counts map[gps.RejectReason]int) string {
	if len(counts) == 0 {
		return "no lines"
	}
	parts := make([]string, 0, len(counts))
	for reason, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
