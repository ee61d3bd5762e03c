package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/clocksync"
	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/config"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	cfg, quiet, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		fmt.Fprintf(stderr, "gps-time-sync: %v\n", err)
		return exitUsage
	}

	if quiet {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(stderr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return run(ctx, cfg, defaultDeps(stdout))
}

// parseFlags builds the effective configuration: defaults, then the optional
// YAML file, then any flag given explicitly on the command line.
func parseFlags(args []string, stderr io.Writer) (config.Config, bool, error) {
	fs := flag.NewFlagSet("gps-time-sync", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath      string
		source          string
		port            string
		baud            int
		timeoutSec      float64
		maxAttempts     int
		requireChecksum bool
		capturePath     string
		mode            string
		warnThreshold   float64
		syncThreshold   float64
		dryRun          bool
		udpDest         string
		mqttBroker      string
		mqttTopic       string
		quiet           bool
	)
	def := config.Default()
	fs.StringVar(&configPath, "config", "", "Path to YAML config (optional)")
	fs.StringVar(&source, "source", def.GPS.Source, "GPS transport: serial, gpsd or file")
	fs.StringVar(&port, "port", "", "Serial port (e.g. /dev/ttyACM0, COM3, auto), gpsd host:port, or NMEA log path")
	fs.IntVar(&baud, "baud", def.GPS.Baud, "Baud rate")
	fs.Float64Var(&timeoutSec, "timeout", def.GPS.ReadTimeout.Seconds(), "Read timeout in seconds")
	fs.IntVar(&maxAttempts, "max-attempts", def.GPS.MaxAttempts, "Lines to read before giving up")
	fs.BoolVar(&requireChecksum, "require-checksum", false, "Reject RMC sentences without a valid *hh checksum")
	fs.StringVar(&capturePath, "capture", "", "Record the NMEA lines read to this file")
	fs.StringVar(&mode, "mode", def.Sync.Mode, "compare (report only) or sync (set the system clock)")
	fs.Float64Var(&warnThreshold, "warn-threshold", def.Sync.WarnThreshold, "Warn when |offset| reaches this many seconds")
	fs.Float64Var(&syncThreshold, "sync-threshold", def.Sync.SyncThreshold, "Sync when |offset| reaches this many seconds")
	fs.BoolVar(&dryRun, "dry-run", false, "Report the sync decision without changing the system clock")
	fs.StringVar(&udpDest, "udp-dest", "", "Send JSON reports to this UDP host:port")
	fs.StringVar(&mqttBroker, "mqtt-broker", "", "Publish JSON reports to this MQTT broker (tcp://host:1883)")
	fs.StringVar(&mqttTopic, "mqtt-topic", def.Report.MQTTTopic, "MQTT topic for reports")
	fs.BoolVar(&quiet, "quiet", false, "Suppress diagnostic logging")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, false, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, false, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := def
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, false, fmt.Errorf("config load failed: %w", err)
		}
		cfg = loaded
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.GPS.Source = source
		case "port":
			cfg.GPS.Port = port
		case "baud":
			cfg.GPS.Baud = baud
		case "timeout":
			if err := config.CheckSeconds("gps.read_timeout", timeoutSec); err != nil {
				flagErr = err
				return
			}
			cfg.GPS.ReadTimeout = clocksync.Seconds(timeoutSec)
		case "max-attempts":
			cfg.GPS.MaxAttempts = maxAttempts
		case "require-checksum":
			cfg.GPS.RequireChecksum = requireChecksum
		case "capture":
			cfg.GPS.Capture = capturePath
		case "mode":
			cfg.Sync.Mode = mode
		case "warn-threshold":
			cfg.Sync.WarnThreshold = warnThreshold
		case "sync-threshold":
			cfg.Sync.SyncThreshold = syncThreshold
		case "dry-run":
			cfg.Sync.DryRun = dryRun
		case "udp-dest":
			cfg.Report.UDPDest = udpDest
		case "mqtt-broker":
			cfg.Report.MQTTBroker = mqttBroker
		case "mqtt-topic":
			cfg.Report.MQTTTopic = mqttTopic
		}
	})

	if flagErr != nil {
		return config.Config{}, false, flagErr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, err
	}
	return cfg, quiet, nil
}
