package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GPS    GPSConfig    `yaml:"gps"`
	Sync   SyncConfig   `yaml:"sync"`
	Report ReportConfig `yaml:"report"`
}

type GPSConfig struct {
	// Source is "serial", "gpsd" or "file".
	Source string `yaml:"source"`
	// Port is the serial device (or "auto"), the gpsd host:port, or the
	// NMEA log path, depending on Source.
	Port            string        `yaml:"port"`
	Baud            int           `yaml:"baud"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RequireChecksum bool          `yaml:"require_checksum"`
	// Capture, when set, records every line read to this path.
	Capture string `yaml:"capture"`
}

type SyncConfig struct {
	// Mode is "compare" or "sync".
	Mode string `yaml:"mode"`
	// Thresholds in seconds.
	WarnThreshold float64 `yaml:"warn_threshold"`
	SyncThreshold float64 `yaml:"sync_threshold"`
	DryRun        bool    `yaml:"dry_run"`
}

type ReportConfig struct {
	UDPDest      string `yaml:"udp_dest"`
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTTopic    string `yaml:"mqtt_topic"`
	MQTTClientID string `yaml:"mqtt_client_id"`
}

const (
	DefaultBaud          = 9600
	DefaultReadTimeout   = 3 * time.Second
	DefaultMaxAttempts   = 200
	DefaultWarnThreshold = 0.25
	DefaultSyncThreshold = 0.5
	DefaultMQTTTopic     = "gps-time-sync/report"
	DefaultMQTTClientID  = "gps-time-sync"
)

// Default returns the configuration used when no file is given. Port is left
// empty; it is required.
func Default() Config {
	return Config{
		GPS: GPSConfig{
			Source:      "serial",
			Baud:        DefaultBaud,
			ReadTimeout: DefaultReadTimeout,
			MaxAttempts: DefaultMaxAttempts,
		},
		Sync: SyncConfig{
			Mode:          "compare",
			WarnThreshold: DefaultWarnThreshold,
			SyncThreshold: DefaultSyncThreshold,
		},
		Report: ReportConfig{
			MQTTTopic:    DefaultMQTTTopic,
			MQTTClientID: DefaultMQTTClientID,
		},
	}
}

// Load reads a YAML config file on top of Default. Unknown fields are
// rejected. The result is not validated; call Validate once command-line
// overrides have been applied.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", unknownFieldDetail(err))
		}
		return Config{}, err
	}
	return cfg, nil
}

// unknownFieldDetail trims yaml.v3's "yaml: unmarshal errors:\n  line N: "
// prefix so messages read like the other validation errors.
func unknownFieldDetail(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": field "); i != -1 {
		return strings.TrimSpace(msg[i+2:])
	}
	return msg
}

// Validate fills zero-valued defaults and checks ranges.
func (cfg *Config) Validate() error {
	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = "serial"
	}
	switch cfg.GPS.Source {
	case "serial", "gpsd", "file":
	default:
		return fmt.Errorf("gps.source must be one of serial, gpsd, file")
	}

	cfg.GPS.Port = strings.TrimSpace(cfg.GPS.Port)
	if cfg.GPS.Port == "" {
		return fmt.Errorf("gps.port is required")
	}
	cfg.GPS.Capture = strings.TrimSpace(cfg.GPS.Capture)
	if cfg.GPS.Source == "file" && cfg.GPS.Capture != "" && samePath(cfg.GPS.Capture, cfg.GPS.Port) {
		return fmt.Errorf("gps.capture must differ from gps.port")
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = DefaultBaud
	}
	if cfg.GPS.Baud < 0 {
		return fmt.Errorf("gps.baud must be > 0")
	}
	if cfg.GPS.ReadTimeout == 0 {
		cfg.GPS.ReadTimeout = DefaultReadTimeout
	}
	if cfg.GPS.ReadTimeout < 0 {
		return fmt.Errorf("gps.read_timeout must be > 0")
	}
	if cfg.GPS.MaxAttempts == 0 {
		cfg.GPS.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.GPS.MaxAttempts < 0 {
		return fmt.Errorf("gps.max_attempts must be > 0")
	}

	cfg.Sync.Mode = strings.TrimSpace(cfg.Sync.Mode)
	if cfg.Sync.Mode == "" {
		cfg.Sync.Mode = "compare"
	}
	if cfg.Sync.Mode != "compare" && cfg.Sync.Mode != "sync" {
		return fmt.Errorf("sync.mode must be 'compare' or 'sync'")
	}
	// warn_threshold > sync_threshold is allowed.
	if err := CheckSeconds("sync.warn_threshold", cfg.Sync.WarnThreshold); err != nil {
		return err
	}
	if cfg.Sync.WarnThreshold < 0 {
		return fmt.Errorf("sync.warn_threshold must be >= 0")
	}
	if err := CheckSeconds("sync.sync_threshold", cfg.Sync.SyncThreshold); err != nil {
		return err
	}
	if cfg.Sync.SyncThreshold < 0 {
		return fmt.Errorf("sync.sync_threshold must be >= 0")
	}

	cfg.Report.UDPDest = strings.TrimSpace(cfg.Report.UDPDest)
	cfg.Report.MQTTBroker = strings.TrimSpace(cfg.Report.MQTTBroker)
	if cfg.Report.MQTTBroker != "" {
		if strings.TrimSpace(cfg.Report.MQTTTopic) == "" {
			return fmt.Errorf("report.mqtt_topic is required when report.mqtt_broker is set")
		}
		if strings.TrimSpace(cfg.Report.MQTTClientID) == "" {
			cfg.Report.MQTTClientID = DefaultMQTTClientID
		}
	}
	return nil
}

// samePath reports whether a and b name the same file: equal once absolute
// and cleaned, or the same file on disk when both exist (symlinks, hard links).
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

// MaxSeconds is the largest whole number of seconds a time.Duration holds.
const MaxSeconds = math.MaxInt64 / int64(time.Second)

// CheckSeconds rejects values given in seconds that cannot become a
// time.Duration: NaN, infinities and magnitudes past MaxSeconds.
func CheckSeconds(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a finite number of seconds", name)
	}
	if math.Abs(v) > float64(MaxSeconds) {
		return fmt.Errorf("%s must be at most %d seconds", name, MaxSeconds)
	}
	return nil
}
