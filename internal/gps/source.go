package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

const (
	SourceSerial = "serial"
	SourceGPSD   = "gpsd"
	SourceFile   = "file"

	// DeviceAuto asks OpenSerial to probe the usual USB receiver nodes.
	DeviceAuto = "auto"

	defaultBaud        = 9600
	defaultReadTimeout = 3 * time.Second

	// NMEA sentences are at most 82 chars; allow headroom for chatter.
	maxLineBytes = 4096

	// maxFastIdle consecutive idle reads that return well before the read
	// timeout mean the device went away (a hung-up tty keeps returning 0
	// bytes immediately).
	maxFastIdle = 5
)

var errDeviceHangup = errors.New("device hung up: repeated empty reads before the read timeout")

// Config selects and parameterizes the transport that feeds Acquire.
//
// Device is the serial device path (or "auto"), the gpsd host:port, or the
// path of a captured NMEA log, depending on Source.
type Config struct {
	Source      string
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Stream is an open transport. It must be closed by the caller.
type Stream struct {
	source string
	device string

	rc io.Closer
	lr *lineReader

	// beforeRead arms a per-line deadline where the transport supports one.
	beforeRead func() error
}

// Open opens the transport described by cfg.
func Open(ctx context.Context, cfg Config) (*Stream, error) {
	src := strings.ToLower(strings.TrimSpace(cfg.Source))
	if src == "" {
		src = SourceSerial
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	switch src {
	case SourceSerial:
		return openSerialStream(cfg.Device, cfg.Baud, timeout)
	case SourceGPSD:
		return openGPSDStream(ctx, cfg.Device, timeout)
	case SourceFile:
		return openFileStream(cfg.Device)
	default:
		return nil, fmt.Errorf("unknown gps source %q", cfg.Source)
	}
}

func openSerialStream(device string, baud int, timeout time.Duration) (*Stream, error) {
	device = strings.TrimSpace(device)
	if device == "" || strings.EqualFold(device, DeviceAuto) {
		device = autoDetectDevice()
		if device == "" {
			return nil, &TransportError{Op: "open", Err: errors.New("auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")}
		}
	}
	if baud == 0 {
		baud = defaultBaud
	}

	port, err := openSerial(device, baud, timeout)
	if err != nil {
		return nil, &TransportError{Op: "open", Device: device, Err: err}
	}
	log.Printf("gps serial opened device=%s baud=%d timeout=%s", device, baud, timeout)
	lr := newLineReader(port, isStreamIdle)
	lr.minIdle = timeout / 2
	return &Stream{
		source: SourceSerial,
		device: device,
		rc:     port,
		lr:     lr,
	}, nil
}

func openFileStream(path string) (*Stream, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, &TransportError{Op: "open", Err: errors.New("nmea log path is empty")}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &TransportError{Op: "open", Device: path, Err: err}
	}
	log.Printf("gps replaying nmea log path=%s", path)
	return &Stream{
		source: SourceFile,
		device: path,
		rc:     f,
		lr:     newLineReader(f, isStreamIdle),
	}, nil
}

// ReadLine returns the next line without its terminator. On a read timeout
// (or the end of a replayed log) it returns the partial line and nil.
func (s *Stream) ReadLine() (string, error) {
	if s == nil || s.lr == nil {
		return "", &TransportError{Op: "read", Err: errors.New("stream is closed")}
	}
	if s.beforeRead != nil {
		if err := s.beforeRead(); err != nil {
			return "", &TransportError{Op: "read", Device: s.device, Err: err}
		}
	}
	line, err := s.lr.readLine()
	if err != nil {
		return line, &TransportError{Op: "read", Device: s.device, Err: err}
	}
	return line, nil
}

func (s *Stream) Source() string { return s.source }
func (s *Stream) Device() string { return s.device }

func (s *Stream) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%s", s.source, s.device)
}

func (s *Stream) Close() error {
	if s == nil || s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	s.lr = nil
	return err
}

type lineReader struct {
	r      *bufio.Reader
	isIdle func(error) bool

	// minIdle, when set, is the shortest time a genuine read timeout can
	// take. Empty idle reads that return sooner count toward maxFastIdle.
	minIdle  time.Duration
	fastIdle int
	now      func() time.Time
}

func newLineReader(r io.Reader, isIdle func(error) bool) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 256), isIdle: isIdle, now: time.Now}
}

func (lr *lineReader) readLine() (string, error) {
	var b strings.Builder
	start := lr.now()
	for {
		c, err := lr.r.ReadByte()
		if err != nil {
			if lr.isIdle(err) {
				if lr.hungUp(b.Len(), start) {
					return b.String(), errDeviceHangup
				}
				return strings.TrimRight(b.String(), "\r"), nil
			}
			return b.String(), err
		}
		if c == '\n' {
			lr.fastIdle = 0
			return strings.TrimRight(b.String(), "\r"), nil
		}
		b.WriteByte(c)
		if b.Len() >= maxLineBytes {
			lr.fastIdle = 0
			return b.String(), nil
		}
	}
}

// hungUp counts empty idle reads that came back faster than minIdle.
func (lr *lineReader) hungUp(got int, start time.Time) bool {
	if lr.minIdle <= 0 {
		return false
	}
	if got > 0 || lr.now().Sub(start) >= lr.minIdle {
		lr.fastIdle = 0
		return false
	}
	lr.fastIdle++
	return lr.fastIdle >= maxFastIdle
}

// isStreamIdle treats a zero-byte read as a timeout. Raw termios with VMIN=0
// reports an expired VTIME as EOF, and some serial drivers return (0, nil)
// until bufio gives up with ErrNoProgress.
func isStreamIdle(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrNoProgress)
}

func autoDetectDevice() string {
	// Keep it intentionally tiny and predictable.
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
