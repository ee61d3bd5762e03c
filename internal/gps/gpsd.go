package gps

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	if ctx == nil {
		return d.Dial("tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatchNMEA asks gpsd to relay the receiver's raw NMEA sentences. gpsd
// still sends its JSON banner lines first; those fail the '$' gate and are
// skipped like any other noise.
func gpsdWatchNMEA(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"nmea\":true}\n"))
	return err
}

func openGPSDStream(ctx context.Context, addr string, timeout time.Duration) (*Stream, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}
	conn, err := dialGPSD(ctx, addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Device: addr, Err: err}
	}
	if err := gpsdWatchNMEA(conn); err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "watch", Device: addr, Err: err}
	}
	log.Printf("gps enabled source=gpsd addr=%s timeout=%s", addr, timeout)

	return &Stream{
		source: SourceGPSD,
		device: addr,
		rc:     conn,
		lr:     newLineReader(conn, isNetTimeout),
		beforeRead: func() error {
			return conn.SetReadDeadline(time.Now().Add(timeout))
		},
	}, nil
}

func isNetTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
