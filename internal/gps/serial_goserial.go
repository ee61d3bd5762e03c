//go:build darwin || windows

package gps

import (
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

func openSerial(path string, baud int, timeout time.Duration) (io.ReadCloser, error) {
	opts := serial.OpenOptions{
		PortName:        path,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 0,
		// go-serial wants a multiple of 100ms, at most 25.5s.
		InterCharacterTimeout: uint(interCharTimeout(timeout) / time.Millisecond),
	}
	return serial.Open(opts)
}

func interCharTimeout(timeout time.Duration) time.Duration {
	d := ((timeout + 99*time.Millisecond) / (100 * time.Millisecond)) * (100 * time.Millisecond)
	if d < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	if d > 25500*time.Millisecond {
		return 25500 * time.Millisecond
	}
	return d
}
