//go:build !linux && !darwin && !windows

package gps

import (
	"fmt"
	"io"
	"time"
)

func openSerial(path string, baud int, timeout time.Duration) (io.ReadCloser, error) {
	return nil, fmt.Errorf("gps serial not supported on this platform")
}
