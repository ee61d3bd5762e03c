// Package capture records the raw receiver output read during acquisition so a
// session can be replayed later with the file source.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/emergencyhamnet/gps-offgrid-time-sync/internal/gps"
)

// Log format: plain NMEA text, one sentence per line, CRLF terminated like the
// receiver output. The first line is a '#' comment naming the session; the
// parser rejects it as not a sentence, so a capture replays unchanged.

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	lines  int
	closed bool
}

func CreateWriter(path, runID string, now time.Time) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 16*1024)
	if _, err := fmt.Fprintf(bw, "# gps-time-sync capture run=%s start=%s\r\n", runID, gps.FormatISO(now)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw}, nil
}

// WriteLine appends one line. Empty lines (read timeouts) are not recorded.
func (ww *Writer) WriteLine(line string) error {
	if ww.closed {
		return errors.New("capture writer is closed")
	}
	if line == "" {
		return nil
	}
	if _, err := ww.w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	ww.lines++
	return nil
}

// Lines reports how many lines were recorded.
func (ww *Writer) Lines() int { return ww.lines }

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Tap returns a LineSource that forwards every line read from src to w. A
// failed write stops recording but never fails the read.
func Tap(src gps.LineSource, w *Writer, onErr func(error)) gps.LineSource {
	return &tap{src: src, w: w, onErr: onErr}
}

type tap struct {
	src    gps.LineSource
	w      *Writer
	onErr  func(error)
	failed bool
}

func (t *tap) ReadLine() (string, error) {
	line, err := t.src.ReadLine()
	if err != nil || t.failed {
		return line, err
	}
	if werr := t.w.WriteLine(line); werr != nil {
		t.failed = true
		if t.onErr != nil {
			t.onErr(werr)
		}
	}
	return line, nil
}
