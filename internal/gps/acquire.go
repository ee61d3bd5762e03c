package gps

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// DefaultMaxAttempts bounds how many lines Acquire reads before giving up.
const DefaultMaxAttempts = 200

// ErrNoFix is returned by Acquire when the attempt budget ran out without a
// fix-valid RMC sentence. It is not a transport failure.
var ErrNoFix = errors.New("no valid RMC UTC sentence received")

// LineSource yields one line of receiver output per call. A read that times
// out returns whatever arrived (possibly "") and a nil error; a non-nil error
// means the transport itself failed.
type LineSource interface {
	ReadLine() (string, error)
}

type AcquireOptions struct {
	MaxAttempts     int
	RequireChecksum bool

	// Waiting is called at most once per Acquire call, on the first RMC
	// sentence that reports no fix. Defaults to a log line.
	Waiting func(line string)
}

type AcquireResult struct {
	Timestamp Timestamp
	// Sentence is the accepted line as read (whitespace trimmed).
	Sentence   string
	Attempts   int
	Rejections map[RejectReason]int
}

// Acquire reads lines from src until one parses as a fix-valid RMC sentence
// or the attempt budget is used up.
//
// Parse rejections never leave this function. The returned error is ErrNoFix,
// a *TransportError, or the context error.
func Acquire(ctx context.Context, src LineSource, opts AcquireOptions) (AcquireResult, error) {
	if src == nil {
		return AcquireResult{}, fmt.Errorf("line source is nil")
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	waiting := opts.Waiting
	if waiting == nil {
		waiting = func(string) { log.Printf("gps RMC not valid yet (waiting for GPS fix)...") }
	}

	res := AcquireResult{Rejections: map[RejectReason]int{}}
	warnedNotValid := false

	for res.Attempts < maxAttempts {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}

		raw, err := src.ReadLine()
		res.Attempts++
		if err != nil {
			var te *TransportError
			if errors.As(err, &te) {
				return res, err
			}
			return res, &TransportError{Op: "read", Err: err}
		}

		line := strings.TrimSpace(raw)
		ts, perr := ParseRMC(line)
		if perr == nil && opts.RequireChecksum {
			perr = VerifyChecksum(line)
		}
		if perr == nil {
			res.Timestamp = ts
			res.Sentence = line
			return res, nil
		}

		reason := ReasonOf(perr)
		res.Rejections[reason]++
		if reason == RejectNotYetValid && !warnedNotValid {
			warnedNotValid = true
			waiting(line)
		}
	}
	return res, ErrNoFix
}

// TransportError wraps a failure of the underlying device or connection.
type TransportError struct {
	Op     string
	Device string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("gps %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gps %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
