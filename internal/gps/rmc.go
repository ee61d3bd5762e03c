package gps

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RejectReason classifies why a line did not yield a timestamp.
type RejectReason int

const (
	RejectNotASentence RejectReason = iota + 1
	RejectMalformed
	RejectWrongSentenceType
	RejectNotYetValid
	RejectInvalidCalendarValue
	RejectChecksumMismatch
)

func (r RejectReason) String() string {
	switch r {
	case RejectNotASentence:
		return "not_a_sentence"
	case RejectMalformed:
		return "malformed"
	case RejectWrongSentenceType:
		return "wrong_sentence_type"
	case RejectNotYetValid:
		return "not_yet_valid"
	case RejectInvalidCalendarValue:
		return "invalid_calendar_value"
	case RejectChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "unknown"
	}
}

// Rejection is returned by ParseRMC for every line that does not carry a
// usable UTC timestamp. It is a value, not a failure: callers are expected to
// skip the line and read the next one.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "nmea: " + r.Reason.String()
	}
	return fmt.Sprintf("nmea: %s: %s", r.Reason, r.Detail)
}

func reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the rejection reason carried by err, or 0 when err is not a
// *Rejection.
func ReasonOf(err error) RejectReason {
	var r *Rejection
	if errors.As(err, &r) && r != nil {
		return r.Reason
	}
	return 0
}

// Timestamp is a UTC instant decoded from a fix-valid RMC sentence, at
// microsecond resolution. The zero value is not a valid timestamp; the only
// way to obtain one is ParseRMC.
type Timestamp struct {
	t time.Time
}

// Time returns the timestamp as a time.Time in UTC.
func (ts Timestamp) Time() time.Time { return ts.t }

// IsZero reports whether ts was never produced by ParseRMC.
func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

func (ts Timestamp) String() string { return FormatISO(ts.t) }

// RMC field layout (NMEA 0183 v2.3):
//
//	0: talker+type
//	1: time (hhmmss[.fff...])
//	2: status (A=active, V=void)
//	9: date (ddmmyy)
const (
	rmcFieldTime   = 1
	rmcFieldStatus = 2
	rmcFieldDate   = 9
	rmcMinFields   = 10
)

// ParseRMC decodes the UTC date and time from an RMC sentence. The talker
// prefix is ignored (GPRMC, GNRMC, ...). Checksums are not inspected here; see
// VerifyChecksum.
//
// Every non-nil error is a *Rejection.
func ParseRMC(line string) (Timestamp, error) {
	if !strings.HasPrefix(line, "$") {
		return Timestamp{}, &Rejection{Reason: RejectNotASentence}
	}
	f := strings.Split(line, ",")
	if len(f) < rmcMinFields {
		return Timestamp{}, reject(RejectMalformed, "%d fields, need %d", len(f), rmcMinFields)
	}
	if id := strings.TrimPrefix(f[0], "$"); !strings.HasSuffix(id, "RMC") {
		return Timestamp{}, reject(RejectWrongSentenceType, "%s", id)
	}
	if status := f[rmcFieldStatus]; status != "A" {
		return Timestamp{}, reject(RejectNotYetValid, "status %q", status)
	}

	timeRaw := f[rmcFieldTime]
	dateRaw := f[rmcFieldDate]
	if timeRaw == "" || dateRaw == "" {
		return Timestamp{}, reject(RejectMalformed, "empty time or date")
	}

	hh, mm, ss, usec, err := parseRMCTime(timeRaw)
	if err != nil {
		return Timestamp{}, err
	}
	day, month, year, err := parseRMCDate(dateRaw)
	if err != nil {
		return Timestamp{}, err
	}

	if hh > 23 || mm > 59 || ss > 59 {
		return Timestamp{}, reject(RejectInvalidCalendarValue, "time %02d:%02d:%02d", hh, mm, ss)
	}
	if month < 1 || month > 12 || day < 1 {
		return Timestamp{}, reject(RejectInvalidCalendarValue, "date %04d-%02d-%02d", year, month, day)
	}
	t := time.Date(year, time.Month(month), day, hh, mm, ss, usec*int(time.Microsecond), time.UTC)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); a changed day means it
	// was out of range for the month.
	if t.Day() != day || int(t.Month()) != month {
		return Timestamp{}, reject(RejectInvalidCalendarValue, "date %04d-%02d-%02d", year, month, day)
	}
	return Timestamp{t: t}, nil
}

// parseRMCTime decodes hhmmss with an optional fraction. The fraction is
// right-padded to six digits and anything past the sixth digit is dropped.
func parseRMCTime(raw string) (hh, mm, ss, usec int, err error) {
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if len(whole) < 6 {
		return 0, 0, 0, 0, reject(RejectMalformed, "time %q", raw)
	}
	var ok bool
	if hh, ok = atoiDigits(whole[0:2]); !ok {
		return 0, 0, 0, 0, reject(RejectMalformed, "time %q", raw)
	}
	if mm, ok = atoiDigits(whole[2:4]); !ok {
		return 0, 0, 0, 0, reject(RejectMalformed, "time %q", raw)
	}
	if ss, ok = atoiDigits(whole[4:6]); !ok {
		return 0, 0, 0, 0, reject(RejectMalformed, "time %q", raw)
	}
	if hasFrac {
		padded := (frac + "000000")[:6]
		if usec, ok = atoiDigits(padded); !ok {
			return 0, 0, 0, 0, reject(RejectMalformed, "fraction %q", frac)
		}
	}
	return hh, mm, ss, usec, nil
}

// parseRMCDate decodes ddmmyy. Two-digit years below 80 are 20yy, the rest
// 19yy, giving a 1980..2079 window.
func parseRMCDate(raw string) (day, month, year int, err error) {
	if len(raw) < 6 {
		return 0, 0, 0, reject(RejectMalformed, "date %q", raw)
	}
	var ok bool
	if day, ok = atoiDigits(raw[0:2]); !ok {
		return 0, 0, 0, reject(RejectMalformed, "date %q", raw)
	}
	if month, ok = atoiDigits(raw[2:4]); !ok {
		return 0, 0, 0, reject(RejectMalformed, "date %q", raw)
	}
	yy, ok := atoiDigits(raw[4:6])
	if !ok {
		return 0, 0, 0, reject(RejectMalformed, "date %q", raw)
	}
	if yy < 80 {
		year = 2000 + yy
	} else {
		year = 1900 + yy
	}
	return day, month, year, nil
}

// atoiDigits parses an unsigned decimal made only of ASCII digits. Signs and
// whitespace are rejected, unlike strconv.Atoi.
func atoiDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// FormatISO renders t in UTC as ISO-8601 with a numeric offset. Microseconds
// are printed only when non-zero.
func FormatISO(t time.Time) string {
	t = t.UTC().Truncate(time.Microsecond)
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}
