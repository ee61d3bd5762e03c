package gps

import (
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// VerifyChecksum checks the trailing *hh checksum of a sentence. A sentence
// without a checksum fails.
func VerifyChecksum(line string) error {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return &Rejection{Reason: RejectNotASentence}
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return reject(RejectChecksumMismatch, "missing checksum")
	}
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return reject(RejectChecksumMismatch, "short checksum")
	}
	want := strings.ToUpper(ck[:2])
	got := nmea.Checksum(line[1:star])
	if got != want {
		return reject(RejectChecksumMismatch, "got %s want %s", got, want)
	}
	return nil
}

// Fix is the receiver position carried by the accepted RMC sentence.
type Fix struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
}

// DecodeFix extracts the position from an RMC sentence. It needs a valid
// checksum; ok is false for anything go-nmea does not accept as RMC.
func DecodeFix(line string) (Fix, bool) {
	s, err := nmea.Parse(strings.TrimSpace(line))
	if err != nil {
		return Fix{}, false
	}
	if s.DataType() != nmea.TypeRMC {
		return Fix{}, false
	}
	rmc, ok := s.(nmea.RMC)
	if !ok {
		return Fix{}, false
	}
	if rmc.Validity != nmea.ValidRMC {
		return Fix{}, false
	}
	return Fix{LatDeg: rmc.Latitude, LonDeg: rmc.Longitude}, true
}
