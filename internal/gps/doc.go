// Package gps reads UTC time from an NMEA 0183 receiver.
//
// It is intentionally small:
//   - ParseRMC turns one RMC sentence into a validated UTC Timestamp
//   - Acquire pulls lines from a transport until one parses
//   - Open provides serial, gpsd and replay-file transports
package gps
