// Package twamp implements TWAMP Light (RFC 5357, unauthenticated mode):
// wire codec for test packets, a stateless responder, a paced sender with
// per-direction statistics, and a registry for long-running sessions.
package twamp

import (
	"encoding/binary"
	"time"
)

// ntpEpochOffset is the difference between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01) in seconds.
const ntpEpochOffset = 2208988800

// Timestamp is an NTP 64-bit timestamp: seconds since 1900-01-01 plus a
// 32-bit binary fraction of a second.
type Timestamp struct {
	Seconds  uint32
	Fraction uint32
}

// Now captures the current wall-clock time.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to NTP format.
func FromTime(t time.Time) Timestamp {
	sec := t.Unix()
	nsec := int64(t.Nanosecond())
	return Timestamp{
		Seconds:  uint32(sec + ntpEpochOffset),
		Fraction: uint32((nsec << 32) / int64(time.Second)),
	}
}

// Time converts the timestamp back to a time.Time.
func (ts Timestamp) Time() time.Time {
	sec := int64(ts.Seconds) - ntpEpochOffset
	nsec := (int64(ts.Fraction) * int64(time.Second)) >> 32
	return time.Unix(sec, nsec)
}

// Sub returns ts − other as a signed duration. Negative results are
// expected between unsynchronized clocks.
func (ts Timestamp) Sub(other Timestamp) time.Duration {
	secs := int64(ts.Seconds) - int64(other.Seconds)
	frac := int64(ts.Fraction) - int64(other.Fraction)
	return time.Duration(secs)*time.Second + time.Duration((frac*int64(time.Second))>>32)
}

// put encodes the timestamp into 8 bytes of network byte order.
func (ts Timestamp) put(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], ts.Seconds)
	binary.BigEndian.PutUint32(b[4:8], ts.Fraction)
}

// timestampFrom decodes 8 bytes of network byte order.
func timestampFrom(b []byte) Timestamp {
	return Timestamp{
		Seconds:  binary.BigEndian.Uint32(b[0:4]),
		Fraction: binary.BigEndian.Uint32(b[4:8]),
	}
}
