package twamp

import (
	"testing"
	"time"
)

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Now()
	ts := FromTime(now)
	back := ts.Time()

	diff := back.Sub(now)
	if diff < 0 {
		diff = -diff
	}
	// The 32-bit fraction resolves to well under a microsecond.
	if diff > time.Microsecond {
		t.Fatalf("round trip drift %v, want < 1µs", diff)
	}
}

func TestTimestampWireFormat(t *testing.T) {
	ts := Timestamp{Seconds: 0x01020304, Fraction: 0x05060708}
	var b [8]byte
	ts.put(b[:])

	want := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if b != want {
		t.Fatalf("wire bytes = %v, want %v (network byte order)", b, want)
	}
	if got := timestampFrom(b[:]); got != ts {
		t.Fatalf("decode = %+v, want %+v", got, ts)
	}
}

func TestTimestampSub(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := FromTime(base)
	b := FromTime(base.Add(1500 * time.Millisecond))

	d := b.Sub(a)
	if d < 1499*time.Millisecond || d > 1501*time.Millisecond {
		t.Errorf("Sub = %v, want ~1.5s", d)
	}

	// Reverse order yields a signed negative duration.
	if d := a.Sub(b); d > -1499*time.Millisecond || d < -1501*time.Millisecond {
		t.Errorf("reverse Sub = %v, want ~-1.5s", d)
	}
}

func TestNTPEpochOffset(t *testing.T) {
	// 1970-01-01 in NTP seconds is exactly the epoch offset.
	ts := FromTime(time.Unix(0, 0))
	if ts.Seconds != ntpEpochOffset {
		t.Fatalf("unix epoch NTP seconds = %d, want %d", ts.Seconds, ntpEpochOffset)
	}
}
