package twamp

import (
	"bytes"
	"testing"
)

func TestSenderPacketRoundTrip(t *testing.T) {
	p := SenderPacket{
		Seq:           42,
		Timestamp:     Timestamp{Seconds: 123456, Fraction: 789},
		ErrorEstimate: 0x8001,
		Padding:       bytes.Repeat([]byte{0xaa}, 32),
	}
	b, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(b) != SenderPacketMinSize+32 {
		t.Fatalf("marshaled size = %d, want %d", len(b), SenderPacketMinSize+32)
	}

	got, err := ParseSenderPacket(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Seq != p.Seq || got.Timestamp != p.Timestamp || got.ErrorEstimate != p.ErrorEstimate {
		t.Errorf("round trip = %+v, want %+v", got, p)
	}
	if !bytes.Equal(got.Padding, p.Padding) {
		t.Error("padding lost in round trip")
	}
}

func TestSenderPacketTooShort(t *testing.T) {
	if _, err := ParseSenderPacket(make([]byte, 13)); err == nil {
		t.Fatal("accepted a 13-byte sender packet")
	}
}

func TestSenderPacketPaddingCap(t *testing.T) {
	p := SenderPacket{Padding: make([]byte, MaxPadding+1)}
	if _, err := p.Marshal(); err == nil {
		t.Fatal("accepted padding over 9000 bytes")
	}
}

func TestReflectorPacketRoundTrip(t *testing.T) {
	p := ReflectorPacket{
		Seq:                 7,
		TxTimestamp:         Timestamp{Seconds: 100, Fraction: 200},
		ErrorEstimate:       0x0001,
		RxTimestamp:         Timestamp{Seconds: 99, Fraction: 150},
		SenderSeq:           6,
		SenderTimestamp:     Timestamp{Seconds: 98, Fraction: 50},
		SenderErrorEstimate: 0x8002,
		SenderTTL:           63,
	}
	b, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(b) != ReflectorPacketMinSize {
		t.Fatalf("marshaled size = %d, want %d", len(b), ReflectorPacketMinSize)
	}

	got, err := ParseReflectorPacket(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// All sender fields survive the reflection unchanged.
	if got.SenderSeq != p.SenderSeq || got.SenderTimestamp != p.SenderTimestamp ||
		got.SenderErrorEstimate != p.SenderErrorEstimate || got.SenderTTL != p.SenderTTL {
		t.Errorf("sender fields = %+v, want %+v", got, p)
	}
	if got.Seq != p.Seq || got.TxTimestamp != p.TxTimestamp || got.RxTimestamp != p.RxTimestamp {
		t.Errorf("reflector fields = %+v, want %+v", got, p)
	}
}

func TestReflectorPacketMBZZeroFill(t *testing.T) {
	p := ReflectorPacket{Seq: 1, SenderSeq: 2, SenderTTL: 255}
	b, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// MBZ at [14:16] and [38:40].
	for _, i := range []int{14, 15, 38, 39} {
		if b[i] != 0 {
			t.Errorf("MBZ byte %d = %#x, want 0", i, b[i])
		}
	}
}

func TestReflectorPacketTooShort(t *testing.T) {
	if _, err := ParseReflectorPacket(make([]byte, ReflectorPacketMinSize-1)); err == nil {
		t.Fatal("accepted a short reflector packet")
	}
}
