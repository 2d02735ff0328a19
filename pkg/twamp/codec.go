package twamp

import (
	"encoding/binary"
	"fmt"
)

// Wire sizes for unauthenticated TWAMP-Test packets.
const (
	// SenderPacketMinSize is seq(4) + timestamp(8) + error estimate(2).
	SenderPacketMinSize = 14
	// ReflectorPacketMinSize is seq(4) + tx timestamp(8) + err(2) + MBZ(2) +
	// rx timestamp(8) + sender seq(4) + sender timestamp(8) + sender err(2) +
	// MBZ(2) + sender TTL(1).
	ReflectorPacketMinSize = 41
	// MaxPadding bounds the payload padding of either packet.
	MaxPadding = 9000
)

// SenderPacket is the test packet emitted by a session sender.
type SenderPacket struct {
	Seq           uint32
	Timestamp     Timestamp // T1, captured just before send
	ErrorEstimate uint16
	Padding       []byte
}

// Marshal encodes the packet in network byte order.
func (p *SenderPacket) Marshal() ([]byte, error) {
	if len(p.Padding) > MaxPadding {
		return nil, fmt.Errorf("%w: padding %d exceeds %d bytes", ErrInvalidOption, len(p.Padding), MaxPadding)
	}
	b := make([]byte, SenderPacketMinSize+len(p.Padding))
	binary.BigEndian.PutUint32(b[0:4], p.Seq)
	p.Timestamp.put(b[4:12])
	binary.BigEndian.PutUint16(b[12:14], p.ErrorEstimate)
	copy(b[SenderPacketMinSize:], p.Padding)
	return b, nil
}

// ParseSenderPacket decodes a sender test packet.
func ParseSenderPacket(b []byte) (SenderPacket, error) {
	if len(b) < SenderPacketMinSize {
		return SenderPacket{}, fmt.Errorf("sender packet too short: %d bytes, need %d", len(b), SenderPacketMinSize)
	}
	if len(b) > SenderPacketMinSize+MaxPadding {
		return SenderPacket{}, fmt.Errorf("sender packet too long: %d bytes", len(b))
	}
	p := SenderPacket{
		Seq:           binary.BigEndian.Uint32(b[0:4]),
		Timestamp:     timestampFrom(b[4:12]),
		ErrorEstimate: binary.BigEndian.Uint16(b[12:14]),
	}
	if len(b) > SenderPacketMinSize {
		p.Padding = append([]byte(nil), b[SenderPacketMinSize:]...)
	}
	return p, nil
}

// ReflectorPacket is the reflected packet built by the responder. It carries
// the responder's receive (T2) and transmit (T3) timestamps plus the echoed
// sender fields.
type ReflectorPacket struct {
	Seq                 uint32
	TxTimestamp         Timestamp // T3, captured just before the reflected send
	ErrorEstimate       uint16
	RxTimestamp         Timestamp // T2, captured on arrival
	SenderSeq           uint32
	SenderTimestamp     Timestamp // T1, echoed from the sender packet
	SenderErrorEstimate uint16
	SenderTTL           uint8
	Padding             []byte
}

// Marshal encodes the packet in network byte order with zero-filled MBZ
// fields.
func (p *ReflectorPacket) Marshal() ([]byte, error) {
	if len(p.Padding) > MaxPadding {
		return nil, fmt.Errorf("%w: padding %d exceeds %d bytes", ErrInvalidOption, len(p.Padding), MaxPadding)
	}
	b := make([]byte, ReflectorPacketMinSize+len(p.Padding))
	binary.BigEndian.PutUint32(b[0:4], p.Seq)
	p.TxTimestamp.put(b[4:12])
	binary.BigEndian.PutUint16(b[12:14], p.ErrorEstimate)
	// b[14:16] MBZ
	p.RxTimestamp.put(b[16:24])
	binary.BigEndian.PutUint32(b[24:28], p.SenderSeq)
	p.SenderTimestamp.put(b[28:36])
	binary.BigEndian.PutUint16(b[36:38], p.SenderErrorEstimate)
	// b[38:40] MBZ
	b[40] = p.SenderTTL
	copy(b[ReflectorPacketMinSize:], p.Padding)
	return b, nil
}

// ParseReflectorPacket decodes a reflected test packet.
func ParseReflectorPacket(b []byte) (ReflectorPacket, error) {
	if len(b) < ReflectorPacketMinSize {
		return ReflectorPacket{}, fmt.Errorf("reflector packet too short: %d bytes, need %d", len(b), ReflectorPacketMinSize)
	}
	if len(b) > ReflectorPacketMinSize+MaxPadding {
		return ReflectorPacket{}, fmt.Errorf("reflector packet too long: %d bytes", len(b))
	}
	p := ReflectorPacket{
		Seq:                 binary.BigEndian.Uint32(b[0:4]),
		TxTimestamp:         timestampFrom(b[4:12]),
		ErrorEstimate:       binary.BigEndian.Uint16(b[12:14]),
		RxTimestamp:         timestampFrom(b[16:24]),
		SenderSeq:           binary.BigEndian.Uint32(b[24:28]),
		SenderTimestamp:     timestampFrom(b[28:36]),
		SenderErrorEstimate: binary.BigEndian.Uint16(b[36:38]),
		SenderTTL:           b[40],
	}
	if len(b) > ReflectorPacketMinSize {
		p.Padding = append([]byte(nil), b[ReflectorPacketMinSize:]...)
	}
	return p, nil
}
