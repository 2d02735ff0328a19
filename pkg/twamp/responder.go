package twamp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// unknownTTL is reported in the reflected sender-TTL field when the
// arriving packet's TTL is not available (RFC 5357 §4.2.1).
const unknownTTL = 255

// ResponderOptions configures a TWAMP Light responder.
type ResponderOptions struct {
	Address string // local address to bind, empty for any
	Port    int    // required, 1..65535
	Padding int    // extra payload bytes appended to each reflection
	TTL     int    // default 64
	TOS     int    // default 0
	DF      bool   // IPv4 don't-fragment
	IPv6    bool
}

func (o *ResponderOptions) validate() error {
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1..65535", ErrInvalidOption, o.Port)
	}
	if o.Padding < 0 || o.Padding > MaxPadding {
		return fmt.Errorf("%w: padding %d out of range 0..%d", ErrInvalidOption, o.Padding, MaxPadding)
	}
	if o.TTL == 0 {
		o.TTL = 64
	}
	if o.TTL < 1 || o.TTL > 255 {
		return fmt.Errorf("%w: ttl %d out of range 1..255", ErrInvalidOption, o.TTL)
	}
	if o.TOS < 0 || o.TOS > 255 {
		return fmt.Errorf("%w: tos %d out of range 0..255", ErrInvalidOption, o.TOS)
	}
	return nil
}

// Responder reflects TWAMP test packets with receive and transmit
// timestamps. It keeps no per-sender session state; the reflected sequence
// number is a single monotonic counter.
type Responder struct {
	opts ResponderOptions
	seq  atomic.Uint32

	// LocalAddr is populated once the socket is bound.
	LocalAddr net.Addr
	ready     chan struct{}
}

// NewResponder validates the options and builds a responder.
func NewResponder(opts ResponderOptions) (*Responder, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Responder{opts: opts, ready: make(chan struct{})}, nil
}

// Ready is closed once the responder socket is bound.
func (r *Responder) Ready() <-chan struct{} { return r.ready }

// Run binds the UDP socket and reflects packets until ctx is canceled.
func (r *Responder) Run(ctx context.Context) error {
	network := "udp4"
	if r.opts.IPv6 {
		network = "udp6"
	}
	lc := net.ListenConfig{
		Control: sockoptControl(r.opts.IPv6, r.opts.TTL, r.opts.TOS, r.opts.DF),
	}
	pc, err := lc.ListenPacket(ctx, network, net.JoinHostPort(r.opts.Address, fmt.Sprintf("%d", r.opts.Port)))
	if err != nil {
		return fmt.Errorf("%w: bind responder on port %d: %v", ErrNetwork, r.opts.Port, err)
	}
	conn := pc.(*net.UDPConn)
	defer conn.Close()

	r.LocalAddr = conn.LocalAddr()
	close(r.ready)
	slog.Info("twamp responder listening", "addr", conn.LocalAddr())

	buf := make([]byte, SenderPacketMinSize+MaxPadding+64)
	for {
		if err := ctx.Err(); err != nil {
			slog.Info("twamp responder stopped", "addr", conn.LocalAddr())
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: responder recv: %v", ErrNetwork, err)
		}
		t2 := Now()

		req, err := ParseSenderPacket(buf[:n])
		if err != nil {
			slog.Warn("twamp responder dropped malformed packet", "peer", peer, "err", err)
			continue
		}

		reply := ReflectorPacket{
			Seq:                 r.seq.Add(1) - 1,
			RxTimestamp:         t2,
			SenderSeq:           req.Seq,
			SenderTimestamp:     req.Timestamp,
			SenderErrorEstimate: req.ErrorEstimate,
			SenderTTL:           unknownTTL,
		}
		if r.opts.Padding > 0 {
			reply.Padding = make([]byte, r.opts.Padding)
		}
		reply.TxTimestamp = Now() // T3, as late as possible before the send
		out, err := reply.Marshal()
		if err != nil {
			slog.Warn("twamp responder failed to build reply", "err", err)
			continue
		}
		if _, err := conn.WriteToUDP(out, peer); err != nil {
			slog.Warn("twamp responder send failed", "peer", peer, "err", err)
		}
	}
}
