package twamp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Sender state machine.
type State int

const (
	StateInit State = iota
	StateSending
	StateDrain
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSending:
		return "sending"
	case StateDrain:
		return "drain"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// SenderOptions configures a TWAMP Light sender run.
type SenderOptions struct {
	Destination string        // required, IPv4 or IPv6 literal
	Port        int           // required, 1..65535
	Count       int           // 1..9999, default 100
	Interval    time.Duration // 10ms..1000ms, default 100ms
	Padding     int           // 0..9000
	TTL         int           // default 64
	TOS         int           // default 0
	DF          bool          // IPv4 only
	Grace       time.Duration // drain window, default max(2*Interval, 100ms)

	ipv6 bool
}

func (o *SenderOptions) validate() error {
	addr, err := netip.ParseAddr(o.Destination)
	if err != nil {
		return fmt.Errorf("%w: destination %q is not an IP literal", ErrInvalidOption, o.Destination)
	}
	o.ipv6 = addr.Is6() && !addr.Is4In6()
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1..65535", ErrInvalidOption, o.Port)
	}
	if o.Count == 0 {
		o.Count = 100
	}
	if o.Count < 1 || o.Count > 9999 {
		return fmt.Errorf("%w: count %d out of range 1..9999", ErrInvalidOption, o.Count)
	}
	if o.Interval == 0 {
		o.Interval = 100 * time.Millisecond
	}
	if o.Interval < 10*time.Millisecond || o.Interval > time.Second {
		return fmt.Errorf("%w: interval %s out of range 10ms..1000ms", ErrInvalidOption, o.Interval)
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
	if o.Grace == 0 {
		o.Grace = 2 * o.Interval
	}
	if o.Grace < 100*time.Millisecond {
		o.Grace = 100 * time.Millisecond
	}
	return nil
}

// Summary holds min/max/avg and jitter for one delay direction.
type Summary struct {
	Min    time.Duration
	Max    time.Duration
	Avg    time.Duration
	Jitter time.Duration
}

// Result is the outcome of a sender run.
type Result struct {
	Sent     int
	Received int
	Lost     int
	Loss     float64 // percent

	Outbound  Summary
	Inbound   Summary
	RoundTrip Summary

	Duration time.Duration
	Canceled bool
}

type sample struct {
	outbound  time.Duration
	inbound   time.Duration
	roundtrip time.Duration
}

// Sender runs one TWAMP Light test session: a pacer emitting count packets
// at a fixed interval and a receiver matching reflections by sequence
// number.
type Sender struct {
	opts SenderOptions

	mu      sync.Mutex
	state   State
	sentAt  []Timestamp
	sent    []bool
	matched []bool
	samples []sample
	tx      int
}

// NewSender validates the options and builds a sender.
func NewSender(opts SenderOptions) (*Sender, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Sender{
		opts:    opts,
		sentAt:  make([]Timestamp, opts.Count),
		sent:    make([]bool, opts.Count),
		matched: make([]bool, opts.Count),
	}, nil
}

// State returns the current session state.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sender) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// connRefused reports an ICMP port-unreachable surfaced on a connected UDP
// socket. A closed responder must not abort the run (the packets count as
// lost), so these are swallowed by both the pacer and the receiver.
func connRefused(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED)
}

// Run executes the session and returns statistics. Cancellation stops the
// pacer immediately, drains reflections for up to the grace window, and
// returns partial statistics over the packets actually sent.
func (s *Sender) Run(ctx context.Context) (*Result, error) {
	network := "udp4"
	if s.opts.ipv6 {
		network = "udp6"
	}
	dialer := net.Dialer{
		Control: sockoptControl(s.opts.ipv6, s.opts.TTL, s.opts.TOS, s.opts.DF),
	}
	conn, err := dialer.DialContext(ctx, network,
		net.JoinHostPort(s.opts.Destination, fmt.Sprintf("%d", s.opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s:%d: %v", ErrNetwork, s.opts.Destination, s.opts.Port, err)
	}
	udp := conn.(*net.UDPConn)
	defer udp.Close()

	t0 := time.Now()
	stopAt := t0.Add(time.Duration(s.opts.Count)*s.opts.Interval + s.opts.Grace)

	s.setState(StateSending)

	paceDone := make(chan struct{})
	go s.pace(ctx, udp, t0, paceDone)

	canceled := s.receive(ctx, udp, stopAt, paceDone)
	<-paceDone
	s.setState(StateDone)

	return s.result(time.Since(t0), canceled), nil
}

// pace emits packets at t0 + k*interval, recording T1 immediately before
// each send. Sequence numbers are strictly increasing.
func (s *Sender) pace(ctx context.Context, conn *net.UDPConn, t0 time.Time, done chan<- struct{}) {
	defer close(done)

	var padding []byte
	if s.opts.Padding > 0 {
		padding = make([]byte, s.opts.Padding)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for k := 0; k < s.opts.Count; k++ {
		target := t0.Add(time.Duration(k) * s.opts.Interval)
		timer.Reset(time.Until(target))
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		pkt := SenderPacket{Seq: uint32(k), Padding: padding}

		s.mu.Lock()
		pkt.Timestamp = Now()
		s.sentAt[k] = pkt.Timestamp
		s.sent[k] = true
		s.tx++
		s.mu.Unlock()

		b, err := pkt.Marshal()
		if err != nil {
			slog.Error("twamp sender failed to marshal packet", "seq", k, "err", err)
			return
		}
		if _, err := conn.Write(b); err != nil {
			if connRefused(err) {
				continue
			}
			slog.Warn("twamp sender send failed", "seq", k, "err", err)
			return
		}
	}
}

// receive matches reflections by sequence number until all packets are
// matched, the drain deadline passes, or cancellation (plus grace) ends the
// run. Returns whether the run was canceled.
func (s *Sender) receive(ctx context.Context, conn *net.UDPConn, stopAt time.Time, paceDone <-chan struct{}) bool {
	buf := make([]byte, ReflectorPacketMinSize+MaxPadding+64)
	canceled := false
	deadline := stopAt
	sending := true

	for {
		if sending {
			select {
			case <-paceDone:
				sending = false
				if s.State() == StateSending {
					s.setState(StateDrain)
				}
			default:
			}
		}

		if !canceled && ctx.Err() != nil {
			canceled = true
			if d := time.Now().Add(s.opts.Grace); d.Before(deadline) {
				deadline = d
			}
			s.setState(StateDrain)
		}

		now := time.Now()
		if now.After(deadline) || s.receivedAll() {
			return canceled
		}

		next := now.Add(200 * time.Millisecond)
		if next.After(deadline) {
			next = deadline
		}
		conn.SetReadDeadline(next)

		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || connRefused(err) {
				continue
			}
			slog.Warn("twamp sender recv failed", "err", err)
			continue
		}
		t4 := Now()

		pkt, err := ParseReflectorPacket(buf[:n])
		if err != nil {
			slog.Warn("twamp sender dropped malformed reflection", "err", err)
			continue
		}
		s.record(pkt, t4)
	}
}

func (s *Sender) receivedAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples) >= s.opts.Count
}

// record matches a reflection against its sent packet and stores the
// per-direction delays.
func (s *Sender) record(pkt ReflectorPacket, t4 Timestamp) {
	seq := int(pkt.SenderSeq)

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < 0 || seq >= s.opts.Count || !s.sent[seq] {
		slog.Warn("twamp sender ignored reflection for unknown sequence", "seq", seq)
		return
	}
	if s.matched[seq] {
		slog.Warn("twamp sender ignored duplicate reflection", "seq", seq)
		return
	}
	s.matched[seq] = true

	t1 := s.sentAt[seq]
	t2 := pkt.RxTimestamp
	t3 := pkt.TxTimestamp

	sm := sample{
		outbound:  t2.Sub(t1),
		inbound:   t4.Sub(t3),
		roundtrip: t4.Sub(t1) - t3.Sub(t2),
	}
	if sm.roundtrip < 0 {
		slog.Warn("twamp sender clamped negative round-trip", "seq", seq, "roundtrip", sm.roundtrip)
		sm.roundtrip = 0
	}
	s.samples = append(s.samples, sm)
}

// result assembles the final statistics. A canceled run reports loss over
// the packets actually sent; a completed run reports it over count.
func (s *Sender) result(elapsed time.Duration, canceled bool) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	denom := s.opts.Count
	if canceled {
		denom = s.tx
	}

	res := &Result{
		Sent:     s.tx,
		Received: len(s.samples),
		Lost:     denom - len(s.samples),
		Duration: elapsed,
		Canceled: canceled,
	}
	if res.Lost < 0 {
		res.Lost = 0
	}
	if denom > 0 {
		res.Loss = float64(res.Lost) / float64(denom) * 100
	}

	ob := make([]time.Duration, len(s.samples))
	ib := make([]time.Duration, len(s.samples))
	rt := make([]time.Duration, len(s.samples))
	for i, sm := range s.samples {
		ob[i] = sm.outbound
		ib[i] = sm.inbound
		rt[i] = sm.roundtrip
	}
	res.Outbound = summarize(ob)
	res.Inbound = summarize(ib)
	res.RoundTrip = summarize(rt)
	return res
}
