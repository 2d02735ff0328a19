package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vmark/vmark-node/pkg/twamp"
)

var twampFlags = map[string]bool{
	"do-not-fragment": true,
	"ipv6":            true,
}

func (c *CLI) handleTwamp(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: twamp responder|sender|stop|dscp-table ...")
	}

	switch cmd := args[0]; cmd {
	case "responder":
		return c.twampResponder(ctx, args[1:])
	case "sender":
		return c.twampSender(ctx, args[1:])
	case "stop":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: twamp stop <session>")
		}
		if err := c.sessions.Stop(args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("Session %q stopped.", args[1]), nil
	case "dscp-table":
		return dscpTable(), nil
	default:
		return "", fmt.Errorf("unknown twamp command %q", cmd)
	}
}

// resolveTOS applies a dscp name/value over an explicit tos parameter.
func resolveTOS(params map[string]string) (int, error) {
	tos := 0
	if v, ok := params["tos"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 255 {
			return 0, fmt.Errorf("invalid tos %q: must be 0-255", v)
		}
		tos = n
	}
	if v, ok := params["dscp"]; ok {
		if d, ok := twamp.DSCPValue(strings.ToLower(v)); ok {
			return twamp.TOSFromDSCP(d), nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 63 {
			return 0, fmt.Errorf("invalid dscp %q: use a name from 'twamp dscp-table' or 0-63", v)
		}
		return twamp.TOSFromDSCP(n), nil
	}
	return tos, nil
}

func intParam(params map[string]string, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

// twampResponder starts a background responder session.
func (c *CLI) twampResponder(ctx context.Context, args []string) (string, error) {
	params, err := parseNamedParams(args, twampFlags)
	if err != nil {
		return "", err
	}

	port, err := intParam(params, "port", 0)
	if err != nil {
		return "", err
	}
	if port == 0 {
		return "", fmt.Errorf("responder requires a port")
	}
	opts := twamp.ResponderOptions{
		Port: port,
		DF:   params["do-not-fragment"] == "true",
		IPv6: params["ipv6"] == "true",
	}
	if opts.Padding, err = intParam(params, "padding", c.defaults.Padding); err != nil {
		return "", err
	}
	if opts.TTL, err = intParam(params, "ttl", c.defaults.TTL); err != nil {
		return "", err
	}
	if opts.TOS, err = resolveTOS(params); err != nil {
		return "", err
	}

	name := fmt.Sprintf("responder-%d", port)
	// Background context: the session must outlive this command.
	if err := c.sessions.StartResponder(context.Background(), name, opts); err != nil {
		return "", err
	}
	return fmt.Sprintf("TWAMP responder %q listening on port %d. Stop it with 'twamp stop %s'.", name, port, name), nil
}

// twampSender runs a sender session in the foreground; Ctrl-C cancels it
// and prints partial statistics.
func (c *CLI) twampSender(ctx context.Context, args []string) (string, error) {
	params, err := parseNamedParams(args, twampFlags)
	if err != nil {
		return "", err
	}

	dest, ok := params["destination-ip"]
	if !ok {
		return "", fmt.Errorf("sender requires destination-ip")
	}
	port, err := intParam(params, "port", 0)
	if err != nil {
		return "", err
	}
	if port == 0 {
		return "", fmt.Errorf("sender requires a port")
	}

	opts := twamp.SenderOptions{
		Destination: dest,
		Port:        port,
		DF:          params["do-not-fragment"] == "true",
	}
	if opts.Count, err = intParam(params, "count", c.defaults.Count); err != nil {
		return "", err
	}
	intervalMs, err := intParam(params, "interval", int(c.defaults.Interval.Std()/time.Millisecond))
	if err != nil {
		return "", err
	}
	opts.Interval = time.Duration(intervalMs) * time.Millisecond
	if opts.Padding, err = intParam(params, "padding", c.defaults.Padding); err != nil {
		return "", err
	}
	if opts.TTL, err = intParam(params, "ttl", c.defaults.TTL); err != nil {
		return "", err
	}
	if opts.TOS, err = resolveTOS(params); err != nil {
		return "", err
	}

	snd, err := twamp.NewSender(opts)
	if err != nil {
		return "", err
	}
	res, err := snd.Run(ctx)
	if err != nil {
		return "", err
	}
	return renderSenderResult(res), nil
}

func renderSenderResult(r *twamp.Result) string {
	var b strings.Builder
	fmt.Fprintln(&b, "--- TWAMP Sender Results ---")
	fmt.Fprintf(&b, "  Packets Tx/Rx:    %d / %d\n", r.Sent, r.Received)
	fmt.Fprintf(&b, "  Loss:             %.2f%%\n", r.Loss)
	if r.Canceled {
		fmt.Fprintln(&b, "  (canceled, partial results)")
	}
	writeSummary := func(label string, s twamp.Summary) {
		fmt.Fprintf(&b, "  %s\n", label)
		fmt.Fprintf(&b, "    Min/Avg/Max:    %s / %s / %s\n", fmtDelay(s.Min), fmtDelay(s.Avg), fmtDelay(s.Max))
		fmt.Fprintf(&b, "    Jitter:         %s\n", fmtDelay(s.Jitter))
	}
	writeSummary("Round Trip Time:", r.RoundTrip)
	writeSummary("Outbound Latency:", r.Outbound)
	writeSummary("Inbound Latency:", r.Inbound)
	return strings.TrimRight(b.String(), "\n")
}

func fmtDelay(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
}

func dscpTable() string {
	rows := []struct {
		name string
		val  int
	}{
		{"be", 0}, {"cs1", 8}, {"af11", 10}, {"af12", 12}, {"af13", 14},
		{"cs2", 16}, {"af21", 18}, {"af22", 20}, {"af23", 22},
		{"cs3", 24}, {"af31", 26}, {"af32", 28}, {"af33", 30},
		{"cs4", 32}, {"af41", 34}, {"af42", 36}, {"af43", 38},
		{"cs5", 40}, {"ef", 46}, {"nc1", 48}, {"nc2", 56},
	}
	var b strings.Builder
	fmt.Fprintln(&b, "DSCP Name      DSCP Value     TOS (hex)")
	fmt.Fprintln(&b, "----------------------------------------")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-14s %-14d %02X\n", r.name, r.val, twamp.TOSFromDSCP(r.val))
	}
	return strings.TrimRight(b.String(), "\n")
}
