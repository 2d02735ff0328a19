package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmark/vmark-node/pkg/ifman"
	"github.com/vmark/vmark-node/pkg/twamp"
)

func (c *CLI) handleConfig(ctx context.Context, args []string) (string, error) {
	if len(args) < 2 || args[0] != "interface" {
		return "", fmt.Errorf("usage: config interface <name> create|delete|mtu|status ...")
	}
	ifname := args[1]
	if len(args) < 3 {
		return "", fmt.Errorf("usage: config interface %s create|delete|mtu|status ...", ifname)
	}

	switch action := args[2]; action {
	case "create":
		params, err := parseNamedParams(args[3:], nil)
		if err != nil {
			return "", err
		}
		sub := ifman.SubInterface{Parent: ifname}
		if v, ok := params["cvlan-id"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return "", fmt.Errorf("invalid cvlan-id %q", v)
			}
			sub.CVlanID = uint16(n)
		} else {
			return "", fmt.Errorf("create requires cvlan-id")
		}
		if v, ok := params["svlan-id"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return "", fmt.Errorf("invalid svlan-id %q", v)
			}
			sub.SVlanID = uint16(n)
		}
		if v, ok := params["mtu"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return "", fmt.Errorf("invalid mtu %q", v)
			}
			sub.MTU = n
		}
		sub.IPv4 = params["ipv4address"]

		name, err := c.ifm.CreateSubInterface(sub)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Sub-interface %s created.", name), nil

	case "delete":
		if err := c.ifm.DeleteInterface(ifname); err != nil {
			return "", err
		}
		return fmt.Sprintf("Interface %s deleted.", ifname), nil

	case "mtu":
		if len(args) != 4 {
			return "", fmt.Errorf("usage: config interface %s mtu <value>", ifname)
		}
		mtu, err := strconv.Atoi(args[3])
		if err != nil {
			return "", fmt.Errorf("invalid mtu %q", args[3])
		}
		if err := c.ifm.SetMTU(ifname, mtu); err != nil {
			return "", err
		}
		return fmt.Sprintf("MTU for %s set to %d.", ifname, mtu), nil

	case "status":
		if len(args) != 4 || (args[3] != "up" && args[3] != "down") {
			return "", fmt.Errorf("usage: config interface %s status up|down", ifname)
		}
		if err := c.ifm.SetStatus(ifname, args[3] == "up"); err != nil {
			return "", err
		}
		return fmt.Sprintf("Interface %s set %s.", ifname, args[3]), nil

	default:
		return "", fmt.Errorf("unknown interface action %q", action)
	}
}

func (c *CLI) handleShow(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: show interfaces|forwarding|twamp-sessions|log")
	}

	switch args[0] {
	case "interfaces":
		infos, err := c.ifm.List(len(args) > 1 && args[1] == "all")
		if err != nil {
			return "", err
		}
		return renderInterfaces(infos), nil

	case "forwarding":
		filter := ""
		if len(args) > 1 {
			filter = args[1]
		}
		return c.showForwarding(filter)

	case "twamp-sessions":
		return renderSessions(c.sessions.List()), nil

	case "log":
		n := 50
		if len(args) > 1 {
			if v, err := strconv.Atoi(args[1]); err == nil {
				n = v
			}
		}
		var b strings.Builder
		for _, e := range c.logBuf.Last(n) {
			fmt.Fprintf(&b, "%s [%s] %s\n", e.Time.Format("2006-01-02 15:04:05.000"), e.Level, e.Message)
		}
		if b.Len() == 0 {
			return "(log buffer empty)", nil
		}
		return strings.TrimRight(b.String(), "\n"), nil

	default:
		return "", fmt.Errorf("unknown show target %q", args[0])
	}
}

func renderInterfaces(infos []ifman.InterfaceInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %-6s %-8s %-18s %-6s %s\n", "Interface", "State", "MTU", "MAC", "VLAN", "Addresses")
	for _, i := range infos {
		vlan := "-"
		if i.VlanID != 0 {
			vlan = strconv.Itoa(i.VlanID)
		}
		fmt.Fprintf(&b, "%-18s %-6s %-8d %-18s %-6s %s\n",
			i.Name, i.OperState, i.MTU, i.MAC, vlan, strings.Join(i.Addresses, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSessions(sessions []twamp.SessionInfo) string {
	if len(sessions) == 0 {
		return "(no twamp sessions)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-24s %-8s %s\n", "Name", "Kind", "Target", "State", "Result")
	for _, s := range sessions {
		state := "done"
		if s.Running {
			state = "running"
		}
		result := "-"
		if s.Result != nil {
			result = fmt.Sprintf("tx=%d rx=%d loss=%.1f%%", s.Result.Sent, s.Result.Received, s.Result.Loss)
		}
		if s.Err != nil {
			result = "error: " + s.Err.Error()
		}
		fmt.Fprintf(&b, "%-20s %-10s %-24s %-8s %s\n", s.Name, s.Kind, s.Target, state, result)
	}
	return strings.TrimRight(b.String(), "\n")
}
