package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmark/vmark-node/pkg/forwarding"
)

var createRuleKeys = []string{
	"name", "in_interface", "svlan", "cvlan", "out_interface", "pop_tags", "push_svlan", "push_cvlan",
}

func (c *CLI) handleXDPSwitch(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: xdp-switch create-rule|delete-rule|enable-rule|disable-rule|show-forwarding ...")
	}

	switch cmd := args[0]; cmd {
	case "create-rule":
		return c.createRule(ctx, args[1:])

	case "delete-rule", "enable-rule", "disable-rule":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: xdp-switch %s <name>", cmd)
		}
		name := args[1]
		var err error
		switch cmd {
		case "delete-rule":
			err = c.engine.DeleteRule(ctx, name)
		case "enable-rule":
			err = c.engine.EnableRule(ctx, name)
		case "disable-rule":
			err = c.engine.DisableRule(ctx, name)
		}
		if err != nil {
			return "", err
		}
		switch cmd {
		case "delete-rule":
			return fmt.Sprintf("Rule %q and its egress pair deleted.", name), nil
		case "enable-rule":
			return fmt.Sprintf("Rule %q and its egress pair enabled.", name), nil
		default:
			return fmt.Sprintf("Rule %q and its egress pair disabled.", name), nil
		}

	case "show-forwarding":
		filter := ""
		if len(args) > 1 {
			filter = args[1]
		}
		return c.showForwarding(filter)

	default:
		return "", fmt.Errorf("unknown xdp-switch command %q", cmd)
	}
}

func (c *CLI) createRule(ctx context.Context, args []string) (string, error) {
	params, err := parseNamedParams(args, nil)
	if err != nil {
		return "", err
	}
	for k := range params {
		if !contains(createRuleKeys, k) {
			return "", fmt.Errorf("unknown parameter for create-rule: %s", k)
		}
	}
	var missing []string
	for _, k := range createRuleKeys {
		if _, ok := params[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing parameters for create-rule: %s", strings.Join(missing, ", "))
	}

	p := forwarding.RuleParams{
		Name:         params["name"],
		InInterface:  params["in_interface"],
		OutInterface: params["out_interface"],
	}
	if p.SVlan, err = parseVlanArg("svlan", params["svlan"]); err != nil {
		return "", err
	}
	if p.CVlan, err = parseVlanArg("cvlan", params["cvlan"]); err != nil {
		return "", err
	}
	if p.PushSVlan, err = parseVlanArg("push_svlan", params["push_svlan"]); err != nil {
		return "", err
	}
	if p.PushCVlan, err = parseVlanArg("push_cvlan", params["push_cvlan"]); err != nil {
		return "", err
	}
	if p.PopTags, err = strconv.Atoi(params["pop_tags"]); err != nil {
		return "", fmt.Errorf("invalid pop_tags %q: must be 0, 1 or 2", params["pop_tags"])
	}

	rule, err := c.engine.CreateRule(ctx, p)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Rule %q created (inactive). Enable it with 'xdp-switch enable-rule %s'.", rule.Name, rule.Name), nil
}

func (c *CLI) showForwarding(filter string) (string, error) {
	res, err := c.engine.Show(filter)
	if err != nil {
		return "", err
	}

	if filter == "json" {
		doc := struct {
			Rules []*forwarding.Rule `json:"rules"`
		}{Rules: res.Rules}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	return renderRuleTable(res.Rules, res.NotApplied), nil
}

func renderRuleTable(rules []*forwarding.Rule, notApplied map[string]string) string {
	var b strings.Builder
	sep := "+----------------+--------------+--------+--------+--------------+----------+------------+------------+--------+"
	fmt.Fprintln(&b, sep)
	fmt.Fprintf(&b, "| %-14s | %-12s | %-6s | %-6s | %-12s | %-8s | %-10s | %-10s | %-6s |\n",
		"name", "in_interface", "svlan", "cvlan", "out_interface", "pop_tags", "push_svlan", "push_cvlan", "active")
	fmt.Fprintln(&b, sep)

	if len(rules) == 0 {
		fmt.Fprintf(&b, "| %-106s |\n", "(no rules configured)")
	}
	for _, r := range rules {
		fmt.Fprintf(&b, "| %-14s | %-12s | %-6s | %-6s | %-12s | %-8d | %-10s | %-10s | %-6s |\n",
			clip(r.Name, 14), clip(r.InInterface, 12),
			fmtVlan(r.SVlan), fmtVlan(r.CVlan),
			clip(r.OutInterface, 12), r.PopTags,
			fmtVlan(r.PushSVlan), fmtVlan(r.PushCVlan),
			activeLabel(r))
	}
	fmt.Fprintln(&b, sep)

	for _, r := range rules {
		if reason, ok := notApplied[r.Name]; ok {
			fmt.Fprintf(&b, "! %s: %s (not applied)\n", r.Name, reason)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func activeLabel(r *forwarding.Rule) string {
	if r.Active {
		return "yes"
	}
	return "no"
}

func fmtVlan(v *uint16) string {
	if v == nil {
		return "null"
	}
	return strconv.Itoa(int(*v))
}

func parseVlanArg(name, val string) (*uint16, error) {
	if strings.EqualFold(val, "null") {
		return nil, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 || n > 4094 {
		return nil, fmt.Errorf("invalid %s %q: must be 1-4094 or null", name, val)
	}
	return forwarding.VlanID(uint16(n)), nil
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
