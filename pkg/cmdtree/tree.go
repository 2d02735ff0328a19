// Package cmdtree defines the canonical CLI command tree for vmark-node.
//
// This is the single source of truth for tab completion, ? help, and
// command resolution in pkg/cli. When adding a command, add it here and it
// automatically appears everywhere.
package cmdtree

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Node is a completion tree node: description, static children, and an
// optional producer of dynamic values (interface names, rule names).
type Node struct {
	Desc      string
	Children  map[string]*Node
	DynamicFn func() []string
}

// Candidate holds a command name and its description for help display.
type Candidate struct {
	Name string
	Desc string
}

// Dynamic value providers, installed by the CLI at startup.
var (
	// RuleNamesFn lists the current forwarding rule names.
	RuleNamesFn func() []string
	// InterfaceNamesFn lists the system's interface names.
	InterfaceNamesFn func() []string
)

func ruleNames() []string {
	if RuleNamesFn != nil {
		return RuleNamesFn()
	}
	return nil
}

func interfaceNames() []string {
	if InterfaceNamesFn != nil {
		return InterfaceNamesFn()
	}
	return nil
}

// createRuleParams are the named parameters of xdp-switch create-rule.
// Each parameter consumes a value; any order is accepted.
var createRuleParams = map[string]*Node{
	"name":          {Desc: "Unique rule name"},
	"in_interface":  {Desc: "Ingress interface", DynamicFn: interfaceNames},
	"svlan":         {Desc: "S-VLAN match (1-4094) or null"},
	"cvlan":         {Desc: "C-VLAN match (1-4094) or null"},
	"out_interface": {Desc: "Egress interface", DynamicFn: interfaceNames},
	"pop_tags":      {Desc: "Tags to pop: 0, 1 or 2"},
	"push_svlan":    {Desc: "S-VLAN to push (1-4094) or null"},
	"push_cvlan":    {Desc: "C-VLAN to push (1-4094) or null"},
}

// twampIPOptions are shared by responder and sender commands.
func twampIPOptions() map[string]*Node {
	return map[string]*Node{
		"padding":         {Desc: "Payload padding bytes (0-9000)"},
		"ttl":             {Desc: "IP TTL / hop limit (1-255)"},
		"tos":             {Desc: "IP TOS / traffic class (0-255)"},
		"dscp":            {Desc: "DSCP name or value (overrides tos)"},
		"do-not-fragment": {Desc: "Set the IPv4 DF flag"},
		"ipv6":            {Desc: "Use IPv6"},
	}
}

// Tree is the operational command tree.
var Tree = map[string]*Node{
	"xdp-switch": {Desc: "XDP MEF switch forwarding rules", Children: map[string]*Node{
		"create-rule":  {Desc: "Create a forwarding rule (inactive by default)", Children: createRuleParams},
		"delete-rule":  {Desc: "Delete an inactive forwarding rule", DynamicFn: ruleNames},
		"enable-rule":  {Desc: "Enable a rule and its egress pair", DynamicFn: ruleNames},
		"disable-rule": {Desc: "Disable a rule and its egress pair", DynamicFn: ruleNames},
		"show-forwarding": {Desc: "Show forwarding rules", Children: map[string]*Node{
			"json":   {Desc: "JSON output"},
			"simple": {Desc: "Compact output"},
		}, DynamicFn: ruleNames},
	}},
	"twamp": {Desc: "TWAMP Light measurement sessions", Children: map[string]*Node{
		"responder": {Desc: "Run a TWAMP Light responder", Children: mergeNodes(map[string]*Node{
			"port": {Desc: "UDP port to listen on (required)"},
		}, twampIPOptions())},
		"sender": {Desc: "Run a TWAMP Light sender", Children: mergeNodes(map[string]*Node{
			"destination-ip": {Desc: "Responder IP address (required)"},
			"port":           {Desc: "Responder UDP port (required)"},
			"count":          {Desc: "Packets to send (1-9999, default 100)"},
			"interval":       {Desc: "Inter-packet gap in ms (10-1000, default 100)"},
		}, twampIPOptions())},
		"stop":       {Desc: "Stop a running session"},
		"dscp-table": {Desc: "Show the DSCP name table"},
	}},
	"config": {Desc: "Interface configuration", Children: map[string]*Node{
		"interface": {Desc: "Configure an interface", DynamicFn: interfaceNames, Children: map[string]*Node{
			"create": {Desc: "Create a VLAN/QinQ sub-interface", Children: map[string]*Node{
				"cvlan-id":    {Desc: "C-VLAN ID (required, 1-4094)"},
				"svlan-id":    {Desc: "S-VLAN ID for QinQ (1-4094)"},
				"mtu":         {Desc: "MTU (1000-10000)"},
				"ipv4address": {Desc: "IPv4 address in CIDR form"},
			}},
			"delete": {Desc: "Delete a sub-interface"},
			"mtu":    {Desc: "Set the MTU"},
			"status": {Desc: "Set admin status", Children: map[string]*Node{
				"up":   {Desc: "Bring the interface up"},
				"down": {Desc: "Take the interface down"},
			}},
		}},
	}},
	"show": {Desc: "Show system information", Children: map[string]*Node{
		"interfaces":     {Desc: "Show interfaces"},
		"forwarding":     {Desc: "Show forwarding rules"},
		"twamp-sessions": {Desc: "Show TWAMP sessions"},
		"log":            {Desc: "Show recent log entries"},
	}},
	"help": {Desc: "Show command help"},
	"quit": {Desc: "Exit the CLI"},
	"exit": {Desc: "Exit the CLI"},
}

func mergeNodes(maps ...map[string]*Node) map[string]*Node {
	out := make(map[string]*Node)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// walk consumes the typed words against the tree. A leaf node (no
// children) expects one following value word; after the value the walk
// stays at the same level, so named parameters complete in any order.
// Returns the level reached, the node whose value is still pending (nil if
// none), and the last descended node.
func walk(tree map[string]*Node, words []string) (level map[string]*Node, pending, last *Node, ok bool) {
	current := tree
	var currentNode *Node
	var pendingNode *Node

	for _, w := range words {
		if pendingNode != nil {
			// w is the value for the pending parameter.
			pendingNode = nil
			continue
		}
		node, found := current[w]
		if !found {
			// Unknown word with no pending parameter: a dynamic value of
			// the current node (e.g. a rule name) is acceptable.
			if currentNode != nil && currentNode.DynamicFn != nil {
				continue
			}
			return nil, nil, nil, false
		}
		if node.Children == nil {
			pendingNode = node
			continue
		}
		currentNode = node
		current = node.Children
	}
	return current, pendingNode, currentNode, true
}

// Complete walks the tree and returns completion candidates for the typed
// words plus partial token.
func Complete(tree map[string]*Node, words []string, partial string) []string {
	level, pending, last, ok := walk(tree, words)
	if !ok {
		return nil
	}
	if pending != nil {
		if pending.DynamicFn != nil {
			return FilterPrefix(pending.DynamicFn(), partial)
		}
		return nil // free-form value
	}

	candidates := KeysOf(level)
	if last != nil && last.DynamicFn != nil {
		candidates = append(candidates, last.DynamicFn()...)
	}
	return FilterPrefix(candidates, partial)
}

// Candidates returns name+description pairs for the children at the given
// word path, for ? help.
func Candidates(tree map[string]*Node, words []string) []Candidate {
	level, pending, last, ok := walk(tree, words)
	if !ok {
		return nil
	}
	if pending != nil {
		var out []Candidate
		if pending.DynamicFn != nil {
			for _, v := range pending.DynamicFn() {
				out = append(out, Candidate{Name: v})
			}
		}
		return out
	}

	out := make([]Candidate, 0, len(level))
	for name, node := range level {
		out = append(out, Candidate{Name: name, Desc: node.Desc})
	}
	if last != nil && last.DynamicFn != nil {
		for _, v := range last.DynamicFn() {
			out = append(out, Candidate{Name: v})
		}
	}
	return out
}

// WriteHelp renders candidates as an aligned two-column listing.
func WriteHelp(w io.Writer, candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	maxWidth := 20
	for _, c := range candidates {
		if len(c.Name)+2 > maxWidth {
			maxWidth = len(c.Name) + 2
		}
	}
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, c := range candidates {
		if c.Desc != "" {
			fmt.Fprintf(&sb, "  %-*s %s\n", maxWidth, c.Name, c.Desc)
		} else {
			fmt.Fprintf(&sb, "  %s\n", c.Name)
		}
	}
	io.WriteString(w, sb.String())
}

// KeysOf returns an unsorted list of keys from a Node map.
func KeysOf(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// FilterPrefix returns only items that start with the given prefix, sorted.
func FilterPrefix(items []string, prefix string) []string {
	var result []string
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			result = append(result, item)
		}
	}
	sort.Strings(result)
	return result
}
