package cmdtree

import (
	"reflect"
	"testing"
)

func TestCompleteTopLevel(t *testing.T) {
	got := Complete(Tree, nil, "xd")
	if !reflect.DeepEqual(got, []string{"xdp-switch"}) {
		t.Fatalf("Complete(xd) = %v, want [xdp-switch]", got)
	}
}

func TestCompleteSubcommands(t *testing.T) {
	got := Complete(Tree, []string{"xdp-switch"}, "")
	want := map[string]bool{
		"create-rule": true, "delete-rule": true, "enable-rule": true,
		"disable-rule": true, "show-forwarding": true,
	}
	if len(got) != len(want) {
		t.Fatalf("Complete(xdp-switch) = %v", got)
	}
	for _, c := range got {
		if !want[c] {
			t.Errorf("unexpected candidate %q", c)
		}
	}
}

func TestCompleteDynamicRuleNames(t *testing.T) {
	RuleNamesFn = func() []string { return []string{"r1", "r2", "egress-r1"} }
	defer func() { RuleNamesFn = nil }()

	got := Complete(Tree, []string{"xdp-switch", "enable-rule"}, "r")
	if !reflect.DeepEqual(got, []string{"r1", "r2"}) {
		t.Fatalf("Complete(enable-rule r) = %v, want [r1 r2]", got)
	}
}

func TestCompleteNamedParamsAnyOrder(t *testing.T) {
	// After consuming "name foo", the remaining parameter keys still
	// complete.
	got := Complete(Tree, []string{"xdp-switch", "create-rule", "name", "foo"}, "in")
	if !reflect.DeepEqual(got, []string{"in_interface"}) {
		t.Fatalf("Complete after name value = %v, want [in_interface]", got)
	}
}

func TestCandidatesHaveDescriptions(t *testing.T) {
	cands := Candidates(Tree, []string{"twamp"})
	if len(cands) == 0 {
		t.Fatal("no candidates under twamp")
	}
	for _, c := range cands {
		if c.Name == "sender" && c.Desc == "" {
			t.Error("sender has no description")
		}
	}
}

func TestFilterPrefix(t *testing.T) {
	got := FilterPrefix([]string{"beta", "alpha", "alpine"}, "al")
	if !reflect.DeepEqual(got, []string{"alpha", "alpine"}) {
		t.Fatalf("FilterPrefix = %v", got)
	}
}
