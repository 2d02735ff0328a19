package forwarding

import (
	"context"
	"errors"
	"testing"
)

func newTestEngine(t *testing.T, fb *fakeBinding) *Engine {
	t.Helper()
	var rec *Reconciler
	if fb != nil {
		rec = NewReconciler(fb)
	}
	return NewEngine(NewTable(), NewStore(t.TempDir()), rec)
}

func s1Params() RuleParams {
	return RuleParams{
		Name: "r1", InInterface: "eth0", OutInterface: "eth1",
		SVlan: VlanID(100), CVlan: VlanID(10), PopTags: 1, PushCVlan: VlanID(11),
	}
}

// loadPersisted reloads the engine's snapshot through a fresh table, so
// tests can compare live and persisted state.
func persistedRules(t *testing.T, e *Engine) []*Rule {
	t.Helper()
	rules, err := e.store.Load()
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return rules
}

func TestEngineLifecycle(t *testing.T) {
	fb := newFakeBinding(map[string]uint32{"eth0": 2, "eth1": 3})
	e := newTestEngine(t, fb)
	ctx := context.Background()

	rule, err := e.CreateRule(ctx, s1Params())
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if rule.Active {
		t.Error("new rule is active, want inactive by default")
	}

	// Disk and memory agree after every mutation.
	if got := persistedRules(t, e); len(got) != 1 || got[0].Name != "r1" || got[0].Active {
		t.Fatalf("persisted after create = %+v", got)
	}

	if err := e.EnableRule(ctx, "r1"); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}
	if got := persistedRules(t, e); len(got) != 1 || !got[0].Active {
		t.Fatalf("persisted after enable = %+v", got)
	}
	if len(fb.maps[2]) != 1 || len(fb.maps[3]) != 1 {
		t.Fatalf("kernel maps = %v, want one entry per interface", fb.maps)
	}

	// S4: delete while active is a state violation.
	if err := e.DeleteRule(ctx, "r1"); !errors.Is(err, ErrStateViolation) {
		t.Fatalf("DeleteRule active = %v, want ErrStateViolation", err)
	}

	if err := e.DisableRule(ctx, "r1"); err != nil {
		t.Fatalf("DisableRule: %v", err)
	}
	if err := e.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}

	if got := persistedRules(t, e); len(got) != 0 {
		t.Fatalf("persisted after delete = %+v, want empty", got)
	}
	if len(e.List()) != 0 {
		t.Fatalf("table after delete = %v, want empty", e.List())
	}
	if len(fb.attached) != 0 || len(fb.maps) != 0 {
		t.Fatalf("kernel state after delete: attached=%v maps=%v, want empty", fb.attached, fb.maps)
	}
}

func TestEngineConflictLeavesStateUntouched(t *testing.T) {
	fb := newFakeBinding(map[string]uint32{"eth0": 2, "eth1": 3, "eth2": 4})
	e := newTestEngine(t, fb)
	ctx := context.Background()

	if _, err := e.CreateRule(ctx, s1Params()); err != nil {
		t.Fatalf("CreateRule r1: %v", err)
	}
	if err := e.EnableRule(ctx, "r1"); err != nil {
		t.Fatalf("EnableRule r1: %v", err)
	}

	// r2 projects the same ingress key as r1.
	p2 := s1Params()
	p2.Name = "r2"
	p2.OutInterface = "eth2"
	if _, err := e.CreateRule(ctx, p2); err != nil {
		t.Fatalf("CreateRule r2: %v", err)
	}

	err := e.EnableRule(ctx, "r2")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("EnableRule r2 = %v, want ConflictError", err)
	}
	if conflict.Existing != "r1" || conflict.Proposed != "r2" {
		t.Errorf("conflict = %q/%q, want r1/r2", conflict.Existing, conflict.Proposed)
	}

	res, _ := e.Show("r2")
	if res.Rules[0].Active {
		t.Error("r2 became active despite the conflict")
	}
	for _, r := range persistedRules(t, e) {
		if r.Name == "r2" && r.Active {
			t.Error("conflicting rule persisted as active")
		}
	}
}

func TestEngineKernelFailureRollsBack(t *testing.T) {
	fb := newFakeBinding(map[string]uint32{"eth0": 2, "eth1": 3})
	e := newTestEngine(t, fb)
	ctx := context.Background()

	if _, err := e.CreateRule(ctx, s1Params()); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	fb.failOp = "map_put"
	err := e.EnableRule(ctx, "r1")
	if !errors.Is(err, ErrKernel) {
		t.Fatalf("EnableRule = %v, want ErrKernel", err)
	}

	// Memory and disk both show the pre-mutation state.
	res, _ := e.Show("r1")
	if res.Rules[0].Active {
		t.Error("rule active in memory after kernel failure")
	}
	for _, r := range persistedRules(t, e) {
		if r.Active {
			t.Error("rule active on disk after kernel failure")
		}
	}
	if _, ok := e.table.Get("egress-r1"); ok {
		t.Error("inverse survived the rollback")
	}
}

func TestEngineStartupRestoresKernelState(t *testing.T) {
	fb := newFakeBinding(map[string]uint32{"eth0": 2, "eth1": 3})
	store := NewStore(t.TempDir())

	// First engine: create and enable, then simulate a daemon restart by
	// wiping the fake kernel state.
	e1 := NewEngine(NewTable(), store, NewReconciler(fb))
	ctx := context.Background()
	if _, err := e1.CreateRule(ctx, s1Params()); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := e1.EnableRule(ctx, "r1"); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}

	fb.attached = map[uint32]bool{}
	fb.maps = map[uint32]map[[16]byte][]byte{}

	e2 := NewEngine(NewTable(), store, NewReconciler(fb))
	if err := e2.Startup(ctx); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	if !fb.attached[2] || !fb.attached[3] {
		t.Errorf("startup did not re-attach: %v", fb.attached)
	}
	if len(fb.maps[2]) != 1 || len(fb.maps[3]) != 1 {
		t.Errorf("startup did not reinstall entries: %v", fb.maps)
	}
}

func TestEngineStartupMissingInterface(t *testing.T) {
	// S3: persisted-active rule whose interface is gone at boot stays
	// persisted and is reported as not applied.
	fb := newFakeBinding(map[string]uint32{"eth0": 2, "eth1": 3})
	store := NewStore(t.TempDir())
	ctx := context.Background()

	e1 := NewEngine(NewTable(), store, NewReconciler(fb))
	if _, err := e1.CreateRule(ctx, s1Params()); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := e1.EnableRule(ctx, "r1"); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}

	// Restart with eth0 missing.
	fb2 := newFakeBinding(map[string]uint32{"eth1": 3})
	e2 := NewEngine(NewTable(), store, NewReconciler(fb2))
	if err := e2.Startup(ctx); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	res, err := e2.Show("")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if _, ok := res.NotApplied["r1"]; !ok {
		t.Errorf("NotApplied = %v, want r1", res.NotApplied)
	}

	// The rule is still persisted and still marked active.
	for _, r := range persistedRules(t, e2) {
		if r.Name == "r1" && !r.Active {
			t.Error("persisted rule lost its active flag")
		}
	}
}

func TestEngineShowFilter(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	if _, err := e.CreateRule(ctx, s1Params()); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := e.EnableRule(ctx, "r1"); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}

	res, err := e.Show("")
	if err != nil || len(res.Rules) != 2 {
		t.Fatalf("Show(\"\") = %v rules, err %v; want 2", len(res.Rules), err)
	}
	res, err = e.Show("egress-r1")
	if err != nil || len(res.Rules) != 1 || res.Rules[0].Name != "egress-r1" {
		t.Fatalf("Show(egress-r1) = %+v, err %v", res, err)
	}
	if _, err := e.Show("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Show(nope) = %v, want ErrNotFound", err)
	}
}
