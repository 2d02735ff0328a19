package forwarding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// RuleParams carries the named parameters of the create-rule command.
type RuleParams struct {
	Name         string
	InInterface  string
	OutInterface string
	SVlan        *uint16
	CVlan        *uint16
	PopTags      int
	PushSVlan    *uint16
	PushCVlan    *uint16
	Active       bool // new rules default to inactive
}

// ShowResult is the structured result of show-forwarding.
type ShowResult struct {
	Rules []*Rule
	// NotApplied maps rule names to the reason the reconciler could not
	// install them (typically a missing interface).
	NotApplied map[string]string
}

// Engine is the command surface over the forwarding table. Every mutation
// runs the full validate-mutate-reconcile-persist sequence under one mutex,
// so externally visible mutations are atomic and linearizable.
type Engine struct {
	mu    sync.RWMutex
	table *Table
	store *Store
	rec   *Reconciler
}

// NewEngine wires the table, snapshot store, and reconciler together.
// rec may be nil for a control-plane-only engine (tests, dry runs).
func NewEngine(table *Table, store *Store, rec *Reconciler) *Engine {
	return &Engine{table: table, store: store, rec: rec}
}

// Startup loads the persisted snapshot and reconciles leniently: rules whose
// interfaces are gone stay persisted but are reported as not applied.
func (e *Engine) Startup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.LoadInto(e.table); err != nil {
		return err
	}
	if e.rec == nil {
		return nil
	}
	if err := e.rec.Reconcile(ctx, e.table.List(), true); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	return nil
}

// mutate applies op to the table, then reconciles the kernel and commits the
// snapshot. Validation failures leave no side effects; kernel or persistence
// failures roll memory, disk, and (best effort) the kernel back to the
// pre-mutation state.
//
// The reconcile pass is lenient: rules whose interfaces disappeared since
// they were activated stay recorded as not-applied instead of blocking
// unrelated mutations. Commands that activate a rule check its own
// interfaces strictly inside op.
func (e *Engine) mutate(ctx context.Context, op func(*Table) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.table.Clone()
	if err := op(e.table); err != nil {
		e.table = prev
		return err
	}

	if e.rec != nil {
		if err := e.rec.Reconcile(ctx, e.table.List(), true); err != nil {
			e.table = prev
			if rerr := e.rec.Reconcile(context.Background(), prev.List(), true); rerr != nil {
				slog.Error("rollback reconcile failed", "err", rerr)
			}
			return err
		}
	}

	if err := e.store.Save(e.table.UserRules()); err != nil {
		e.table = prev
		if e.rec != nil {
			if rerr := e.rec.Reconcile(context.Background(), prev.List(), true); rerr != nil {
				slog.Error("rollback reconcile failed", "err", rerr)
			}
		}
		return err
	}
	return nil
}

// CreateRule constructs, validates, and stores a new rule. The result is the
// stored rule including its generated inverse state.
func (e *Engine) CreateRule(ctx context.Context, p RuleParams) (*Rule, error) {
	r := &Rule{
		Name:         p.Name,
		InInterface:  p.InInterface,
		OutInterface: p.OutInterface,
		SVlan:        p.SVlan,
		CVlan:        p.CVlan,
		PopTags:      p.PopTags,
		PushSVlan:    p.PushSVlan,
		PushCVlan:    p.PushCVlan,
		Active:       p.Active,
	}

	err := e.mutate(ctx, func(t *Table) error {
		if _, exists := t.Get(r.Name); exists {
			return fmt.Errorf("%w: rule %q already exists", ErrStateViolation, r.Name)
		}
		if err := e.checkInterfaces(r); err != nil {
			return err
		}
		return t.Upsert(r)
	})
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	stored, _ := e.table.Get(r.Name)
	return stored, nil
}

// UpdateRule replaces an existing user rule, or overrides an auto-generated
// inverse (clearing auto_inverse).
func (e *Engine) UpdateRule(ctx context.Context, p RuleParams) (*Rule, error) {
	r := &Rule{
		Name:         p.Name,
		InInterface:  p.InInterface,
		OutInterface: p.OutInterface,
		SVlan:        p.SVlan,
		CVlan:        p.CVlan,
		PopTags:      p.PopTags,
		PushSVlan:    p.PushSVlan,
		PushCVlan:    p.PushCVlan,
		Active:       p.Active,
	}

	err := e.mutate(ctx, func(t *Table) error {
		if _, exists := t.Get(r.Name); !exists {
			return fmt.Errorf("%w: rule %q", ErrNotFound, r.Name)
		}
		if err := e.checkInterfaces(r); err != nil {
			return err
		}
		if strings.HasPrefix(r.Name, InversePrefix) {
			return t.OverrideInverse(r)
		}
		return t.Upsert(r)
	})
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	stored, _ := e.table.Get(r.Name)
	return stored, nil
}

// DeleteRule removes an inactive rule and its inverse.
func (e *Engine) DeleteRule(ctx context.Context, name string) error {
	return e.mutate(ctx, func(t *Table) error { return t.Delete(name) })
}

// checkInterfaces resolves both interfaces of a rule that is about to be
// active. Inactive rules may reference interfaces that do not exist yet.
func (e *Engine) checkInterfaces(r *Rule) error {
	if e.rec == nil || !r.Active {
		return nil
	}
	return e.rec.CheckInterfaces(r)
}

// EnableRule activates a rule and its inverse and installs them.
func (e *Engine) EnableRule(ctx context.Context, name string) error {
	return e.mutate(ctx, func(t *Table) error {
		r, ok := t.Get(name)
		if !ok {
			return fmt.Errorf("%w: rule %q", ErrNotFound, name)
		}
		if e.rec != nil {
			if err := e.rec.CheckInterfaces(r); err != nil {
				return err
			}
		}
		return t.Enable(name)
	})
}

// DisableRule deactivates a rule and its inverse and uninstalls them.
func (e *Engine) DisableRule(ctx context.Context, name string) error {
	return e.mutate(ctx, func(t *Table) error { return t.Disable(name) })
}

// Show returns rules matching the filter: empty for all, or a rule name
// (inverse names included) for a single rule. Formatting variants such as
// "json" or "simple" are rendering concerns of the caller.
func (e *Engine) Show(filter string) (*ShowResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res := &ShowResult{NotApplied: map[string]string{}}
	if e.rec != nil {
		res.NotApplied = e.rec.NotApplied()
	}

	switch filter {
	case "", "json", "simple":
		res.Rules = e.table.List()
	default:
		r, ok := e.table.Get(filter)
		if !ok {
			return nil, fmt.Errorf("%w: rule %q", ErrNotFound, filter)
		}
		res.Rules = []*Rule{r}
	}
	return res, nil
}

// List returns a copy of all rules in insertion order.
func (e *Engine) List() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table.List()
}
