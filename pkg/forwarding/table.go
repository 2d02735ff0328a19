package forwarding

import (
	"fmt"
	"strings"
)

// Table is the authoritative in-memory model of named forwarding rules.
// Iteration order is insertion order, with each inverse kept directly after
// its origin for display stability.
//
// Table is not safe for concurrent use; the rule engine serializes access
// under its own mutex for the whole mutate-persist-reconcile sequence.
type Table struct {
	order []string
	rules map[string]*Rule
}

// NewTable creates an empty forwarding table.
func NewTable() *Table {
	return &Table{rules: make(map[string]*Rule)}
}

// Clone returns a deep copy of the table, used for mutation rollback.
func (t *Table) Clone() *Table {
	c := NewTable()
	c.order = append([]string(nil), t.order...)
	for name, r := range t.rules {
		c.rules[name] = r.Clone()
	}
	return c
}

// Len returns the number of rules, inverses included.
func (t *Table) Len() int { return len(t.order) }

// Get returns a copy of the named rule.
func (t *Table) Get(name string) (*Rule, bool) {
	r, ok := t.rules[name]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// List returns copies of all rules in insertion order.
func (t *Table) List() []*Rule {
	out := make([]*Rule, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.rules[name].Clone())
	}
	return out
}

// UserRules returns copies of the user-created rules only, the set that
// is persisted to disk.
func (t *Table) UserRules() []*Rule {
	var out []*Rule
	for _, name := range t.order {
		if r := t.rules[name]; !r.AutoInverse {
			out = append(out, r.Clone())
		}
	}
	return out
}

// detectConflict reports an active rule (other than exclude names) whose
// projected map key equals r's.
func (t *Table) detectConflict(r *Rule, exclude ...string) *ConflictError {
	skip := make(map[string]bool, len(exclude)+1)
	skip[r.Name] = true
	for _, n := range exclude {
		skip[n] = true
	}
	key := r.match()
	for _, name := range t.order {
		other := t.rules[name]
		if skip[name] || !other.Active {
			continue
		}
		if other.match() == key {
			return &ConflictError{Existing: other.Name, Proposed: r.Name}
		}
	}
	return nil
}

func (t *Table) insert(r *Rule) {
	if _, ok := t.rules[r.Name]; !ok {
		t.order = append(t.order, r.Name)
	}
	t.rules[r.Name] = r
}

// insertAfter places r directly after the named anchor in iteration order.
func (t *Table) insertAfter(anchor string, r *Rule) {
	if _, ok := t.rules[r.Name]; ok {
		t.rules[r.Name] = r
		return
	}
	t.rules[r.Name] = r
	for i, name := range t.order {
		if name == anchor {
			t.order = append(t.order[:i+1], append([]string{r.Name}, t.order[i+1:]...)...)
			return
		}
	}
	t.order = append(t.order, r.Name)
}

func (t *Table) remove(name string) {
	if _, ok := t.rules[name]; !ok {
		return
	}
	delete(t.rules, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// syncInverse brings the sibling inverse of the user rule r in line with
// r's current state: active origins get a regenerated (or reactivated
// overridden) inverse, inactive origins lose the auto inverse.
func (t *Table) syncInverse(r *Rule) {
	sibName := InversePrefix + r.Name
	sib, exists := t.rules[sibName]

	if !r.Active {
		if !exists {
			return
		}
		if sib.AutoInverse {
			t.remove(sibName)
		} else {
			sib.Active = false
		}
		return
	}

	if exists && !sib.AutoInverse {
		// Operator override: cascade the active flag, keep the parameters.
		sib.Active = true
		return
	}
	t.insertAfter(r.Name, r.Inverse())
}

// Upsert validates and inserts or replaces a user rule, keeping the sibling
// inverse consistent. Active rules are checked for map-key conflicts before
// any state changes.
func (t *Table) Upsert(r *Rule) error {
	if err := r.Validate(false); err != nil {
		return err
	}
	if r.AutoInverse {
		return fmt.Errorf("%w: inverse rules are derived, not inserted", ErrStateViolation)
	}
	if existing, ok := t.rules[r.Name]; ok && existing.AutoInverse {
		return fmt.Errorf("%w: name %q belongs to an auto-generated inverse", ErrStateViolation, r.Name)
	}

	r = r.Clone()
	if r.Active {
		inv := r.Inverse()
		if c := t.detectConflict(r, inv.Name); c != nil {
			return c
		}
		if c := t.detectConflict(inv, r.Name); c != nil {
			return c
		}
	}

	t.insert(r)
	t.syncInverse(r)
	return nil
}

// OverrideInverse replaces the parameters of an existing auto-generated
// inverse, detaching it from automatic regeneration.
func (t *Table) OverrideInverse(r *Rule) error {
	existing, ok := t.rules[r.Name]
	if !ok {
		return fmt.Errorf("%w: inverse rule %q", ErrNotFound, r.Name)
	}
	if !strings.HasPrefix(r.Name, InversePrefix) {
		return fmt.Errorf("%w: %q is not an inverse rule name", ErrInvalidArgument, r.Name)
	}

	c := r.Clone()
	c.AutoInverse = false
	c.OriginName = existing.OriginName

	v := c.Clone()
	v.AutoInverse = true // skip the reserved-prefix check, the name is established
	if err := v.Validate(false); err != nil {
		return err
	}
	if c.Active {
		if conflict := t.detectConflict(c); conflict != nil {
			return conflict
		}
	}
	t.rules[r.Name] = c
	return nil
}

// Enable activates the named user rule and its inverse. Both projected map
// keys must be conflict-free; on conflict neither rule changes state.
func (t *Table) Enable(name string) error {
	r, ok := t.rules[name]
	if !ok {
		return fmt.Errorf("%w: rule %q", ErrNotFound, name)
	}
	if r.AutoInverse {
		return fmt.Errorf("%w: enable the origin rule %q instead", ErrStateViolation, r.OriginName)
	}
	if r.Active {
		return fmt.Errorf("%w: rule %q is already enabled", ErrStateViolation, name)
	}

	probe := r.Clone()
	probe.Active = true
	inv := probe.Inverse()
	if c := t.detectConflict(probe, inv.Name); c != nil {
		return c
	}
	if sib, ok := t.rules[inv.Name]; ok && !sib.AutoInverse {
		sibProbe := sib.Clone()
		sibProbe.Active = true
		if c := t.detectConflict(sibProbe, name); c != nil {
			return c
		}
	} else if c := t.detectConflict(inv, name); c != nil {
		return c
	}

	r.Active = true
	t.syncInverse(r)
	return nil
}

// Disable deactivates the named user rule and retires its inverse.
func (t *Table) Disable(name string) error {
	r, ok := t.rules[name]
	if !ok {
		return fmt.Errorf("%w: rule %q", ErrNotFound, name)
	}
	if r.AutoInverse {
		return fmt.Errorf("%w: disable the origin rule %q instead", ErrStateViolation, r.OriginName)
	}
	if !r.Active {
		return fmt.Errorf("%w: rule %q is already disabled", ErrStateViolation, name)
	}
	r.Active = false
	t.syncInverse(r)
	return nil
}

// Delete removes an inactive user rule and its inverse.
func (t *Table) Delete(name string) error {
	r, ok := t.rules[name]
	if !ok {
		return fmt.Errorf("%w: rule %q", ErrNotFound, name)
	}
	if r.AutoInverse {
		return fmt.Errorf("%w: delete the origin rule %q instead", ErrStateViolation, r.OriginName)
	}
	if r.Active {
		return fmt.Errorf("%w: rule %q is active, disable it before deletion", ErrStateViolation, name)
	}
	t.remove(name)
	t.remove(InversePrefix + name)
	return nil
}

// LoadUserRules replaces the table contents with the given user rules,
// dropping invalid entries and regenerating every inverse. Stored inverse
// rows are never trusted; an overridden inverse (auto_inverse cleared by
// the operator) is accepted as user state and suppresses regeneration for
// its origin. Returns the names of dropped rules.
func (t *Table) LoadUserRules(rules []*Rule) (dropped []string) {
	t.order = nil
	t.rules = make(map[string]*Rule)

	overridden := make(map[string]*Rule)
	var users []*Rule
	for _, r := range rules {
		if r.AutoInverse {
			dropped = append(dropped, r.Name)
			continue
		}
		if strings.HasPrefix(r.Name, InversePrefix) {
			// Overridden inverse persisted as user state.
			v := r.Clone()
			v.AutoInverse = true
			if err := v.Validate(false); err != nil {
				dropped = append(dropped, r.Name)
				continue
			}
			overridden[r.Name] = r.Clone()
			continue
		}
		if err := r.Validate(false); err != nil {
			dropped = append(dropped, r.Name)
			continue
		}
		users = append(users, r.Clone())
	}

	for _, r := range users {
		if r.Active {
			inv := r.Inverse()
			if c := t.detectConflict(r, inv.Name); c != nil {
				dropped = append(dropped, r.Name)
				continue
			}
		}
		t.insert(r)
		if ov, ok := overridden[InversePrefix+r.Name]; ok {
			ov.Active = r.Active
			ov.OriginName = r.Name
			t.insertAfter(r.Name, ov)
		} else {
			t.syncInverse(r)
		}
	}
	return dropped
}
