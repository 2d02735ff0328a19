package forwarding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vmark/vmark-node/pkg/dataplane"
)

// Reconciler drives the kernel toward the desired state derived from the
// forwarding table. It is the only component that issues kernel writes.
type Reconciler struct {
	binding dataplane.Binding

	// notApplied holds rules skipped during the last lenient pass because
	// their interfaces were missing, for show-forwarding reporting.
	notApplied map[string]string
}

// NewReconciler creates a reconciler over the given kernel binding.
func NewReconciler(b dataplane.Binding) *Reconciler {
	return &Reconciler{binding: b, notApplied: make(map[string]string)}
}

// NotApplied reports rules that were skipped by the last reconcile pass,
// keyed by rule name with the reason as value.
func (rc *Reconciler) NotApplied() map[string]string {
	out := make(map[string]string, len(rc.notApplied))
	for k, v := range rc.notApplied {
		out[k] = v
	}
	return out
}

func kernelErr(op string, ifindex uint32, err error) error {
	if errors.Is(err, dataplane.ErrPermission) {
		return fmt.Errorf("%w: %s on ifindex %d: %v", ErrPermission, op, ifindex, err)
	}
	return &KernelError{Op: op, Ifindex: ifindex, Err: err}
}

// CheckInterfaces verifies that both interfaces of a rule resolve, so a
// command activating it can fail with NotFound instead of silently leaving
// the rule uninstalled.
func (rc *Reconciler) CheckInterfaces(r *Rule) error {
	for _, ifname := range []string{r.InInterface, r.OutInterface} {
		if _, err := rc.binding.ResolveIfindex(ifname); err != nil {
			return fmt.Errorf("%w: interface %s", ErrNotFound, ifname)
		}
	}
	return nil
}

// Reconcile diffs the desired state of the given rules against the kernel
// and applies the minimum set of attach/detach/put/delete operations.
//
// In lenient mode (startup), rules whose interfaces do not resolve are
// skipped with a warning and recorded as not applied; in strict mode
// (mutations) the first failure aborts. Cancellation is honored between
// kernel operations, never mid-operation.
func (rc *Reconciler) Reconcile(ctx context.Context, rules []*Rule, lenient bool) error {
	desired := make(map[uint32]map[[16]byte][]byte)
	skipped := make(map[string]string)

	for _, r := range rules {
		if !r.Active {
			continue
		}
		inIdx, err := rc.binding.ResolveIfindex(r.InInterface)
		if err != nil {
			if lenient {
				slog.Warn("skipping rule, ingress interface unavailable",
					"rule", r.Name, "interface", r.InInterface, "err", err)
				skipped[r.Name] = fmt.Sprintf("interface %s unavailable", r.InInterface)
				continue
			}
			return fmt.Errorf("%w: interface %s (rule %q)", ErrNotFound, r.InInterface, r.Name)
		}
		outIdx, err := rc.binding.ResolveIfindex(r.OutInterface)
		if err != nil {
			if lenient {
				slog.Warn("skipping rule, egress interface unavailable",
					"rule", r.Name, "interface", r.OutInterface, "err", err)
				skipped[r.Name] = fmt.Sprintf("interface %s unavailable", r.OutInterface)
				continue
			}
			return fmt.Errorf("%w: interface %s (rule %q)", ErrNotFound, r.OutInterface, r.Name)
		}

		key := EncodeKey(r, inIdx).Bytes()
		value, err := EncodeValue(r, outIdx)
		if err != nil {
			return fmt.Errorf("encode rule %q: %w", r.Name, err)
		}
		if desired[inIdx] == nil {
			desired[inIdx] = make(map[[16]byte][]byte)
		}
		vb := value.Bytes()
		desired[inIdx][key] = vb[:]
	}

	// Attach and populate interfaces that should carry rules.
	for ifindex, entries := range desired {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rc.binding.Attach(ifindex); err != nil {
			return kernelErr("attach_xdp", ifindex, err)
		}
		if err := rc.binding.EnsureMap(ifindex); err != nil {
			return kernelErr("ensure_map", ifindex, err)
		}

		current, err := rc.binding.MapEntries(ifindex)
		if err != nil {
			return kernelErr("map_dump", ifindex, err)
		}
		for k := range current {
			if _, want := entries[k]; !want {
				if err := ctx.Err(); err != nil {
					return err
				}
				key := k
				if err := rc.binding.MapDelete(ifindex, key[:]); err != nil {
					return kernelErr("map_delete", ifindex, err)
				}
			}
		}
		for k, v := range entries {
			if cur, ok := current[k]; ok && bytes.Equal(cur, v) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			key := k
			if err := rc.binding.MapPut(ifindex, key[:], v); err != nil {
				return kernelErr("map_update", ifindex, err)
			}
		}
	}

	// Tear down interfaces with no remaining active rules.
	for _, ifindex := range rc.binding.Attached() {
		if _, want := desired[ifindex]; want {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rc.binding.Detach(ifindex); err != nil {
			return kernelErr("detach_xdp", ifindex, err)
		}
		if err := rc.binding.DeleteMap(ifindex); err != nil {
			return kernelErr("delete_map", ifindex, err)
		}
	}

	rc.notApplied = skipped
	return nil
}
