package forwarding

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the forwarding table and rule engine.
// Callers match them with errors.Is; structured variants carry detail
// and are matched with errors.As.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrStateViolation  = errors.New("state violation")
	ErrPermission      = errors.New("permission denied")
	ErrKernel          = errors.New("kernel operation failed")
	ErrPersistence     = errors.New("persistence failure")
)

// ConflictError reports two active rules that project the same map key.
type ConflictError struct {
	Existing string // rule already in the table
	Proposed string // rule being inserted or enabled
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rule %q conflicts with active rule %q (same match key)", e.Proposed, e.Existing)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// KernelError wraps a failed map or program syscall with its origin.
type KernelError struct {
	Op      string // originating operation, e.g. "map_update", "attach_xdp"
	Ifindex uint32
	Err     error
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel %s on ifindex %d: %v", e.Op, e.Ifindex, e.Err)
}

func (e *KernelError) Unwrap() error { return ErrKernel }
