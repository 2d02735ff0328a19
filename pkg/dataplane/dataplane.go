// Package dataplane manages the kernel side of the XDP MEF switch:
// attaching the forwarding program to interfaces, creating and pinning
// per-interface forwarding maps, and toggling promiscuous mode.
package dataplane

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// ErrPermission indicates the operation needs CAP_BPF / CAP_NET_ADMIN.
var ErrPermission = errors.New("kernel operation requires elevated privileges")

// ErrNoSuchInterface indicates an interface name or index did not resolve.
var ErrNoSuchInterface = errors.New("no such interface")

// Binding abstracts the kernel operations the control plane needs. The
// eBPF Manager is the production implementation; tests substitute a fake.
// All map payloads are raw bytes in the kernel ABI layout; the forwarding
// package owns the codec.
type Binding interface {
	// ResolveIfindex maps an interface name to its kernel index.
	ResolveIfindex(name string) (uint32, error)
	// InterfaceName maps a kernel index back to its interface name.
	InterfaceName(ifindex uint32) (string, error)

	// Attach loads the forwarding program onto the interface and enables
	// promiscuous mode. Idempotent.
	Attach(ifindex uint32) error
	// Detach removes the program and disables promiscuous mode. Idempotent.
	Detach(ifindex uint32) error
	// Attached lists the interfaces the program is currently attached to.
	Attached() []uint32

	// EnsureMap creates (or opens) the per-interface forwarding map.
	EnsureMap(ifindex uint32) error
	// DeleteMap unpins and closes the per-interface map.
	DeleteMap(ifindex uint32) error

	MapPut(ifindex uint32, key, value []byte) error
	MapDelete(ifindex uint32, key []byte) error
	MapClear(ifindex uint32) error
	// MapEntries returns the current contents of the interface's map.
	MapEntries(ifindex uint32) (map[[16]byte][]byte, error)
}

// classify wraps privilege failures in ErrPermission so callers can
// distinguish "run me as root" from genuine kernel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) ||
		errors.Is(err, os.ErrPermission) || errors.Is(err, fs.ErrPermission) {
		return errors.Join(ErrPermission, err)
	}
	return err
}
