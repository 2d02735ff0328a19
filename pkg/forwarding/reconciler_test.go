package forwarding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vmark/vmark-node/pkg/dataplane"
)

// fakeBinding is an in-memory dataplane.Binding for reconciler tests.
type fakeBinding struct {
	ifaces   map[string]uint32
	attached map[uint32]bool
	maps     map[uint32]map[[16]byte][]byte

	failOp string // operation name that should fail, e.g. "map_put"
	puts   int
	dels   int
}

var _ dataplane.Binding = (*fakeBinding)(nil)

func newFakeBinding(ifaces map[string]uint32) *fakeBinding {
	return &fakeBinding{
		ifaces:   ifaces,
		attached: make(map[uint32]bool),
		maps:     make(map[uint32]map[[16]byte][]byte),
	}
}

func (f *fakeBinding) fail(op string) error {
	if f.failOp == op {
		return fmt.Errorf("injected %s failure", op)
	}
	return nil
}

func (f *fakeBinding) ResolveIfindex(name string) (uint32, error) {
	if idx, ok := f.ifaces[name]; ok {
		return idx, nil
	}
	return 0, fmt.Errorf("%w: %s", dataplane.ErrNoSuchInterface, name)
}

func (f *fakeBinding) InterfaceName(ifindex uint32) (string, error) {
	for name, idx := range f.ifaces {
		if idx == ifindex {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: ifindex %d", dataplane.ErrNoSuchInterface, ifindex)
}

func (f *fakeBinding) Attach(ifindex uint32) error {
	if err := f.fail("attach"); err != nil {
		return err
	}
	f.attached[ifindex] = true
	return nil
}

func (f *fakeBinding) Detach(ifindex uint32) error {
	delete(f.attached, ifindex)
	return nil
}

func (f *fakeBinding) Attached() []uint32 {
	var out []uint32
	for idx := range f.attached {
		out = append(out, idx)
	}
	return out
}

func (f *fakeBinding) EnsureMap(ifindex uint32) error {
	if f.maps[ifindex] == nil {
		f.maps[ifindex] = make(map[[16]byte][]byte)
	}
	return nil
}

func (f *fakeBinding) DeleteMap(ifindex uint32) error {
	delete(f.maps, ifindex)
	return nil
}

func (f *fakeBinding) MapPut(ifindex uint32, key, value []byte) error {
	if err := f.fail("map_put"); err != nil {
		return err
	}
	var k [16]byte
	copy(k[:], key)
	f.maps[ifindex][k] = append([]byte(nil), value...)
	f.puts++
	return nil
}

func (f *fakeBinding) MapDelete(ifindex uint32, key []byte) error {
	var k [16]byte
	copy(k[:], key)
	delete(f.maps[ifindex], k)
	f.dels++
	return nil
}

func (f *fakeBinding) MapClear(ifindex uint32) error {
	f.maps[ifindex] = make(map[[16]byte][]byte)
	return nil
}

func (f *fakeBinding) MapEntries(ifindex uint32) (map[[16]byte][]byte, error) {
	out := make(map[[16]byte][]byte)
	for k, v := range f.maps[ifindex] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

// s1Rule is the canonical scenario: double-tag match on eth0, pop the outer
// tag, retag, forward to eth1.
func s1Rule() *Rule {
	return &Rule{
		Name: "r1", InInterface: "eth0", OutInterface: "eth1",
		SVlan: VlanID(100), CVlan: VlanID(10), PopTags: 1, PushCVlan: VlanID(11),
	}
}

func TestReconcileInstallsRuleAndInverse(t *testing.T) {
	fb := newFakeBinding(map[string]uint32{"eth0": 2, "eth1": 3})
	rc := NewReconciler(fb)

	tbl := NewTable()
	if err := tbl.Upsert(s1Rule()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := tbl.Enable("r1"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if err := rc.Reconcile(context.Background(), tbl.List(), false); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if !fb.attached[2] || !fb.attached[3] {
		t.Fatalf("attached = %v, want eth0 and eth1", fb.attached)
	}

	// Forward entry on eth0: key (2, vlan=10, svlan=100) →
	// [POP, PUSH(CVLAN,11), FORWARD→3].
	fwdKey := MapKey{Ifindex: 2, VlanID: 10, SVlanID: 100}.Bytes()
	fwdVal, ok := fb.maps[2][fwdKey]
	if !ok {
		t.Fatalf("eth0 map is missing the forward key; contents: %v", fb.maps[2])
	}
	v, err := DecodeValue(fwdVal)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	wantFwd := MapValue{NumActions: 3, Steps: [MaxSteps]ActionStep{
		{Type: ActionPop, TagType: TagNone},
		{Type: ActionPush, TagType: TagCVlan, VlanID: 11},
		{Type: ActionForward, TargetIfindex: 3},
	}}
	if v != wantFwd {
		t.Errorf("forward value = %+v, want %+v", v, wantFwd)
	}

	// Inverse entry on eth1: key (3, vlan=11, svlan=0) →
	// [POP, PUSH(CVLAN,10), PUSH(SVLAN,100), FORWARD→2].
	invKey := MapKey{Ifindex: 3, VlanID: 11}.Bytes()
	invVal, ok := fb.maps[3][invKey]
	if !ok {
		t.Fatalf("eth1 map is missing the inverse key; contents: %v", fb.maps[3])
	}
	v, err = DecodeValue(invVal)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	wantInv := MapValue{NumActions: 4, Steps: [MaxSteps]ActionStep{
		{Type: ActionPop, TagType: TagNone},
		{Type: ActionPush, TagType: TagCVlan, VlanID: 10},
		{Type: ActionPush, TagType: TagSVlan, VlanID: 100},
		{Type: ActionForward, TargetIfindex: 2},
	}}
	if v != wantInv {
		t.Errorf("inverse value = %+v, want %+v", v, wantInv)
	}
}

func TestReconcileDetachesWhenEmpty(t *testing.T) {
	fb := newFakeBinding(map[string]uint32{"eth0": 2, "eth1": 3})
	rc := NewReconciler(fb)

	tbl := NewTable()
	tbl.Upsert(s1Rule())
	tbl.Enable("r1")
	if err := rc.Reconcile(context.Background(), tbl.List(), false); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	tbl.Disable("r1")
	if err := rc.Reconcile(context.Background(), tbl.List(), false); err != nil {
		t.Fatalf("Reconcile after disable: %v", err)
	}

	if len(fb.attached) != 0 {
		t.Errorf("attached after disable = %v, want none", fb.attached)
	}
	if len(fb.maps) != 0 {
		t.Errorf("maps after disable = %v, want none", fb.maps)
	}
}

func TestReconcileMinimalDiff(t *testing.T) {
	fb := newFakeBinding(map[string]uint32{"eth0": 2, "eth1": 3})
	rc := NewReconciler(fb)

	tbl := NewTable()
	tbl.Upsert(s1Rule())
	tbl.Enable("r1")
	if err := rc.Reconcile(context.Background(), tbl.List(), false); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	puts := fb.puts
	// Unchanged desired state must be a no-op.
	if err := rc.Reconcile(context.Background(), tbl.List(), false); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if fb.puts != puts || fb.dels != 0 {
		t.Errorf("second reconcile issued %d puts / %d deletes, want 0/0", fb.puts-puts, fb.dels)
	}
}

func TestReconcileLenientSkipsMissingInterface(t *testing.T) {
	// eth0 does not exist at boot.
	fb := newFakeBinding(map[string]uint32{"eth1": 3})
	rc := NewReconciler(fb)

	r := s1Rule()
	r.Active = true
	rules := []*Rule{r, r.Inverse()}

	if err := rc.Reconcile(context.Background(), rules, true); err != nil {
		t.Fatalf("lenient Reconcile: %v", err)
	}
	if _, ok := rc.NotApplied()["r1"]; !ok {
		t.Errorf("NotApplied = %v, want r1 recorded", rc.NotApplied())
	}

	// Strict mode reports NotFound instead.
	err := rc.Reconcile(context.Background(), rules, false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("strict Reconcile = %v, want ErrNotFound", err)
	}
}

func TestReconcileKernelFailure(t *testing.T) {
	fb := newFakeBinding(map[string]uint32{"eth0": 2, "eth1": 3})
	fb.failOp = "map_put"
	rc := NewReconciler(fb)

	tbl := NewTable()
	tbl.Upsert(s1Rule())
	tbl.Enable("r1")

	err := rc.Reconcile(context.Background(), tbl.List(), false)
	if !errors.Is(err, ErrKernel) {
		t.Fatalf("Reconcile = %v, want ErrKernel", err)
	}
	var kerr *KernelError
	if !errors.As(err, &kerr) {
		t.Fatalf("error %v is not a KernelError", err)
	}
	if kerr.Op != "map_update" {
		t.Errorf("KernelError.Op = %q, want map_update", kerr.Op)
	}
}
