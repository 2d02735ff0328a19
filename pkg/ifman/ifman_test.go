package ifman

import "testing"

func TestSubInterfaceName(t *testing.T) {
	tests := []struct {
		sub  SubInterface
		want string
	}{
		{SubInterface{Parent: "eth0", CVlanID: 100}, "eth0.100"},
		{SubInterface{Parent: "eth0", CVlanID: 10, SVlanID: 100}, "eth0.100.10"},
	}
	for _, tt := range tests {
		if got := tt.sub.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}

func TestIsVirtual(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"eth0", false},
		{"ens160", false},
		{"lo", true},
		{"docker0", true},
		{"veth12ab", true},
		{"br-900d", true},
		{"wg0", true},
	}
	for _, tt := range tests {
		if got := isVirtual(tt.name); got != tt.want {
			t.Errorf("isVirtual(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCreateSubInterfaceValidation(t *testing.T) {
	m := New()
	// Range checks reject before any netlink call is made.
	if _, err := m.CreateSubInterface(SubInterface{Parent: "eth0", CVlanID: 0}); err == nil {
		t.Error("accepted cvlan-id 0")
	}
	if _, err := m.CreateSubInterface(SubInterface{Parent: "eth0", CVlanID: 4095}); err == nil {
		t.Error("accepted cvlan-id 4095")
	}
	if _, err := m.CreateSubInterface(SubInterface{Parent: "eth0", CVlanID: 10, MTU: 100}); err == nil {
		t.Error("accepted mtu below minimum")
	}
}

func TestSetMTUValidation(t *testing.T) {
	m := New()
	if err := m.SetMTU("eth0", 999); err == nil {
		t.Error("accepted mtu 999")
	}
	if err := m.SetMTU("eth0", 10001); err == nil {
		t.Error("accepted mtu 10001")
	}
}
