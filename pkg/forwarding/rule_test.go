package forwarding

import (
	"errors"
	"testing"
)

func TestRuleValidate(t *testing.T) {
	valid := func() *Rule {
		return &Rule{
			Name:         "r1",
			InInterface:  "eth0",
			OutInterface: "eth1",
			SVlan:        VlanID(100),
			CVlan:        VlanID(10),
			PopTags:      1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Rule)
		wantErr bool
	}{
		{"valid", func(r *Rule) {}, false},
		{"empty name", func(r *Rule) { r.Name = "" }, true},
		{"name too long", func(r *Rule) { r.Name = "abcdefghijklmnopqrstuvwxyz0123456789" }, true},
		{"name bad chars", func(r *Rule) { r.Name = "r 1" }, true},
		{"reserved prefix", func(r *Rule) { r.Name = "egress-r1" }, true},
		{"missing in_interface", func(r *Rule) { r.InInterface = "" }, true},
		{"missing out_interface", func(r *Rule) { r.OutInterface = "" }, true},
		{"hairpin", func(r *Rule) { r.OutInterface = "eth0" }, true},
		{"svlan zero", func(r *Rule) { r.SVlan = VlanID(0) }, true},
		{"svlan too big", func(r *Rule) { r.SVlan = VlanID(4095) }, true},
		{"push_cvlan too big", func(r *Rule) { r.PushCVlan = VlanID(5000) }, true},
		{"pop exceeds match", func(r *Rule) { r.SVlan = nil; r.PopTags = 2 }, true},
		{"pop without match", func(r *Rule) { r.SVlan = nil; r.CVlan = nil; r.PopTags = 1 }, true},
		{"pop negative", func(r *Rule) { r.PopTags = -1 }, true},
		{"pop three", func(r *Rule) { r.CVlan = nil; r.PopTags = 3 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate(false)
			if tt.wantErr && err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error %v does not wrap ErrInvalidArgument", err)
			}
		})
	}
}

func TestValidateHairpinPermitted(t *testing.T) {
	r := &Rule{Name: "loop", InInterface: "eth0", OutInterface: "eth0", CVlan: VlanID(5)}
	if err := r.Validate(true); err != nil {
		t.Fatalf("Validate(allowHairpin) = %v, want nil", err)
	}
}

func vlanEq(got *uint16, want int) bool {
	if want < 0 {
		return got == nil
	}
	return got != nil && int(*got) == want
}

func TestInverse(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		// -1 means absent
		wantSVlan, wantCVlan         int
		wantPop                      int
		wantPushSVlan, wantPushCVlan int
	}{
		{
			// Double-tag match, pop the outer tag, retag the inner.
			name: "qinq pop and retag",
			rule: Rule{Name: "r1", InInterface: "eth0", OutInterface: "eth1",
				SVlan: VlanID(100), CVlan: VlanID(10), PopTags: 1, PushCVlan: VlanID(11)},
			wantSVlan: -1, wantCVlan: 11, wantPop: 1,
			wantPushSVlan: 100, wantPushCVlan: 10,
		},
		{
			// Plain VLAN translation.
			name: "vlan translation",
			rule: Rule{Name: "r2", InInterface: "eth0", OutInterface: "eth1",
				CVlan: VlanID(10), PopTags: 1, PushCVlan: VlanID(20)},
			wantSVlan: -1, wantCVlan: 20, wantPop: 1,
			wantPushSVlan: -1, wantPushCVlan: 10,
		},
		{
			// Untag on the way out, retag on the way back.
			name: "pop only",
			rule: Rule{Name: "r3", InInterface: "eth0", OutInterface: "eth1",
				CVlan: VlanID(10), PopTags: 1},
			wantSVlan: -1, wantCVlan: -1, wantPop: 0,
			wantPushSVlan: -1, wantPushCVlan: 10,
		},
		{
			// Tag untagged traffic.
			name: "push onto untagged",
			rule: Rule{Name: "r4", InInterface: "eth0", OutInterface: "eth1",
				PushCVlan: VlanID(30)},
			wantSVlan: -1, wantCVlan: 30, wantPop: 1,
			wantPushSVlan: -1, wantPushCVlan: -1,
		},
		{
			// Full QinQ retag.
			name: "qinq full retag",
			rule: Rule{Name: "r5", InInterface: "eth0", OutInterface: "eth1",
				SVlan: VlanID(100), CVlan: VlanID(10), PopTags: 2,
				PushSVlan: VlanID(200), PushCVlan: VlanID(20)},
			wantSVlan: 200, wantCVlan: 20, wantPop: 2,
			wantPushSVlan: 100, wantPushCVlan: 10,
		},
		{
			// Transparent passthrough: nothing popped, nothing pushed.
			name: "passthrough",
			rule: Rule{Name: "r6", InInterface: "eth0", OutInterface: "eth1",
				CVlan: VlanID(42)},
			wantSVlan: -1, wantCVlan: 42, wantPop: 0,
			wantPushSVlan: -1, wantPushCVlan: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.Active = true
			inv := tt.rule.Inverse()

			if inv.Name != InversePrefix+tt.rule.Name {
				t.Errorf("inverse name = %q, want %q", inv.Name, InversePrefix+tt.rule.Name)
			}
			if inv.InInterface != tt.rule.OutInterface || inv.OutInterface != tt.rule.InInterface {
				t.Errorf("inverse interfaces = %s→%s, want %s→%s",
					inv.InInterface, inv.OutInterface, tt.rule.OutInterface, tt.rule.InInterface)
			}
			if !inv.AutoInverse || inv.OriginName != tt.rule.Name {
				t.Errorf("inverse auto=%v origin=%q, want auto=true origin=%q", inv.AutoInverse, inv.OriginName, tt.rule.Name)
			}
			if !inv.Active {
				t.Error("inverse of an active rule must be active")
			}
			if !vlanEq(inv.SVlan, tt.wantSVlan) {
				t.Errorf("inverse svlan = %v, want %d", inv.SVlan, tt.wantSVlan)
			}
			if !vlanEq(inv.CVlan, tt.wantCVlan) {
				t.Errorf("inverse cvlan = %v, want %d", inv.CVlan, tt.wantCVlan)
			}
			if inv.PopTags != tt.wantPop {
				t.Errorf("inverse pop_tags = %d, want %d", inv.PopTags, tt.wantPop)
			}
			if !vlanEq(inv.PushSVlan, tt.wantPushSVlan) {
				t.Errorf("inverse push_svlan = %v, want %d", inv.PushSVlan, tt.wantPushSVlan)
			}
			if !vlanEq(inv.PushCVlan, tt.wantPushCVlan) {
				t.Errorf("inverse push_cvlan = %v, want %d", inv.PushCVlan, tt.wantPushCVlan)
			}
		})
	}
}

func TestInverseIsItsOwnInverseForTranslation(t *testing.T) {
	r := Rule{Name: "x", InInterface: "a", OutInterface: "b",
		CVlan: VlanID(10), PopTags: 1, PushCVlan: VlanID(20), Active: true}
	inv := r.Inverse()

	// Translating 10→20 forward must translate 20→10 backward.
	if !vlanEq(inv.CVlan, 20) || inv.PopTags != 1 || !vlanEq(inv.PushCVlan, 10) {
		t.Fatalf("inverse = match %v pop %d push %v, want match 20 pop 1 push 10",
			inv.CVlan, inv.PopTags, inv.PushCVlan)
	}
}
