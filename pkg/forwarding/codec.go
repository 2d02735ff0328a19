package forwarding

import (
	"encoding/binary"
	"fmt"
)

// Kernel map ABI. The byte layouts below mirror struct fw_key and
// struct fw_value in the data-plane program and must be preserved
// bit-for-bit; field order and padding are part of the contract.
const (
	MapKeySize   = 16
	MapValueSize = 50
	MaxSteps     = 5
)

// Action step types.
const (
	ActionNone    = 0
	ActionForward = 1
	ActionPush    = 2
	ActionPop     = 3
)

// Tag types carried in an action step.
const (
	TagNone  = 0
	TagCVlan = 1
	TagSVlan = 2
)

// MapKey is the 16-byte lookup key for a per-interface forwarding map.
// Absent match tags encode as zero. BMAC is reserved for PBB matching
// and is always zero-filled.
type MapKey struct {
	Ifindex uint32
	VlanID  uint16 // inner / C-VLAN match
	SVlanID uint16 // outer / S-VLAN match
	BMAC    [6]byte
}

// Bytes encodes the key in the kernel's little-endian layout.
func (k MapKey) Bytes() [MapKeySize]byte {
	var b [MapKeySize]byte
	binary.LittleEndian.PutUint32(b[0:4], k.Ifindex)
	binary.LittleEndian.PutUint16(b[4:6], k.VlanID)
	binary.LittleEndian.PutUint16(b[6:8], k.SVlanID)
	copy(b[8:14], k.BMAC[:])
	// b[14:16] is alignment padding, left zero
	return b
}

// DecodeKey parses a 16-byte kernel key.
func DecodeKey(b []byte) (MapKey, error) {
	if len(b) != MapKeySize {
		return MapKey{}, fmt.Errorf("%w: map key is %d bytes, want %d", ErrInvalidArgument, len(b), MapKeySize)
	}
	var k MapKey
	k.Ifindex = binary.LittleEndian.Uint32(b[0:4])
	k.VlanID = binary.LittleEndian.Uint16(b[4:6])
	k.SVlanID = binary.LittleEndian.Uint16(b[6:8])
	copy(k.BMAC[:], b[8:14])
	return k, nil
}

// ActionStep is one entry of a rule's action program.
type ActionStep struct {
	Type          uint8
	TagType       uint8
	VlanID        uint16
	TargetIfindex uint32
}

// MapValue is the 50-byte action program stored per key.
type MapValue struct {
	NumActions uint8
	Steps      [MaxSteps]ActionStep
}

// Bytes encodes the value in the kernel's little-endian layout.
func (v MapValue) Bytes() [MapValueSize]byte {
	var b [MapValueSize]byte
	b[0] = v.NumActions
	for i, s := range v.Steps {
		off := 1 + i*8
		b[off] = s.Type
		b[off+1] = s.TagType
		binary.LittleEndian.PutUint16(b[off+2:off+4], s.VlanID)
		binary.LittleEndian.PutUint32(b[off+4:off+8], s.TargetIfindex)
	}
	// b[41:50] is trailing padding, left zero
	return b
}

// DecodeValue parses a 50-byte kernel value.
func DecodeValue(b []byte) (MapValue, error) {
	if len(b) != MapValueSize {
		return MapValue{}, fmt.Errorf("%w: map value is %d bytes, want %d", ErrInvalidArgument, len(b), MapValueSize)
	}
	var v MapValue
	v.NumActions = b[0]
	if v.NumActions > MaxSteps {
		return MapValue{}, fmt.Errorf("%w: num_actions %d exceeds %d", ErrInvalidArgument, v.NumActions, MaxSteps)
	}
	for i := range v.Steps {
		off := 1 + i*8
		v.Steps[i] = ActionStep{
			Type:          b[off],
			TagType:       b[off+1],
			VlanID:        binary.LittleEndian.Uint16(b[off+2 : off+4]),
			TargetIfindex: binary.LittleEndian.Uint32(b[off+4 : off+8]),
		}
	}
	return v, nil
}

// EncodeKey projects a rule's match onto the kernel key for the given
// resolved ingress ifindex.
func EncodeKey(r *Rule, ingressIfindex uint32) MapKey {
	k := MapKey{Ifindex: ingressIfindex}
	if r.CVlan != nil {
		k.VlanID = *r.CVlan
	}
	if r.SVlan != nil {
		k.SVlanID = *r.SVlan
	}
	return k
}

// EncodeValue projects a rule's actions onto the kernel value. Pops come
// first, then pushes inner-tag first so the S-tag ends up outermost on a
// data plane that inserts each pushed tag as the new outer header, then
// the terminal forward. targetIfindex is the resolved out_interface.
func EncodeValue(r *Rule, targetIfindex uint32) (MapValue, error) {
	for _, t := range []struct {
		name string
		id   *uint16
	}{
		{"svlan", r.SVlan},
		{"cvlan", r.CVlan},
		{"push_svlan", r.PushSVlan},
		{"push_cvlan", r.PushCVlan},
	} {
		if t.id != nil && (*t.id < MinVlanID || *t.id > MaxVlanID) {
			return MapValue{}, fmt.Errorf("%w: %s %d out of range", ErrInvalidArgument, t.name, *t.id)
		}
	}

	steps := make([]ActionStep, 0, MaxSteps)
	for i := 0; i < r.PopTags; i++ {
		steps = append(steps, ActionStep{Type: ActionPop, TagType: TagNone})
	}
	if r.PushCVlan != nil {
		steps = append(steps, ActionStep{Type: ActionPush, TagType: TagCVlan, VlanID: *r.PushCVlan})
	}
	if r.PushSVlan != nil {
		steps = append(steps, ActionStep{Type: ActionPush, TagType: TagSVlan, VlanID: *r.PushSVlan})
	}
	steps = append(steps, ActionStep{Type: ActionForward, TargetIfindex: targetIfindex})

	if len(steps) > MaxSteps {
		return MapValue{}, fmt.Errorf("%w: rule %q projects %d action steps, limit is %d", ErrInvalidArgument, r.Name, len(steps), MaxSteps)
	}

	var v MapValue
	v.NumActions = uint8(len(steps))
	copy(v.Steps[:], steps)
	return v, nil
}

// RuleFromEntry reconstructs the match and action attributes of a rule from
// a decoded map entry. Interface names are not recoverable from the kernel;
// the returned rule carries the raw ifindexes via the second and third
// return values instead.
func RuleFromEntry(k MapKey, v MapValue) (r Rule, ingressIfindex, targetIfindex uint32, err error) {
	if k.VlanID != 0 {
		r.CVlan = VlanID(k.VlanID)
	}
	if k.SVlanID != 0 {
		r.SVlan = VlanID(k.SVlanID)
	}
	for i := 0; i < int(v.NumActions); i++ {
		s := v.Steps[i]
		switch s.Type {
		case ActionPop:
			r.PopTags++
		case ActionPush:
			switch s.TagType {
			case TagSVlan:
				r.PushSVlan = VlanID(s.VlanID)
			case TagCVlan:
				r.PushCVlan = VlanID(s.VlanID)
			default:
				return Rule{}, 0, 0, fmt.Errorf("%w: push step %d has tag type %d", ErrInvalidArgument, i, s.TagType)
			}
		case ActionForward:
			targetIfindex = s.TargetIfindex
		default:
			return Rule{}, 0, 0, fmt.Errorf("%w: unknown action type %d at step %d", ErrInvalidArgument, s.Type, i)
		}
	}
	return r, k.Ifindex, targetIfindex, nil
}
