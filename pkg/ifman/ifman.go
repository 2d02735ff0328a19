// Package ifman manages interfaces and VLAN/QinQ sub-interfaces via
// netlink: creation, addressing, MTU, and admin state.
package ifman

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"

	"github.com/vishvananda/netlink"
)

const (
	// MinMTU and MaxMTU bound operator-settable MTU values.
	MinMTU = 1000
	MaxMTU = 10000
)

// ErrNotFound indicates the named interface does not exist.
var ErrNotFound = errors.New("interface not found")

// SubInterface describes a VLAN or QinQ sub-interface to create.
// SVlanID zero means a single-tagged 802.1Q sub-interface; non-zero builds
// an 802.1ad outer interface on the parent with an inner 802.1Q interface
// stacked on it.
type SubInterface struct {
	Parent  string
	CVlanID uint16
	SVlanID uint16
	MTU     int    // 0 keeps the parent's MTU
	IPv4    string // optional CIDR, e.g. 192.0.2.1/24
}

// Name returns the derived interface name: parent.svlan.cvlan for QinQ,
// parent.cvlan otherwise.
func (s SubInterface) Name() string {
	if s.SVlanID != 0 {
		return fmt.Sprintf("%s.%d.%d", s.Parent, s.SVlanID, s.CVlanID)
	}
	return fmt.Sprintf("%s.%d", s.Parent, s.CVlanID)
}

// InterfaceInfo is a snapshot of one link for show commands.
type InterfaceInfo struct {
	Name      string   `json:"name"`
	Index     int      `json:"index"`
	MTU       int      `json:"mtu"`
	OperState string   `json:"oper_state"`
	MAC       string   `json:"mac"`
	Addresses []string `json:"addresses"`
	Parent    string   `json:"parent,omitempty"`
	VlanID    int      `json:"vlan_id,omitempty"`
}

// Manager performs interface operations through netlink.
type Manager struct{}

// New creates an interface manager.
func New() *Manager { return &Manager{} }

func linkByName(name string) (netlink.Link, error) {
	lnk, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("lookup %s: %w", name, err)
	}
	return lnk, nil
}

// CreateSubInterface creates the sub-interface stack, applies MTU and
// address, and brings the new links up. Returns the innermost link name.
func (m *Manager) CreateSubInterface(s SubInterface) (string, error) {
	if s.CVlanID < 1 || s.CVlanID > 4094 {
		return "", fmt.Errorf("cvlan-id %d out of range 1..4094", s.CVlanID)
	}
	if s.SVlanID > 4094 {
		return "", fmt.Errorf("svlan-id %d out of range 1..4094", s.SVlanID)
	}
	if s.MTU != 0 && (s.MTU < MinMTU || s.MTU > MaxMTU) {
		return "", fmt.Errorf("mtu %d out of range %d..%d", s.MTU, MinMTU, MaxMTU)
	}

	parent, err := linkByName(s.Parent)
	if err != nil {
		return "", err
	}

	attachTo := parent
	if s.SVlanID != 0 {
		outerName := fmt.Sprintf("%s.%d", s.Parent, s.SVlanID)
		outer, err := netlink.LinkByName(outerName)
		if err != nil {
			outerLink := &netlink.Vlan{
				LinkAttrs:    netlink.LinkAttrs{Name: outerName, ParentIndex: parent.Attrs().Index},
				VlanId:       int(s.SVlanID),
				VlanProtocol: netlink.VLAN_PROTOCOL_8021AD,
			}
			if err := netlink.LinkAdd(outerLink); err != nil {
				return "", fmt.Errorf("create outer tag interface %s: %w", outerName, err)
			}
			if err := netlink.LinkSetUp(outerLink); err != nil {
				return "", fmt.Errorf("bring up %s: %w", outerName, err)
			}
			outer = outerLink
			slog.Info("created S-VLAN interface", "name", outerName, "svlan", s.SVlanID)
		}
		attachTo = outer
	}

	name := s.Name()
	inner := &netlink.Vlan{
		LinkAttrs:    netlink.LinkAttrs{Name: name, ParentIndex: attachTo.Attrs().Index},
		VlanId:       int(s.CVlanID),
		VlanProtocol: netlink.VLAN_PROTOCOL_8021Q,
	}
	if s.MTU != 0 {
		inner.LinkAttrs.MTU = s.MTU
	}
	if err := netlink.LinkAdd(inner); err != nil {
		return "", fmt.Errorf("create sub-interface %s: %w", name, err)
	}

	if s.IPv4 != "" {
		addr, err := netlink.ParseAddr(s.IPv4)
		if err != nil {
			netlink.LinkDel(inner)
			return "", fmt.Errorf("parse address %q: %w", s.IPv4, err)
		}
		if err := netlink.AddrAdd(inner, addr); err != nil {
			netlink.LinkDel(inner)
			return "", fmt.Errorf("assign %s to %s: %w", s.IPv4, name, err)
		}
	}

	if err := netlink.LinkSetUp(inner); err != nil {
		return "", fmt.Errorf("bring up %s: %w", name, err)
	}

	slog.Info("created sub-interface", "name", name, "cvlan", s.CVlanID, "svlan", s.SVlanID)
	return name, nil
}

// DeleteInterface removes a sub-interface.
func (m *Manager) DeleteInterface(name string) error {
	lnk, err := linkByName(name)
	if err != nil {
		return err
	}
	if _, ok := lnk.(*netlink.Vlan); !ok {
		return fmt.Errorf("refusing to delete %s: not a VLAN sub-interface", name)
	}
	if err := netlink.LinkDel(lnk); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	slog.Info("deleted sub-interface", "name", name)
	return nil
}

// SetMTU changes an interface's MTU.
func (m *Manager) SetMTU(name string, mtu int) error {
	if mtu < MinMTU || mtu > MaxMTU {
		return fmt.Errorf("mtu %d out of range %d..%d", mtu, MinMTU, MaxMTU)
	}
	lnk, err := linkByName(name)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetMTU(lnk, mtu); err != nil {
		return fmt.Errorf("set mtu on %s: %w", name, err)
	}
	return nil
}

// SetAddress replaces the interface's IPv4 addresses with the given CIDR.
func (m *Manager) SetAddress(name, cidr string) error {
	lnk, err := linkByName(name)
	if err != nil {
		return err
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", cidr, err)
	}
	existing, err := netlink.AddrList(lnk, netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("list addresses on %s: %w", name, err)
	}
	for i := range existing {
		if err := netlink.AddrDel(lnk, &existing[i]); err != nil {
			slog.Warn("failed to remove old address", "interface", name, "addr", existing[i].IPNet, "err", err)
		}
	}
	if err := netlink.AddrAdd(lnk, addr); err != nil {
		return fmt.Errorf("assign %s to %s: %w", cidr, name, err)
	}
	return nil
}

// SetStatus brings an interface up or down.
func (m *Manager) SetStatus(name string, up bool) error {
	lnk, err := linkByName(name)
	if err != nil {
		return err
	}
	if up {
		err = netlink.LinkSetUp(lnk)
	} else {
		err = netlink.LinkSetDown(lnk)
	}
	if err != nil {
		return fmt.Errorf("set status on %s: %w", name, err)
	}
	return nil
}

// virtualPrefixes name link types hidden from the default listing.
var virtualPrefixes = []string{
	"lo", "docker", "veth", "br-", "virbr", "kube-", "dummy",
	"ifb", "tun", "tap", "wg", "vxlan", "geneve", "gretap", "ip6tnl", "sit",
}

func isVirtual(name string) bool {
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// List returns interface snapshots sorted by name. With includeVirtual
// false, loopback/container/tunnel links are filtered out.
func (m *Manager) List(includeVirtual bool) ([]InterfaceInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	byIndex := make(map[int]string, len(links))
	for _, lnk := range links {
		byIndex[lnk.Attrs().Index] = lnk.Attrs().Name
	}

	var out []InterfaceInfo
	for _, lnk := range links {
		attrs := lnk.Attrs()
		if !includeVirtual && isVirtual(attrs.Name) {
			continue
		}
		info := InterfaceInfo{
			Name:      attrs.Name,
			Index:     attrs.Index,
			MTU:       attrs.MTU,
			OperState: attrs.OperState.String(),
		}
		if attrs.HardwareAddr != nil {
			info.MAC = attrs.HardwareAddr.String()
		}
		if vlan, ok := lnk.(*netlink.Vlan); ok {
			info.VlanID = vlan.VlanId
			info.Parent = byIndex[attrs.ParentIndex]
		}
		addrs, err := netlink.AddrList(lnk, netlink.FAMILY_ALL)
		if err == nil {
			for _, a := range addrs {
				if a.IP.IsLinkLocalUnicast() && a.IP.To4() == nil {
					continue
				}
				info.Addresses = append(info.Addresses, a.IPNet.String())
			}
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// HardwareAddr returns the MAC of the named interface.
func (m *Manager) HardwareAddr(name string) (net.HardwareAddr, error) {
	lnk, err := linkByName(name)
	if err != nil {
		return nil, err
	}
	return lnk.Attrs().HardwareAddr, nil
}
