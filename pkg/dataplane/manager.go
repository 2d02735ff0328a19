package dataplane

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/vishvananda/netlink"
)

const (
	// DefaultPinDir is where per-interface maps and links are pinned.
	DefaultPinDir = "/sys/fs/bpf/vmark"
	// DefaultObjectPath is the compiled XDP forwarding program.
	DefaultObjectPath = "/usr/lib/vmark/xdp_forwarding.o"

	// programName is the XDP program section inside the object file.
	programName = "xdp_forwarding"
	// mapName is the forwarding map declared by the program. Each attach
	// replaces it with the externally created per-interface map.
	mapName = "fw_table"

	mapMaxEntries = 4096

	mapKeySize   = 16
	mapValueSize = 50

	mapPinPrefix  = "fw_table_"
	linkPinPrefix = "xdp_"
)

// Compile-time assertion that Manager implements Binding.
var _ Binding = (*Manager)(nil)

// Manager is the eBPF implementation of Binding. One forwarding map and one
// program attachment exist per ingress interface, so a broken interface
// never poisons the rest and the last rule's removal can tear everything
// down for that interface.
type Manager struct {
	objPath string
	pinDir  string

	spec  *ebpf.CollectionSpec
	links map[uint32]link.Link
	maps  map[uint32]*ebpf.Map
	colls map[uint32]*ebpf.Collection
}

// NewManager creates a Manager using the given XDP object file and pin
// directory; empty strings select the defaults.
func NewManager(objPath, pinDir string) *Manager {
	if objPath == "" {
		objPath = DefaultObjectPath
	}
	if pinDir == "" {
		pinDir = DefaultPinDir
	}
	return &Manager{
		objPath: objPath,
		pinDir:  pinDir,
		links:   make(map[uint32]link.Link),
		maps:    make(map[uint32]*ebpf.Map),
		colls:   make(map[uint32]*ebpf.Collection),
	}
}

// ResolveIfindex maps an interface name to its kernel index.
func (m *Manager) ResolveIfindex(name string) (uint32, error) {
	lnk, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return 0, fmt.Errorf("%w: %s", ErrNoSuchInterface, name)
		}
		return 0, classify(fmt.Errorf("lookup interface %s: %w", name, err))
	}
	return uint32(lnk.Attrs().Index), nil
}

// InterfaceName maps a kernel index back to its interface name.
func (m *Manager) InterfaceName(ifindex uint32) (string, error) {
	lnk, err := netlink.LinkByIndex(int(ifindex))
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: ifindex %d", ErrNoSuchInterface, ifindex)
		}
		return "", classify(fmt.Errorf("lookup ifindex %d: %w", ifindex, err))
	}
	return lnk.Attrs().Name, nil
}

func (m *Manager) loadSpec() (*ebpf.CollectionSpec, error) {
	if m.spec != nil {
		return m.spec, nil
	}
	spec, err := ebpf.LoadCollectionSpec(m.objPath)
	if err != nil {
		return nil, fmt.Errorf("load XDP object %s: %w", m.objPath, err)
	}
	if _, ok := spec.Programs[programName]; !ok {
		return nil, fmt.Errorf("XDP object %s has no program %q", m.objPath, programName)
	}
	m.spec = spec
	return spec, nil
}

// Attach loads the forwarding program onto the interface, sharing the
// per-interface pinned map, and enables promiscuous mode. Idempotent.
func (m *Manager) Attach(ifindex uint32) error {
	if _, ok := m.links[ifindex]; ok {
		return nil
	}

	if err := m.EnsureMap(ifindex); err != nil {
		return err
	}

	spec, err := m.loadSpec()
	if err != nil {
		return classify(err)
	}

	coll, err := ebpf.NewCollectionWithOptions(spec.Copy(), ebpf.CollectionOptions{
		MapReplacements: map[string]*ebpf.Map{mapName: m.maps[ifindex]},
	})
	if err != nil {
		return classify(fmt.Errorf("load collection for ifindex %d: %w", ifindex, err))
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   coll.Programs[programName],
		Interface: int(ifindex),
	})
	if err != nil {
		coll.Close()
		return classify(fmt.Errorf("attach XDP to ifindex %d: %w", ifindex, err))
	}

	name, nameErr := m.InterfaceName(ifindex)
	if nameErr == nil {
		if err := l.Pin(filepath.Join(m.pinDir, linkPinPrefix+name)); err != nil {
			slog.Warn("failed to pin XDP link", "ifindex", ifindex, "err", err)
		}
	}

	m.links[ifindex] = l
	m.colls[ifindex] = coll

	if err := m.setPromisc(ifindex, true); err != nil {
		slog.Warn("failed to enable promiscuous mode", "ifindex", ifindex, "err", err)
	}

	slog.Info("attached XDP forwarding program", "ifindex", ifindex, "interface", name)
	return nil
}

// Detach removes the program from the interface and disables promiscuous
// mode. Idempotent.
func (m *Manager) Detach(ifindex uint32) error {
	l, ok := m.links[ifindex]
	if !ok {
		return nil
	}
	if err := l.Unpin(); err != nil && !os.IsNotExist(err) {
		slog.Debug("unpin XDP link", "ifindex", ifindex, "err", err)
	}
	if err := l.Close(); err != nil {
		return classify(fmt.Errorf("detach XDP from ifindex %d: %w", ifindex, err))
	}
	delete(m.links, ifindex)

	if coll, ok := m.colls[ifindex]; ok {
		coll.Close()
		delete(m.colls, ifindex)
	}

	if err := m.setPromisc(ifindex, false); err != nil {
		slog.Warn("failed to disable promiscuous mode", "ifindex", ifindex, "err", err)
	}

	slog.Info("detached XDP forwarding program", "ifindex", ifindex)
	return nil
}

// Attached lists interfaces with the program attached.
func (m *Manager) Attached() []uint32 {
	out := make([]uint32, 0, len(m.links))
	for ifindex := range m.links {
		out = append(out, ifindex)
	}
	return out
}

// EnsureMap creates or opens the pinned forwarding map for the interface.
func (m *Manager) EnsureMap(ifindex uint32) error {
	if _, ok := m.maps[ifindex]; ok {
		return nil
	}

	name, err := m.InterfaceName(ifindex)
	if err != nil {
		return err
	}
	pinPath := filepath.Join(m.pinDir, mapPinPrefix+name)

	if mp, err := ebpf.LoadPinnedMap(pinPath, nil); err == nil {
		m.maps[ifindex] = mp
		return nil
	}

	if err := os.MkdirAll(m.pinDir, 0o755); err != nil {
		return classify(fmt.Errorf("create pin dir %s: %w", m.pinDir, err))
	}

	mp, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       mapName,
		Type:       ebpf.Hash,
		KeySize:    mapKeySize,
		ValueSize:  mapValueSize,
		MaxEntries: mapMaxEntries,
	})
	if err != nil {
		return classify(fmt.Errorf("create map for %s: %w", name, err))
	}
	if err := mp.Pin(pinPath); err != nil {
		mp.Close()
		return classify(fmt.Errorf("pin map %s: %w", pinPath, err))
	}

	m.maps[ifindex] = mp
	slog.Info("created forwarding map", "interface", name, "pin", pinPath)
	return nil
}

// DeleteMap unpins and closes the per-interface map.
func (m *Manager) DeleteMap(ifindex uint32) error {
	mp, ok := m.maps[ifindex]
	if !ok {
		return nil
	}
	if err := mp.Unpin(); err != nil && !os.IsNotExist(err) {
		return classify(fmt.Errorf("unpin map for ifindex %d: %w", ifindex, err))
	}
	mp.Close()
	delete(m.maps, ifindex)
	return nil
}

func (m *Manager) mapFor(ifindex uint32) (*ebpf.Map, error) {
	mp, ok := m.maps[ifindex]
	if !ok {
		return nil, fmt.Errorf("no forwarding map open for ifindex %d", ifindex)
	}
	return mp, nil
}

// MapPut writes one entry.
func (m *Manager) MapPut(ifindex uint32, key, value []byte) error {
	mp, err := m.mapFor(ifindex)
	if err != nil {
		return err
	}
	if err := mp.Update(key, value, ebpf.UpdateAny); err != nil {
		return classify(fmt.Errorf("map update on ifindex %d: %w", ifindex, err))
	}
	return nil
}

// MapDelete removes one entry. Deleting an absent key is not an error.
func (m *Manager) MapDelete(ifindex uint32, key []byte) error {
	mp, err := m.mapFor(ifindex)
	if err != nil {
		return err
	}
	if err := mp.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return classify(fmt.Errorf("map delete on ifindex %d: %w", ifindex, err))
	}
	return nil
}

// MapClear removes every entry.
func (m *Manager) MapClear(ifindex uint32) error {
	entries, err := m.MapEntries(ifindex)
	if err != nil {
		return err
	}
	for k := range entries {
		key := k
		if err := m.MapDelete(ifindex, key[:]); err != nil {
			return err
		}
	}
	return nil
}

// MapEntries dumps the interface's map.
func (m *Manager) MapEntries(ifindex uint32) (map[[16]byte][]byte, error) {
	mp, err := m.mapFor(ifindex)
	if err != nil {
		return nil, err
	}

	out := make(map[[16]byte][]byte)
	var key [mapKeySize]byte
	var val [mapValueSize]byte
	iter := mp.Iterate()
	for iter.Next(&key, &val) {
		out[key] = append([]byte(nil), val[:]...)
	}
	if err := iter.Err(); err != nil {
		return nil, classify(fmt.Errorf("map iterate on ifindex %d: %w", ifindex, err))
	}
	return out, nil
}

// DiscoverPinned restores link and map state from the pin directory after a
// daemon restart, so startup reconciliation sees what is actually attached.
func (m *Manager) DiscoverPinned() error {
	entries, err := os.ReadDir(m.pinDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return classify(fmt.Errorf("read pin dir %s: %w", m.pinDir, err))
	}

	for _, e := range entries {
		switch {
		case strings.HasPrefix(e.Name(), linkPinPrefix):
			iface := strings.TrimPrefix(e.Name(), linkPinPrefix)
			ifindex, err := m.ResolveIfindex(iface)
			if err != nil {
				slog.Warn("pinned XDP link references missing interface", "interface", iface, "err", err)
				continue
			}
			l, err := link.LoadPinnedLink(filepath.Join(m.pinDir, e.Name()), nil)
			if err != nil {
				slog.Warn("failed to load pinned XDP link", "interface", iface, "err", err)
				continue
			}
			m.links[ifindex] = l
		case strings.HasPrefix(e.Name(), mapPinPrefix):
			iface := strings.TrimPrefix(e.Name(), mapPinPrefix)
			ifindex, err := m.ResolveIfindex(iface)
			if err != nil {
				slog.Warn("pinned map references missing interface", "interface", iface, "err", err)
				continue
			}
			mp, err := ebpf.LoadPinnedMap(filepath.Join(m.pinDir, e.Name()), nil)
			if err != nil {
				slog.Warn("failed to load pinned map", "interface", iface, "err", err)
				continue
			}
			m.maps[ifindex] = mp
		}
	}
	return nil
}

// Close releases all kernel resources without unpinning, so state survives
// a daemon restart.
func (m *Manager) Close() error {
	for ifindex, l := range m.links {
		if err := l.Close(); err != nil {
			slog.Error("failed to close XDP link", "ifindex", ifindex, "err", err)
		}
	}
	for _, coll := range m.colls {
		coll.Close()
	}
	for _, mp := range m.maps {
		mp.Close()
	}
	m.links = make(map[uint32]link.Link)
	m.colls = make(map[uint32]*ebpf.Collection)
	m.maps = make(map[uint32]*ebpf.Map)
	return nil
}

func (m *Manager) setPromisc(ifindex uint32, on bool) error {
	lnk, err := netlink.LinkByIndex(int(ifindex))
	if err != nil {
		return err
	}
	if on {
		return netlink.SetPromiscOn(lnk)
	}
	return netlink.SetPromiscOff(lnk)
}
