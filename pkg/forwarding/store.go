package forwarding

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// snapshotFile is the rules file name inside the state directory.
const snapshotFile = "forwarding_table.json"

// snapshot is the on-disk document shape. Only user rules are stored;
// inverses are recomputed at load so disk and regeneration can never
// disagree.
type snapshot struct {
	Rules []*Rule `json:"rules"`
}

// Store persists the forwarding table as a JSON snapshot.
type Store struct {
	path string
}

// NewStore creates a store writing to dir/forwarding_table.json.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, snapshotFile)}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Save atomically replaces the snapshot with the given user rules:
// write a temp file in the same directory, fsync, rename.
func (s *Store) Save(rules []*Rule) error {
	doc := snapshot{Rules: rules}
	if doc.Rules == nil {
		doc.Rules = []*Rule{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create state dir: %v", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, snapshotFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp snapshot: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write snapshot: %v", ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync snapshot: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close snapshot: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename snapshot: %v", ErrPersistence, err)
	}
	return nil
}

// Load reads the snapshot. A missing file is an empty table, not an error.
func (s *Store) Load() ([]*Rule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read snapshot: %v", ErrPersistence, err)
	}

	var doc snapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse snapshot %s: %v", ErrPersistence, s.path, err)
	}
	return doc.Rules, nil
}

// LoadInto loads the snapshot into the table, logging a warning for each
// rule that failed validation and was dropped.
func (s *Store) LoadInto(t *Table) error {
	rules, err := s.Load()
	if err != nil {
		return err
	}
	for _, name := range t.LoadUserRules(rules) {
		slog.Warn("dropped invalid persisted rule", "name", name, "file", s.path)
	}
	return nil
}
