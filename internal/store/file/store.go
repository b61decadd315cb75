// Package file is the default state backend: two JSON documents replaced
// atomically on every save, plus an append-only CSV trade log.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/revbot/internal/domain"
)

const (
	positionsFile = "positions.json"
	ordersFile    = "pending_orders.json"
	tradesFile    = "trades.csv"
	runsDir       = "runs"
)

// Store keeps state under a single directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

var _ domain.StateStore = (*Store)(nil)

// New creates the directory if needed and returns a Store rooted at it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// LoadPositions reads positions.json. A missing file is an empty ledger.
func (s *Store) LoadPositions(_ context.Context) (map[string]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]domain.Position{}
	if err := s.readJSON(positionsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SavePositions replaces positions.json.
func (s *Store) SavePositions(_ context.Context, positions map[string]domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(positionsFile, nonNil(positions))
}

// LoadPendingOrders reads pending_orders.json. A missing file is an empty
// tracker.
func (s *Store) LoadPendingOrders(_ context.Context) (map[string]domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]domain.PendingOrder{}
	if err := s.readJSON(ordersFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SavePendingOrders replaces pending_orders.json.
func (s *Store) SavePendingOrders(_ context.Context, orders map[string]domain.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(ordersFile, nonNil(orders))
}

// Commit appends new trades first and then replaces both state documents.
// The two documents are swapped one after the other, so a crash between them
// can leave the tracker one cycle behind the ledger; the next reconcile
// repairs that from the broker.
func (s *Store) Commit(_ context.Context, state domain.CycleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendTrades(state.NewTrades); err != nil {
		return err
	}
	if err := s.writeJSON(positionsFile, nonNil(state.Positions)); err != nil {
		return err
	}
	return s.writeJSON(ordersFile, nonNil(state.Orders))
}

func (s *Store) readJSON(name string, v any) error {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(b) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file store: read %s: %w", name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("file store: decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode %s: %w", name, err)
	}
	b = append(b, '\n')
	return writeAtomic(filepath.Join(s.dir, name), b)
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file store: temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("file store: chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("file store: rename %s: %w", path, err)
	}
	return nil
}

func nonNil[M ~map[K]V, K comparable, V any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}
