// Package bolt is an embedded, transactional state backend. A cycle's
// positions, pending orders and new trades are committed in one bbolt
// transaction.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alanyoungcy/revbot/internal/domain"
)

const (
	bucketPositions = "positions"
	bucketOrders    = "pending_orders"
	bucketTrades    = "closed_trades"
)

// Store wraps a bbolt database.
type Store struct {
	db *bolt.DB
}

var _ domain.StateStore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt store: create dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketPositions, bucketOrders, bucketTrades} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("bolt store: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadPositions reads every position.
func (s *Store) LoadPositions(_ context.Context) (map[string]domain.Position, error) {
	out := map[string]domain.Position{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return loadAll(tx.Bucket([]byte(bucketPositions)), out)
	})
	return out, err
}

// SavePositions replaces the positions bucket.
func (s *Store) SavePositions(_ context.Context, positions map[string]domain.Position) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return replaceAll(tx, bucketPositions, positions)
	})
}

// LoadPendingOrders reads every tracked order.
func (s *Store) LoadPendingOrders(_ context.Context) (map[string]domain.PendingOrder, error) {
	out := map[string]domain.PendingOrder{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return loadAll(tx.Bucket([]byte(bucketOrders)), out)
	})
	return out, err
}

// SavePendingOrders replaces the pending orders bucket.
func (s *Store) SavePendingOrders(_ context.Context, orders map[string]domain.PendingOrder) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return replaceAll(tx, bucketOrders, orders)
	})
}

// AppendTrades adds trades to the log.
func (s *Store) AppendTrades(_ context.Context, trades []domain.ClosedTrade) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return appendTrades(tx.Bucket([]byte(bucketTrades)), trades)
	})
}

// ListTrades returns trades in insertion order, filtered by exit time.
func (s *Store) ListTrades(_ context.Context, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	var out []domain.ClosedTrade
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTrades)).ForEach(func(_, v []byte) error {
			var t domain.ClosedTrade
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("bolt store: decode trade: %w", err)
			}
			if opts.Since != nil && t.ExitTime.Before(*opts.Since) {
				return nil
			}
			if opts.Until != nil && !t.ExitTime.Before(*opts.Until) {
				return nil
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

// Commit writes the whole cycle result in a single transaction.
func (s *Store) Commit(_ context.Context, state domain.CycleState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := replaceAll(tx, bucketPositions, state.Positions); err != nil {
			return err
		}
		if err := replaceAll(tx, bucketOrders, state.Orders); err != nil {
			return err
		}
		return appendTrades(tx.Bucket([]byte(bucketTrades)), state.NewTrades)
	})
}

func loadAll[V any](b *bolt.Bucket, out map[string]V) error {
	return b.ForEach(func(k, v []byte) error {
		var val V
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("bolt store: decode %s: %w", k, err)
		}
		out[string(k)] = val
		return nil
	})
}

// replaceAll drops and recreates bucket so keys absent from m disappear.
func replaceAll[V any](tx *bolt.Tx, bucket string, m map[string]V) error {
	if err := tx.DeleteBucket([]byte(bucket)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return fmt.Errorf("bolt store: clear %s: %w", bucket, err)
	}
	b, err := tx.CreateBucket([]byte(bucket))
	if err != nil {
		return fmt.Errorf("bolt store: create %s: %w", bucket, err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		data, err := json.Marshal(m[k])
		if err != nil {
			return fmt.Errorf("bolt store: encode %s: %w", k, err)
		}
		if err := b.Put([]byte(k), data); err != nil {
			return fmt.Errorf("bolt store: put %s: %w", k, err)
		}
	}
	return nil
}

func appendTrades(b *bolt.Bucket, trades []domain.ClosedTrade) error {
	for _, t := range trades {
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("bolt store: trade sequence: %w", err)
		}
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("bolt store: encode trade: %w", err)
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("bolt store: put trade: %w", err)
		}
	}
	return nil
}

// seqKey is a big-endian sequence number so cursor order is insertion order.
func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}
