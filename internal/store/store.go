// store.go - Durable append-only log on pebble.
//
// Settlement records and completed matches are persisted under prefixed
// keys. Each prefix has a single writer (the settlement coordinator, the
// ingest path); reads may come from anywhere.

package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Key prefixes. A key is "<prefix>/<id>".
const (
	PrefixSettlement = "settlement"
	PrefixMatch      = "match"
)

// Store wraps one pebble database.
type Store struct {
	db  *pebble.DB
	log *zap.Logger
}

// Open opens (or creates) the database at dir.
func Open(dir string, log *zap.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", dir, err)
	}
	return &Store{db: db, log: log}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutJSON writes one value under its prefix, synced.
func (s *Store) PutJSON(prefix, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", prefix, id, err)
	}
	if err := s.db.Set(key(prefix, id), data, pebble.Sync); err != nil {
		return fmt.Errorf("put %s/%s: %w", prefix, id, err)
	}
	return nil
}

// GetJSON reads one value into out. Returns false when the key is absent.
func (s *Store) GetJSON(prefix, id string, out any) (bool, error) {
	data, closer, err := s.db.Get(key(prefix, id))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", prefix, id, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", prefix, id, err)
	}
	return true, nil
}

// List returns the raw values under a prefix in key order.
func (s *Store) List(prefix string) ([][]byte, error) {
	lower := []byte(prefix + "/")
	upper := []byte(prefix + "0") // '0' is '/'+1
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("iterate %s: %w", prefix, err)
	}
	defer iter.Close()

	var out [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		v, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("iterate %s: %w", prefix, err)
		}
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

// ListJSON decodes every value under a prefix into a fresh *T each.
// Undecodable values are logged and skipped.
func ListJSON[T any](s *Store, prefix string) ([]*T, error) {
	raw, err := s.List(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(raw))
	for _, data := range raw {
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			s.log.Warn("skipping undecodable record",
				zap.String("prefix", prefix),
				zap.Error(err),
			)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func key(prefix, id string) []byte {
	return []byte(prefix + "/" + id)
}
