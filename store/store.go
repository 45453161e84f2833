// Package store persists all federation state in a single pebble database.
// The key space is partitioned into hierarchical "sublevels": segments joined
// by a NUL byte, so prefix iteration over any partition is a range scan.
package store

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/deemkeen/fedinbox/logger"
)

// Top-level partitions.
const (
	partBlocklist  = "blocklist"
	partAllowlist  = "allowlist"
	partAdmins     = "admins"
	partActor      = "actor"
	partDeliveries = "deliveries"
)

const sep = "\x00"

// Store owns the pebble handle, the global pattern sets and the actor
// registry. It replaces any process-global state: everything hangs off this
// struct.
type Store struct {
	db   *pebble.DB
	path string

	Blocklist *PatternSet
	Allowlist *PatternSet
	Admins    *PatternSet

	mu     sync.Mutex
	actors map[string]*ActorStore
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	logger.Info("store_opened", zap.String("path", path))

	s := &Store{
		db:     db,
		path:   path,
		actors: make(map[string]*ActorStore),
	}
	s.Blocklist = &PatternSet{s: s, prefix: subKey(partBlocklist)}
	s.Allowlist = &PatternSet{s: s, prefix: subKey(partAllowlist)}
	s.Admins = &PatternSet{s: s, prefix: subKey(partAdmins)}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("store_closed", zap.String("path", s.path))
	return err
}

// subKey joins segments into a sublevel key prefix.
func subKey(segments ...string) []byte {
	var b bytes.Buffer
	for i, seg := range segments {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(seg)
	}
	return b.Bytes()
}

// childKey appends segments below an existing prefix.
func childKey(prefix []byte, segments ...string) []byte {
	out := make([]byte, len(prefix), len(prefix)+16)
	copy(out, prefix)
	for _, seg := range segments {
		out = append(out, sep...)
		out = append(out, seg...)
	}
	return out
}

// upperBound returns the exclusive end key of the range sharing prefix.
// All keys under a prefix continue with the NUL separator, so a single 0xff
// byte caps the range.
func upperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = 0xff
	return out
}

// get fetches a value, copying it out of pebble's buffer. Returns
// pebble.ErrNotFound when absent.
func (s *Store) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, closer.Close()
}

func (s *Store) set(key, value []byte) error {
	return s.db.Set(key, value, pebble.Sync)
}

func (s *Store) delete(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

// prefixIter opens an iterator bounded to the given prefix.
func (s *Store) prefixIter(prefix []byte) (*pebble.Iterator, error) {
	return s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
}

// deletePrefix removes every key under prefix in one atomic batch.
func (s *Store) deletePrefix(prefix []byte) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}
