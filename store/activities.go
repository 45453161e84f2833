package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/logger"
)

const (
	segItems       = "items"
	segByPublished = "byPublished"
	segVersion     = "version"

	indexSchemaVersion = "1"
)

// ActivityIndex stores one activity collection (an inbox or outbox) for one
// actor. Every activity is written twice: a primary record keyed by its
// URL-encoded id, and a published-time index entry so listing is a reverse
// range scan. Both writes share one batch, so primary and index never drift.
type ActivityIndex struct {
	s      *Store
	prefix []byte

	mu       sync.Mutex
	migrated bool
}

func newActivityIndex(s *Store, prefix []byte) *ActivityIndex {
	return &ActivityIndex{s: s, prefix: prefix}
}

func (x *ActivityIndex) itemKey(id string) []byte {
	return childKey(x.prefix, segItems, url.QueryEscape(id))
}

func (x *ActivityIndex) indexKey(published, id string) []byte {
	return childKey(x.prefix, segByPublished, published+"-"+url.QueryEscape(id))
}

// canonicalPublished maps a parseable published timestamp to the fixed-width
// UTC RFC3339 form used in index keys, so keys sort chronologically. ok is
// false when the value is absent or not RFC3339.
func canonicalPublished(published string) (string, bool) {
	t, err := time.Parse(time.RFC3339, published)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

// Add stores an activity and its index entry. Fails with ErrBadRequest when
// the activity has no id.
func (x *ActivityIndex) Add(act *domain.Activity) error {
	if act.ID == "" {
		return fmt.Errorf("activity without id: %w", domain.ErrBadRequest)
	}
	// Canonicalize published before storing so every later index-key
	// derivation (removal, re-indexing) lands on the same entry. Absent
	// or unparseable values become the insertion time.
	published, ok := canonicalPublished(act.Published)
	if !ok {
		published = time.Now().UTC().Format(time.RFC3339)
	}
	act.Published = published
	data, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	batch := x.s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(x.itemKey(act.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set(x.indexKey(published, act.ID), data, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Get loads an activity by id. Fails with ErrNotFound when absent.
func (x *ActivityIndex) Get(id string) (*domain.Activity, error) {
	data, err := x.s.get(x.itemKey(id))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var act domain.Activity
	if err := json.Unmarshal(data, &act); err != nil {
		return nil, fmt.Errorf("corrupt activity record %s: %w", id, err)
	}
	return &act, nil
}

// Remove deletes an activity and its index entry. The record is loaded first
// to recover its published value for the index key; Add and Migrate keep that
// value canonical, so the derivation is exact.
func (x *ActivityIndex) Remove(id string) error {
	if err := x.Migrate(); err != nil {
		return err
	}
	act, err := x.Get(id)
	if err != nil {
		return err
	}

	batch := x.s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(x.itemKey(id), nil); err != nil {
		return err
	}
	if ts, ok := canonicalPublished(act.Published); ok {
		if err := batch.Delete(x.indexKey(ts, id), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// List returns activities ordered by published time descending, honoring
// skip and limit. A limit < 0 means no limit.
func (x *ActivityIndex) List(skip, limit int) ([]*domain.Activity, error) {
	if err := x.Migrate(); err != nil {
		return nil, err
	}

	prefix := childKey(x.prefix, segByPublished)
	iter, err := x.s.prefixIter(prefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*domain.Activity
	skipped := 0
	for ok := iter.Last(); ok; ok = iter.Prev() {
		if skipped < skip {
			skipped++
			continue
		}
		if limit >= 0 && len(out) >= limit {
			break
		}
		var act domain.Activity
		if err := json.Unmarshal(iter.Value(), &act); err != nil {
			return nil, fmt.Errorf("corrupt activity index entry: %w", err)
		}
		out = append(out, &act)
	}
	return out, iter.Error()
}

// Count counts primary records with a direct scan. Collections are bounded
// per actor, so O(n) is acceptable here.
func (x *ActivityIndex) Count() (int, error) {
	iter, err := x.s.prefixIter(childKey(x.prefix, segItems))
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Migrate backfills the published-time index from primary records written
// before the index existed. It runs at most once per process (a version
// marker makes it a no-op on every store opened after the index shipped) and
// is idempotent: re-running yields the same index state.
func (x *ActivityIndex) Migrate() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.migrated {
		return nil
	}

	versionKey := childKey(x.prefix, segVersion)
	if v, err := x.s.get(versionKey); err == nil && string(v) == indexSchemaVersion {
		x.migrated = true
		return nil
	} else if err != nil && err != pebble.ErrNotFound {
		return err
	}

	iter, err := x.s.prefixIter(childKey(x.prefix, segItems))
	if err != nil {
		return err
	}
	defer iter.Close()

	batch := x.s.db.NewBatch()
	defer batch.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var act domain.Activity
		if err := json.Unmarshal(iter.Value(), &act); err != nil {
			continue
		}
		if act.ID == "" {
			continue
		}
		ts, ok := canonicalPublished(act.Published)
		if !ok {
			ts = time.Now().UTC().Format(time.RFC3339)
		}
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		if act.Published != ts {
			// Rewrite the primary record with the timestamp the index
			// entry is keyed under, so removal derives the same key.
			act.Published = ts
			rewritten, err := json.Marshal(&act)
			if err != nil {
				continue
			}
			value = rewritten
			if err := batch.Set(x.itemKey(act.ID), value, nil); err != nil {
				return err
			}
		}
		if err := batch.Set(x.indexKey(ts, act.ID), value, nil); err != nil {
			return err
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if err := batch.Set(versionKey, []byte(indexSchemaVersion), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}
	if n > 0 {
		logger.Info("activity_index_migrated", zap.Int("entries", n))
	}
	x.migrated = true
	return nil
}
