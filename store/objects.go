package store

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/cockroachdb/pebble"

	"github.com/deemkeen/fedinbox/domain"
)

const (
	segByInReplyTo    = "byInReplyTo"
	segByAttributedTo = "byAttributedTo"
)

// ObjectIndex stores ActivityPub objects (notes and friends) for one actor,
// with three derived indexes: global publish order, replies to a given
// object, and attribution. Objects without a parseable published timestamp
// stay out of the time-ordered indexes but remain retrievable by id.
type ObjectIndex struct {
	s      *Store
	prefix []byte
}

func newObjectIndex(s *Store, prefix []byte) *ObjectIndex {
	return &ObjectIndex{s: s, prefix: prefix}
}

// ObjectListOptions selects and filters an object listing. When InReplyTo is
// set the reply index is used; otherwise AttributedTo selects the attribution
// index; otherwise the publish-order index. To identifies the caller for the
// visibility filter.
type ObjectListOptions struct {
	Skip         int
	Limit        int
	AttributedTo string
	InReplyTo    string
	To           string
}

func (x *ObjectIndex) itemKey(id string) []byte {
	return childKey(x.prefix, segItems, url.QueryEscape(id))
}

// indexKeys returns the secondary keys for an object, empty when the object
// carries no parseable published timestamp. Deriving the keys only from the
// stored bytes keeps Add and Remove on the same entries.
func (x *ObjectIndex) indexKeys(obj *domain.Object) [][]byte {
	ts, ok := canonicalPublished(obj.Published)
	if !ok {
		return nil
	}
	escID := url.QueryEscape(obj.ID)
	keys := [][]byte{childKey(x.prefix, segByPublished, ts, escID)}
	if obj.InReplyTo != "" {
		keys = append(keys, childKey(x.prefix, segByInReplyTo, url.QueryEscape(obj.InReplyTo), ts, escID))
	}
	if obj.AttributedTo != "" {
		keys = append(keys, childKey(x.prefix, segByAttributedTo, url.QueryEscape(obj.AttributedTo), ts, escID))
	}
	return keys
}

// Add stores a raw object document and its index entries in one batch.
// Fails with ErrBadRequest when the object has no id.
func (x *ObjectIndex) Add(raw []byte) error {
	var obj domain.Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("unparseable object: %w", domain.ErrBadRequest)
	}
	if obj.ID == "" {
		return fmt.Errorf("object without id: %w", domain.ErrBadRequest)
	}

	batch := x.s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(x.itemKey(obj.ID), raw, nil); err != nil {
		return err
	}
	for _, key := range x.indexKeys(&obj) {
		if err := batch.Set(key, raw, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Get loads the raw object document by id. Fails with ErrNotFound.
func (x *ObjectIndex) Get(id string) ([]byte, error) {
	raw, err := x.s.get(x.itemKey(id))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("object %s: %w", id, domain.ErrNotFound)
	}
	return raw, err
}

// Remove deletes an object and all its index entries.
func (x *ObjectIndex) Remove(id string) error {
	raw, err := x.Get(id)
	if err != nil {
		return err
	}
	var obj domain.Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("corrupt object record %s: %w", id, err)
	}

	batch := x.s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(x.itemKey(id), nil); err != nil {
		return err
	}
	for _, key := range x.indexKeys(&obj) {
		if err := batch.Delete(key, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// List returns raw objects newest-first from exactly one index (reply takes
// precedence over attribution, then publish order), applying the visibility
// filter: an object is returned only when addressed to the public audience
// or to opts.To. Skip and limit count objects that pass the filter.
func (x *ObjectIndex) List(opts ObjectListOptions) ([]json.RawMessage, error) {
	var prefix []byte
	switch {
	case opts.InReplyTo != "":
		prefix = childKey(x.prefix, segByInReplyTo, url.QueryEscape(opts.InReplyTo))
	case opts.AttributedTo != "":
		prefix = childKey(x.prefix, segByAttributedTo, url.QueryEscape(opts.AttributedTo))
	default:
		prefix = childKey(x.prefix, segByPublished)
	}

	iter, err := x.s.prefixIter(prefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []json.RawMessage
	skipped := 0
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var obj domain.Object
		if err := json.Unmarshal(iter.Value(), &obj); err != nil {
			return nil, fmt.Errorf("corrupt object index entry: %w", err)
		}
		if !domain.VisibleTo(obj.To, opts.To) {
			continue
		}
		if skipped < opts.Skip {
			skipped++
			continue
		}
		if opts.Limit >= 0 && len(out) >= opts.Limit {
			break
		}
		raw := make([]byte, len(iter.Value()))
		copy(raw, iter.Value())
		out = append(out, raw)
	}
	return out, iter.Error()
}

// Count counts primary object records.
func (x *ObjectIndex) Count() (int, error) {
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
