package store

import (
	"strings"

	"github.com/cockroachdb/pebble"
)

// PatternSet is a wildcard-pattern membership set over mention strings,
// backing block/allow/admin/follower lists. Patterns are stored under
// <prefix>\x00<domain>\x00<username> so exact and wildcard lookups are point
// reads; the original pattern string is kept as the value for listing.
type PatternSet struct {
	s      *Store
	prefix []byte
}

// patternSegments splits "@user@domain" into its key segments. Malformed
// patterns yield empty segments; mention format is validated upstream.
func patternSegments(pattern string) (username, domain string) {
	parts := strings.Split(strings.TrimPrefix(pattern, "@"), "@")
	if len(parts) > 0 {
		username = parts[0]
	}
	if len(parts) > 1 {
		domain = parts[1]
	}
	return
}

func (p *PatternSet) key(pattern string) []byte {
	username, domain := patternSegments(pattern)
	return childKey(p.prefix, domain, username)
}

// Add inserts the given patterns in one atomic batch.
func (p *PatternSet) Add(patterns ...string) error {
	batch := p.s.db.NewBatch()
	defer batch.Close()
	for _, pattern := range patterns {
		if err := batch.Set(p.key(pattern), []byte(pattern), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Remove deletes the given patterns in one atomic batch.
func (p *PatternSet) Remove(patterns ...string) error {
	batch := p.s.db.NewBatch()
	defer batch.Close()
	for _, pattern := range patterns {
		if err := batch.Delete(p.key(pattern), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// List returns all stored patterns. No ordering guarantee.
func (p *PatternSet) List() ([]string, error) {
	iter, err := p.s.prefixIter(p.prefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

// Has reports whether the exact pattern is present.
func (p *PatternSet) Has(pattern string) (bool, error) {
	_, err := p.s.get(p.key(pattern))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Matches reports whether a mention matches any stored pattern, checking the
// full wildcard, then the domain wildcard, then the exact mention. First
// match wins.
func (p *PatternSet) Matches(mention string) (bool, error) {
	username, domain := patternSegments(mention)
	candidates := [][2]string{
		{"*", "*"},
		{"*", domain},
		{username, domain},
	}
	for _, c := range candidates {
		_, err := p.s.get(childKey(p.prefix, c[1], c[0]))
		if err == pebble.ErrNotFound {
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
