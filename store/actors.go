package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/cockroachdb/pebble"

	"github.com/deemkeen/fedinbox/domain"
)

// Per-actor sublevels.
const (
	segInfo       = "info"
	segInbox      = "inbox"
	segOutbox     = "outbox"
	segBlocklist  = "blocklist"
	segAllowlist  = "allowlist"
	segFollowers  = "followers"
	segInteracted = "interacted"
	segHooks      = "hooks"
	segObjects    = "objects"
)

// ActorStore aggregates everything one local actor owns: profile record,
// inbox/outbox, per-actor lists, followers, webhook configuration and the
// object store.
type ActorStore struct {
	s      *Store
	key    string
	prefix []byte

	Inbox      *ActivityIndex
	Outbox     *ActivityIndex
	Objects    *ObjectIndex
	Blocklist  *PatternSet
	Allowlist  *PatternSet
	Followers  *PatternSet
	Interacted *PatternSet
}

// Actor returns the store handle for the given actor key (a mention string
// or a domain), creating it on first access. Handles are cached for the
// Store's lifetime; creation is serialized so concurrent first-access cannot
// race to duplicate handles. Inbox and outbox index migration runs here,
// once at handle creation, instead of on every list.
func (s *Store) Actor(key string) (*ActorStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.actors[key]; ok {
		return a, nil
	}

	prefix := subKey(partActor, url.QueryEscape(key))
	a := &ActorStore{
		s:          s,
		key:        key,
		prefix:     prefix,
		Inbox:      newActivityIndex(s, childKey(prefix, segInbox)),
		Outbox:     newActivityIndex(s, childKey(prefix, segOutbox)),
		Objects:    newObjectIndex(s, childKey(prefix, segObjects)),
		Blocklist:  &PatternSet{s: s, prefix: childKey(prefix, segBlocklist)},
		Allowlist:  &PatternSet{s: s, prefix: childKey(prefix, segAllowlist)},
		Followers:  &PatternSet{s: s, prefix: childKey(prefix, segFollowers)},
		Interacted: &PatternSet{s: s, prefix: childKey(prefix, segInteracted)},
	}
	if err := a.Inbox.Migrate(); err != nil {
		return nil, fmt.Errorf("inbox migration for %s: %w", key, err)
	}
	if err := a.Outbox.Migrate(); err != nil {
		return nil, fmt.Errorf("outbox migration for %s: %w", key, err)
	}
	s.actors[key] = a
	return a, nil
}

// Key returns the actor key this handle was opened for.
func (a *ActorStore) Key() string {
	return a.key
}

// Info loads the actor record. Fails with ErrNotFound when the actor was
// never created.
func (a *ActorStore) Info() (*domain.ActorInfo, error) {
	data, err := a.s.get(childKey(a.prefix, segInfo))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("actor %s: %w", a.key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var info domain.ActorInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("corrupt actor record %s: %w", a.key, err)
	}
	return &info, nil
}

// Exists reports whether the actor record has been created.
func (a *ActorStore) Exists() (bool, error) {
	_, err := a.Info()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// SetInfo writes the actor record, creating the actor on first call.
func (a *ActorStore) SetInfo(info *domain.ActorInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal actor record: %w", err)
	}
	return a.s.set(childKey(a.prefix, segInfo), data)
}

// Hook loads the webhook for a lifecycle event. Returns (nil, nil) when no
// hook is configured; an absent hook is not an error.
func (a *ActorStore) Hook(event string) (*domain.Hook, error) {
	data, err := a.s.get(childKey(a.prefix, segHooks, event))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var h domain.Hook
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("corrupt hook record: %w", err)
	}
	return &h, nil
}

// SetHook stores the webhook for an event, overwriting any previous one.
func (a *ActorStore) SetHook(event string, h *domain.Hook) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal hook: %w", err)
	}
	return a.s.set(childKey(a.prefix, segHooks, event), data)
}

// DeleteHook removes the webhook for an event.
func (a *ActorStore) DeleteHook(event string) error {
	return a.s.delete(childKey(a.prefix, segHooks, event))
}

// Delete removes the actor's entire key space (record, inbox, outbox, lists,
// followers, hooks, objects) and drops the handle from the registry.
func (a *ActorStore) Delete() error {
	if err := a.s.deletePrefix(a.prefix); err != nil {
		return err
	}
	a.s.mu.Lock()
	delete(a.s.actors, a.key)
	a.s.mu.Unlock()
	return nil
}
