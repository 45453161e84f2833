package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/deemkeen/fedinbox/domain"
)

func testActor(t *testing.T, s *Store) *ActorStore {
	t.Helper()
	a, err := s.Actor("@alice@local.example")
	if err != nil {
		t.Fatalf("Failed to open actor: %v", err)
	}
	return a
}

func testActivity(id, published string) *domain.Activity {
	return &domain.Activity{
		ID:        id,
		Type:      domain.TypeFollow,
		Actor:     "https://remote.example/actors/bob",
		Published: published,
	}
}

func TestActivityIndexAddAndGet(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	act := testActivity("https://remote.example/activities/1", "2026-01-02T10:00:00Z")
	if err := a.Inbox.Add(act); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := a.Inbox.Get(act.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != act.ID || got.Type != act.Type || got.Actor != act.Actor {
		t.Errorf("Stored activity differs: got %+v", got)
	}
}

func TestActivityIndexGetMissing(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	_, err := a.Inbox.Get("https://remote.example/activities/nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestActivityIndexAddWithoutID(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	err := a.Inbox.Add(&domain.Activity{Type: domain.TypeFollow})
	if !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest, got %v", err)
	}
}

func TestActivityIndexAddDefaultsPublished(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	act := testActivity("https://remote.example/activities/nopub", "")
	if err := a.Inbox.Add(act); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := a.Inbox.Get(act.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Published == "" {
		t.Fatal("Expected published to be materialized on insert")
	}
	if _, err := time.Parse(time.RFC3339, got.Published); err != nil {
		t.Errorf("Materialized published is not RFC3339: %q", got.Published)
	}
}

func TestActivityIndexAddCanonicalizesPublished(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	// Remote servers send non-RFC3339 dates; the stored record must carry
	// the canonical form so removal derives the same index key later.
	act := testActivity("https://remote.example/activities/rfc1123", "Mon, 02 Jan 2026 10:00:00 GMT")
	if err := a.Inbox.Add(act); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := a.Inbox.Get(act.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, got.Published); err != nil {
		t.Fatalf("Stored published is not canonical RFC3339: %q", got.Published)
	}

	if err := a.Inbox.Remove(act.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	acts, err := a.Inbox.List(0, -1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acts) != 0 {
		t.Errorf("Removed activity still listed: %d entries", len(acts))
	}
}

func TestActivityIndexListOrdering(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	// Inserted out of order; List must return newest first.
	stamps := []string{
		"2026-01-02T10:00:00Z",
		"2026-01-04T10:00:00Z",
		"2026-01-01T10:00:00Z",
		"2026-01-03T10:00:00Z",
	}
	for i, ts := range stamps {
		act := testActivity(fmt.Sprintf("https://remote.example/activities/%d", i), ts)
		if err := a.Inbox.Add(act); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	acts, err := a.Inbox.List(0, -1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acts) != 4 {
		t.Fatalf("Expected 4 activities, got %d", len(acts))
	}
	for i := 1; i < len(acts); i++ {
		if acts[i-1].Published < acts[i].Published {
			t.Errorf("List not in descending order: %s before %s",
				acts[i-1].Published, acts[i].Published)
		}
	}
}

func TestActivityIndexListSkipLimit(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	for i := 0; i < 5; i++ {
		act := testActivity(
			fmt.Sprintf("https://remote.example/activities/%d", i),
			fmt.Sprintf("2026-01-0%dT10:00:00Z", i+1),
		)
		if err := a.Inbox.Add(act); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	acts, err := a.Inbox.List(1, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("Expected 2 activities, got %d", len(acts))
	}
	// Newest (index 4) skipped; expect indices 3 and 2.
	if acts[0].Published != "2026-01-04T10:00:00Z" || acts[1].Published != "2026-01-03T10:00:00Z" {
		t.Errorf("Unexpected page: %s, %s", acts[0].Published, acts[1].Published)
	}
}

func TestActivityIndexRemove(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	act := testActivity("https://remote.example/activities/1", "2026-01-02T10:00:00Z")
	if err := a.Inbox.Add(act); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := a.Inbox.Remove(act.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, err := a.Inbox.Get(act.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after removal, got %v", err)
	}

	acts, err := a.Inbox.List(0, -1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acts) != 0 {
		t.Errorf("Expected empty index after removal, got %d entries", len(acts))
	}
}

func TestActivityIndexCount(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	for i := 0; i < 3; i++ {
		act := testActivity(fmt.Sprintf("https://remote.example/activities/%d", i), "")
		if err := a.Outbox.Add(act); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	n, err := a.Outbox.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected count 3, got %d", n)
	}
}

func TestActivityIndexMigrationBackfill(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	// Simulate a pre-index store: primary records exist but no index
	// entries and no version marker.
	act := testActivity("https://remote.example/activities/old", "2026-01-02T10:00:00Z")
	idx := a.Inbox
	data := []byte(`{"id":"https://remote.example/activities/old","type":"Follow","actor":"https://remote.example/actors/bob","published":"2026-01-02T10:00:00Z"}`)
	if err := s.set(idx.itemKey(act.ID), data); err != nil {
		t.Fatalf("Failed to seed primary record: %v", err)
	}
	if err := s.delete(childKey(idx.prefix, segVersion)); err != nil {
		t.Fatalf("Failed to clear version marker: %v", err)
	}
	idx.mu.Lock()
	idx.migrated = false
	idx.mu.Unlock()

	if err := idx.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	acts, err := idx.List(0, -1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acts) != 1 || acts[0].ID != act.ID {
		t.Fatalf("Expected backfilled entry in index, got %d entries", len(acts))
	}

	// Running again must not duplicate entries.
	idx.mu.Lock()
	idx.migrated = false
	idx.mu.Unlock()
	if err := idx.Migrate(); err != nil {
		t.Fatalf("Second Migrate failed: %v", err)
	}
	acts, err = idx.List(0, -1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acts) != 1 {
		t.Errorf("Expected migration to be idempotent, got %d entries", len(acts))
	}
}

func TestActivityIndexMigrationRewritesMissingPublished(t *testing.T) {
	s := openTestStore(t)
	a := testActor(t, s)

	// A pre-index record without a published value: migration must persist
	// the timestamp it indexed under, or a later removal would derive a
	// different key and leave a ghost index entry behind.
	idx := a.Inbox
	id := "https://remote.example/activities/ancient"
	data := []byte(`{"id":"` + id + `","type":"Follow","actor":"https://remote.example/actors/bob"}`)
	if err := s.set(idx.itemKey(id), data); err != nil {
		t.Fatalf("Failed to seed primary record: %v", err)
	}
	if err := s.delete(childKey(idx.prefix, segVersion)); err != nil {
		t.Fatalf("Failed to clear version marker: %v", err)
	}
	idx.mu.Lock()
	idx.migrated = false
	idx.mu.Unlock()

	if err := idx.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	got, err := idx.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, got.Published); err != nil {
		t.Fatalf("Migration did not persist an RFC3339 published: %q", got.Published)
	}

	if err := idx.Remove(id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	acts, err := idx.List(0, -1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acts) != 0 {
		t.Errorf("Ghost index entry survived removal: %d entries", len(acts))
	}
}
