package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDeliveryQueueRoundTrip(t *testing.T) {
	s := openTestStore(t)

	d := &Delivery{
		ID:           uuid.New(),
		FromActor:    "@alice@local.example",
		InboxURL:     "https://remote.example/actors/bob/inbox",
		ActivityJSON: []byte(`{"type":"Accept"}`),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.EnqueueDelivery(d); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	pending, err := s.PendingDeliveries(10)
	if err != nil {
		t.Fatalf("PendingDeliveries failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending delivery, got %d", len(pending))
	}
	if pending[0].InboxURL != d.InboxURL {
		t.Errorf("Stored delivery differs: %+v", pending[0])
	}

	if err := s.DeleteDelivery(d.ID); err != nil {
		t.Fatalf("DeleteDelivery failed: %v", err)
	}
	pending, err = s.PendingDeliveries(10)
	if err != nil {
		t.Fatalf("PendingDeliveries failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected empty queue after delete, got %d", len(pending))
	}
}

func TestPendingDeliveriesSkipsFutureRetries(t *testing.T) {
	s := openTestStore(t)

	due := &Delivery{ID: uuid.New(), InboxURL: "https://remote.example/due"}
	later := &Delivery{
		ID:          uuid.New(),
		InboxURL:    "https://remote.example/later",
		NextRetryAt: time.Now().Add(time.Hour),
	}
	if err := s.EnqueueDelivery(due); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}
	if err := s.EnqueueDelivery(later); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	pending, err := s.PendingDeliveries(10)
	if err != nil {
		t.Fatalf("PendingDeliveries failed: %v", err)
	}
	if len(pending) != 1 || pending[0].InboxURL != due.InboxURL {
		t.Errorf("Expected only the due delivery, got %+v", pending)
	}
}

func TestUpdateDeliveryAttempt(t *testing.T) {
	s := openTestStore(t)

	d := &Delivery{ID: uuid.New(), InboxURL: "https://remote.example/inbox"}
	if err := s.EnqueueDelivery(d); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	retry := time.Now().Add(5 * time.Minute)
	if err := s.UpdateDeliveryAttempt(d, 1, retry); err != nil {
		t.Fatalf("UpdateDeliveryAttempt failed: %v", err)
	}

	// Not due anymore after the retry was pushed out.
	pending, err := s.PendingDeliveries(10)
	if err != nil {
		t.Fatalf("PendingDeliveries failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no due deliveries, got %d", len(pending))
	}
	if d.Attempts != 1 {
		t.Errorf("Expected attempts updated in place, got %d", d.Attempts)
	}
}
