package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Delivery is one pending outbound activity delivery to a remote inbox.
type Delivery struct {
	ID           uuid.UUID `json:"id"`
	FromActor    string    `json:"fromActor"`
	InboxURL     string    `json:"inboxUrl"`
	ActivityJSON []byte    `json:"activityJson"`
	Attempts     int       `json:"attempts"`
	NextRetryAt  time.Time `json:"nextRetryAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

func deliveryKey(id uuid.UUID) []byte {
	return subKey(partDeliveries, id.String())
}

// EnqueueDelivery persists a delivery for the background worker.
func (s *Store) EnqueueDelivery(d *Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	return s.set(deliveryKey(d.ID), data)
}

// PendingDeliveries returns up to max deliveries that are due (NextRetryAt
// in the past).
func (s *Store) PendingDeliveries(max int) ([]*Delivery, error) {
	iter, err := s.prefixIter(subKey(partDeliveries))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	now := time.Now()
	var out []*Delivery
	for iter.First(); iter.Valid() && len(out) < max; iter.Next() {
		var d Delivery
		if err := json.Unmarshal(iter.Value(), &d); err != nil {
			continue
		}
		if d.NextRetryAt.After(now) {
			continue
		}
		out = append(out, &d)
	}
	return out, iter.Error()
}

// UpdateDeliveryAttempt records a failed attempt and its retry time.
func (s *Store) UpdateDeliveryAttempt(d *Delivery, attempts int, nextRetry time.Time) error {
	d.Attempts = attempts
	d.NextRetryAt = nextRetry
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	return s.set(deliveryKey(d.ID), data)
}

// DeleteDelivery drops a delivery from the queue.
func (s *Store) DeleteDelivery(id uuid.UUID) error {
	return s.delete(deliveryKey(id))
}
