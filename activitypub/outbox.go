package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/logger"
	"github.com/deemkeen/fedinbox/store"
)

// enqueueDelivery persists an outbound delivery for the background worker.
func (f *Federation) enqueueDelivery(fromActor, inboxURL string, act *domain.Activity) error {
	data, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return f.store.EnqueueDelivery(&store.Delivery{
		ID:           uuid.New(),
		FromActor:    fromActor,
		InboxURL:     inboxURL,
		ActivityJSON: data,
		Attempts:     0,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	})
}

// NotifyFollowers fans an activity out to every follower of the actor.
// Mention resolution runs concurrently with a bounded width; each resolved
// inbox gets a durable queue entry. Per-follower failures are logged and
// never abort the batch: delivery to followers is best-effort from the
// caller's point of view, with the queue worker retrying behind the scenes.
func (f *Federation) NotifyFollowers(actorKey string, act *domain.Activity) error {
	a, err := f.store.Actor(actorKey)
	if err != nil {
		return err
	}
	followers, err := a.Followers.List()
	if err != nil {
		return err
	}
	if len(followers) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(f.conf.Conf.FanoutWidth)
	for _, follower := range followers {
		g.Go(func() error {
			actorURL, err := f.MentionToActor(follower)
			if err != nil {
				logger.Warn("follower_resolve_failed",
					zap.String("follower", follower), zap.Error(err))
				return nil
			}
			doc, err := f.FetchActor(actorURL, actorKey)
			if err != nil {
				logger.Warn("follower_fetch_failed",
					zap.String("follower", follower), zap.Error(err))
				return nil
			}
			if err := f.enqueueDelivery(actorKey, doc.Inbox, act); err != nil {
				logger.Warn("delivery_enqueue_failed",
					zap.String("follower", follower), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("followers_notified",
		zap.String("actor", actorKey),
		zap.String("activity", act.ID),
		zap.Int("followers", len(followers)))
	return nil
}

// PublishActivity stores an activity in the actor's outbox and fans it out
// to followers.
func (f *Federation) PublishActivity(actorKey string, act *domain.Activity) error {
	a, err := f.store.Actor(actorKey)
	if err != nil {
		return err
	}
	if act.ID == "" {
		act.ID = fmt.Sprintf("%s://%s/activities/%s", f.conf.Scheme(), f.conf.Conf.Domain, uuid.New().String())
	}
	if err := a.Outbox.Add(act); err != nil {
		return err
	}
	return f.NotifyFollowers(actorKey, act)
}

// AnnounceActorCreation broadcasts a newly created actor as a Note from the
// service's announcement actor, when the new actor opted in.
func (f *Federation) AnnounceActorCreation(newActorKey string, info *domain.ActorInfo) {
	if !info.Announce {
		return
	}
	announce := f.conf.AnnounceMention()
	if announce == newActorKey {
		return
	}
	a, err := f.store.Actor(announce)
	if err != nil {
		logger.Warn("announce_actor_open_failed", zap.Error(err))
		return
	}
	announceInfo, err := a.Info()
	if err != nil {
		logger.Warn("announce_actor_missing", zap.Error(err))
		return
	}

	noteID := fmt.Sprintf("%s://%s/objects/%s", f.conf.Scheme(), f.conf.Conf.Domain, uuid.New().String())
	now := time.Now().UTC().Format(time.RFC3339)
	note, _ := json.Marshal(domain.Object{
		ID:           noteID,
		Type:         domain.TypeNote,
		AttributedTo: announceInfo.ActorURL,
		Content:      fmt.Sprintf("%s has joined", newActorKey),
		Published:    now,
		To:           []string{domain.PublicAudience},
	})
	create := &domain.Activity{
		Context:   "https://www.w3.org/ns/activitystreams",
		Type:      domain.TypeCreate,
		Actor:     announceInfo.ActorURL,
		Object:    note,
		Published: now,
		To:        []string{domain.PublicAudience},
	}
	if err := f.PublishActivity(announce, create); err != nil {
		logger.Warn("announce_publish_failed", zap.String("actor", newActorKey), zap.Error(err))
	}
}
