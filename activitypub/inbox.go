package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/logger"
	"github.com/deemkeen/fedinbox/moderation"
	"github.com/deemkeen/fedinbox/telemetry"
)

// IngestActivity runs the inbound state machine for one activity addressed
// to a local actor. The activity is stored in the inbox before any side
// effect, then dispatched in priority order: Follow auto-approval, Undo,
// moderation reject, moderation approve, queue.
func (f *Federation) IngestActivity(actorKey string, act *domain.Activity) error {
	if act.ID == "" || act.Actor == "" {
		return fmt.Errorf("activity requires id and actor: %w", domain.ErrBadRequest)
	}

	a, err := f.store.Actor(actorKey)
	if err != nil {
		return err
	}
	info, err := a.Info()
	if err != nil {
		return err
	}

	senderMention, err := f.ActorToMention(act.Actor, "")
	if err != nil {
		return err
	}

	lists := moderation.ActorLists{Allow: a.Allowlist, Block: a.Blocklist}
	decision, err := f.mod.Check(senderMention, lists)
	if err != nil {
		return err
	}
	telemetry.ModerationOutcomes.WithLabelValues(decision.String()).Inc()

	// Durability before side effects.
	if err := a.Inbox.Add(act); err != nil {
		return err
	}
	telemetry.ActivitiesIngested.WithLabelValues(act.Type).Inc()
	if err := a.Interacted.Add(senderMention); err != nil {
		logger.Warn("interacted_add_failed", zap.String("actor", actorKey), zap.Error(err))
	}

	logger.Info("activity_ingested",
		zap.String("actor", actorKey),
		zap.String("type", act.Type),
		zap.String("sender", senderMention),
		zap.String("decision", decision.String()))

	switch {
	case act.Type == domain.TypeFollow && !info.ManuallyApprovesFollowers:
		return f.ApproveActivity(actorKey, act.ID)
	case act.Type == domain.TypeUndo:
		return f.PerformUndo(actorKey, act)
	case decision == moderation.Blocked:
		return f.RejectActivity(actorKey, act.ID)
	case decision == moderation.Allowed:
		return f.ApproveActivity(actorKey, act.ID)
	default:
		f.fireHook(domain.HookModerationQueued, actorKey, act)
		return nil
	}
}

// ApproveActivity drives a stored inbox activity to its approved state:
// Follows get an Accept and a followers entry, Undos are delegated, Creates
// and Updates materialize their object after an attribution check. Other
// types pass through untouched.
func (f *Federation) ApproveActivity(actorKey, id string) error {
	a, err := f.store.Actor(actorKey)
	if err != nil {
		return err
	}
	info, err := a.Info()
	if err != nil {
		return err
	}
	act, err := a.Inbox.Get(id)
	if err != nil {
		return err
	}

	switch act.Type {
	case domain.TypeFollow:
		followerMention, err := f.ActorToMention(act.Actor, "")
		if err != nil {
			return err
		}
		doc, err := f.FetchActor(act.Actor, "")
		if err != nil {
			return err
		}
		accept := f.buildResponse(domain.TypeAccept, info, act)
		if err := a.Outbox.Add(accept); err != nil {
			return err
		}
		if err := f.enqueueDelivery(actorKey, doc.Inbox, accept); err != nil {
			return err
		}
		if err := a.Followers.Add(followerMention); err != nil {
			return err
		}
		f.fireHook(domain.HookOnApproved, actorKey, act)
		return nil

	case domain.TypeUndo:
		return f.PerformUndo(actorKey, act)

	case domain.TypeCreate, domain.TypeUpdate:
		raw, err := f.resolveObjectDocument(actorKey, act)
		if err != nil {
			return err
		}
		var obj domain.Object
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("unparseable object in %s: %w", act.ID, domain.ErrBadRequest)
		}
		if obj.AttributedTo != "" && domain.BaseURL(obj.AttributedTo) != domain.BaseURL(act.Actor) {
			return fmt.Errorf("object %s attributed to %s, activity actor is %s: unexpected author: %w",
				obj.ID, obj.AttributedTo, act.Actor, domain.ErrConflict)
		}
		if err := a.Objects.Add(raw); err != nil {
			return err
		}
		f.fireHook(domain.HookOnApproved, actorKey, act)
		return nil
	}

	// Other types stay in the inbox with no further side effect.
	return nil
}

// resolveObjectDocument returns the raw object bytes for a Create/Update:
// inline objects come straight from the activity, URL references are fetched
// signed as the receiving actor.
func (f *Federation) resolveObjectDocument(actorKey string, act *domain.Activity) ([]byte, error) {
	if len(act.Object) == 0 {
		return nil, fmt.Errorf("activity %s has no object: %w", act.ID, domain.ErrBadRequest)
	}
	if !act.ObjectIsURL() {
		return act.Object, nil
	}

	objectURL := act.ObjectID()
	req, err := http.NewRequest(http.MethodGet, objectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid object url %s: %w", objectURL, domain.ErrBadRequest)
	}
	resp, err := f.SignedFetch(actorKey, req, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("object %s: %w", objectURL, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object fetch %s returned status %d: %w", objectURL, resp.StatusCode, domain.ErrUpstream)
	}
	return io.ReadAll(resp.Body)
}

// RejectActivity removes an inbox activity; a rejected Follow additionally
// sends a Reject response to the follower.
func (f *Federation) RejectActivity(actorKey, id string) error {
	a, err := f.store.Actor(actorKey)
	if err != nil {
		return err
	}
	act, err := a.Inbox.Get(id)
	if err != nil {
		return err
	}

	if act.Type == domain.TypeFollow {
		info, err := a.Info()
		if err != nil {
			return err
		}
		reject := f.buildResponse(domain.TypeReject, info, act)
		if err := a.Outbox.Add(reject); err != nil {
			return err
		}
		if doc, err := f.FetchActor(act.Actor, ""); err == nil {
			if err := f.enqueueDelivery(actorKey, doc.Inbox, reject); err != nil {
				logger.Warn("reject_delivery_enqueue_failed", zap.String("actor", actorKey), zap.Error(err))
			}
		} else {
			logger.Warn("reject_actor_fetch_failed", zap.String("remote", act.Actor), zap.Error(err))
		}
	}

	if err := a.Inbox.Remove(id); err != nil {
		return err
	}
	f.fireHook(domain.HookOnRejected, actorKey, act)
	return nil
}

// PerformUndo removes the activity an Undo points at. The Undo's actor must
// match the original activity's actor; an Undo referencing an unknown
// activity is rejected, which is how replayed or forged Undos die.
func (f *Federation) PerformUndo(actorKey string, act *domain.Activity) error {
	objectID := act.ObjectID()
	if objectID == "" {
		return fmt.Errorf("undo without object id: %w", domain.ErrBadRequest)
	}

	a, err := f.store.Actor(actorKey)
	if err != nil {
		return err
	}
	target, err := a.Inbox.Get(objectID)
	if err != nil {
		return err
	}
	if target.Actor != act.Actor {
		return fmt.Errorf("undo can only point to activities by the same author: %w", domain.ErrBadRequest)
	}

	if err := a.Inbox.Remove(objectID); err != nil {
		return err
	}

	if target.Type == domain.TypeFollow {
		if mention, err := f.ActorToMention(act.Actor, ""); err == nil {
			if err := a.Followers.Remove(mention); err != nil {
				logger.Warn("follower_remove_failed", zap.String("actor", actorKey), zap.Error(err))
			}
		} else {
			logger.Warn("undo_mention_resolve_failed", zap.String("remote", act.Actor), zap.Error(err))
		}
	}

	f.fireHook(domain.HookOnApproved, actorKey, act)
	return nil
}

// buildResponse mints an Accept or Reject for a stored activity, addressed
// to its sender with the original embedded as object.
func (f *Federation) buildResponse(typ string, info *domain.ActorInfo, original *domain.Activity) *domain.Activity {
	embedded, _ := json.Marshal(original)
	return &domain.Activity{
		Context:   "https://www.w3.org/ns/activitystreams",
		ID:        fmt.Sprintf("%s://%s/activities/%s", f.conf.Scheme(), f.conf.Conf.Domain, uuid.New().String()),
		Type:      typ,
		Actor:     info.ActorURL,
		Object:    embedded,
		Published: time.Now().UTC().Format(time.RFC3339),
		To:        original.Actor,
	}
}

// fireHook dispatches a lifecycle webhook; hook failures are logged and
// never abort the triggering operation.
func (f *Federation) fireHook(event, actorKey string, act *domain.Activity) {
	fired, err := f.hooks.Dispatch(context.Background(), event, actorKey, act)
	if err != nil {
		logger.Warn("hook_dispatch_failed",
			zap.String("event", event),
			zap.String("actor", actorKey),
			zap.Error(err))
		return
	}
	if fired {
		logger.Debug("hook_dispatched", zap.String("event", event), zap.String("actor", actorKey))
	}
}
