package activitypub

import (
	"encoding/json"

	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/store"
)

// Collection is an ActivityStreams OrderedCollection response.
type Collection struct {
	Context      interface{}       `json:"@context"`
	ID           string            `json:"id,omitempty"`
	Type         string            `json:"type"`
	TotalItems   int               `json:"totalItems"`
	OrderedItems []json.RawMessage `json:"orderedItems,omitempty"`
}

const streamsContext = "https://www.w3.org/ns/activitystreams"

// RepliesCollection assembles the replies to an object, applying the object
// store's visibility filter with the caller's identity as audience.
func (f *Federation) RepliesCollection(actorKey, inReplyTo, callerTo string, skip, limit int) (*Collection, error) {
	a, err := f.store.Actor(actorKey)
	if err != nil {
		return nil, err
	}
	items, err := a.Objects.List(store.ObjectListOptions{
		Limit:     -1,
		InReplyTo: inReplyTo,
		To:        callerTo,
	})
	if err != nil {
		return nil, err
	}
	// totalItems counts every visible reply; skip/limit only page the
	// returned items.
	total := len(items)
	if skip >= len(items) {
		items = nil
	} else if skip > 0 {
		items = items[skip:]
	}
	if limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	return &Collection{
		Context:      streamsContext,
		Type:         "OrderedCollection",
		TotalItems:   total,
		OrderedItems: items,
	}, nil
}

// FollowersCollection assembles the actor's followers. With countOnly only
// totalItems is revealed, for callers without permission to enumerate.
func (f *Federation) FollowersCollection(actorKey string, countOnly bool) (*Collection, error) {
	a, err := f.store.Actor(actorKey)
	if err != nil {
		return nil, err
	}
	followers, err := a.Followers.List()
	if err != nil {
		return nil, err
	}
	col := &Collection{
		Context:    streamsContext,
		Type:       "OrderedCollection",
		TotalItems: len(followers),
	}
	if !countOnly {
		for _, m := range followers {
			item, _ := json.Marshal(m)
			col.OrderedItems = append(col.OrderedItems, item)
		}
	}
	return col, nil
}

// LikesCollection assembles the Like activities referencing an object.
func (f *Federation) LikesCollection(actorKey, objectID, callerTo string) (*Collection, error) {
	return f.inboxActivityCollection(actorKey, domain.TypeLike, objectID, callerTo)
}

// SharesCollection assembles the Announce activities referencing an object.
func (f *Federation) SharesCollection(actorKey, objectID, callerTo string) (*Collection, error) {
	return f.inboxActivityCollection(actorKey, domain.TypeAnnounce, objectID, callerTo)
}

// inboxActivityCollection scans the actor's inbox for activities of one type
// referencing the given object. Inboxes are bounded per actor, so the scan
// stays cheap. Activities carrying no audience at all were already admitted
// by moderation and count as visible.
func (f *Federation) inboxActivityCollection(actorKey, typ, objectID, callerTo string) (*Collection, error) {
	a, err := f.store.Actor(actorKey)
	if err != nil {
		return nil, err
	}
	acts, err := a.Inbox.List(0, -1)
	if err != nil {
		return nil, err
	}

	col := &Collection{Context: streamsContext, Type: "OrderedCollection"}
	for _, act := range acts {
		if act.Type != typ || act.ObjectID() != objectID {
			continue
		}
		if act.To != nil && !domain.VisibleTo(act.To, callerTo) {
			continue
		}
		item, err := json.Marshal(act)
		if err != nil {
			continue
		}
		col.OrderedItems = append(col.OrderedItems, item)
	}
	col.TotalItems = len(col.OrderedItems)
	return col, nil
}
