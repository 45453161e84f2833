package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// PublicAudience is the ActivityStreams sentinel marking an object as
// addressed to everyone.
const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

// Well-known activity types the ingestion state machine dispatches on.
// Anything else is passed through as an opaque activity.
const (
	TypeFollow   = "Follow"
	TypeUndo     = "Undo"
	TypeCreate   = "Create"
	TypeUpdate   = "Update"
	TypeAccept   = "Accept"
	TypeReject   = "Reject"
	TypeLike     = "Like"
	TypeAnnounce = "Announce"
	TypeNote     = "Note"
)

// Activity represents a generic ActivityPub activity. Unknown object shapes
// are kept as raw JSON and inspected through the helpers below; id, type and
// actor are validated at the boundary before dispatch.
type Activity struct {
	Context   interface{}     `json:"@context,omitempty"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor,omitempty"`
	Object    json.RawMessage `json:"object,omitempty"`
	Published string          `json:"published,omitempty"`
	To        interface{}     `json:"to,omitempty"`
	CC        interface{}     `json:"cc,omitempty"`
}

// ObjectID resolves the activity's object reference to an id, accepting
// either a plain URL string or an embedded object carrying an "id" field.
// Returns "" when neither form is present.
func (a *Activity) ObjectID() string {
	if len(a.Object) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Object, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// ObjectIsURL reports whether the object field is a plain string reference.
func (a *Activity) ObjectIsURL() bool {
	if len(a.Object) == 0 {
		return false
	}
	var s string
	return json.Unmarshal(a.Object, &s) == nil
}

// PublishedTime parses the published timestamp, falling back to now when the
// field is absent or unparseable so ordering never breaks on remote clocks.
func (a *Activity) PublishedTime() time.Time {
	if t, err := time.Parse(time.RFC3339, a.Published); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// Object represents an ActivityPub object (Note and friends). Stored raw;
// this struct is the indexing envelope.
type Object struct {
	Context      interface{} `json:"@context,omitempty"`
	ID           string      `json:"id"`
	Type         string      `json:"type,omitempty"`
	AttributedTo string      `json:"attributedTo,omitempty"`
	InReplyTo    string      `json:"inReplyTo,omitempty"`
	Content      string      `json:"content,omitempty"`
	Published    string      `json:"published,omitempty"`
	To           interface{} `json:"to,omitempty"`
	CC           interface{} `json:"cc,omitempty"`
}

// Audience flattens a to/cc field (string or array of strings) into a slice.
func Audience(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	return nil
}

// VisibleTo reports whether an object addressed with "to" is visible to a
// caller identified by callerTo: public objects always are, otherwise the
// caller must be addressed explicitly.
func VisibleTo(to interface{}, callerTo string) bool {
	for _, addr := range Audience(to) {
		if addr == PublicAudience {
			return true
		}
		if callerTo != "" && addr == callerTo {
			return true
		}
	}
	return false
}

// BaseURL strips a hash fragment from a URL, mapping key ids like
// "https://example.com/actors/alice#main-key" to the actor's base URL.
func BaseURL(u string) string {
	return strings.Split(u, "#")[0]
}
