package domain

import "time"

// Hook lifecycle event types. One hook slot exists per (actor, event).
const (
	HookModerationQueued = "moderationqueued"
	HookOnApproved       = "onapproved"
	HookOnRejected       = "onrejected"
)

// KnownHookEvent reports whether s names a supported lifecycle event.
func KnownHookEvent(s string) bool {
	switch s {
	case HookModerationQueued, HookOnApproved, HookOnRejected:
		return true
	}
	return false
}

// Hook is an outbound webhook configured for a lifecycle event.
type Hook struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

// KeyPair holds the actor's PEM-encoded identity material. The private key
// never leaves the server.
type KeyPair struct {
	PublicKeyPem  string `json:"publicKeyPem"`
	PrivateKeyPem string `json:"privateKeyPem,omitempty"`
}

// ActorInfo is the persisted record for one local actor.
type ActorInfo struct {
	ActorURL                  string    `json:"actorUrl"`
	PublicKeyID               string    `json:"publicKeyId"`
	KeyPair                   KeyPair   `json:"keypair"`
	ManuallyApprovesFollowers bool      `json:"manuallyApprovesFollowers"`
	Announce                  bool      `json:"announce"`
	CreatedAt                 time.Time `json:"createdAt"`
}

// Public returns a copy safe for responses: the private key is stripped.
func (a ActorInfo) Public() ActorInfo {
	a.KeyPair.PrivateKeyPem = ""
	return a
}

// ActorResponse is the JSON shape of a remote ActivityPub actor document.
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name,omitempty"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox,omitempty"`
	PublicKey         struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// WebFingerResponse is the JRD document returned by /.well-known/webfinger.
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Links   []WebFingerLink `json:"links"`
}

type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}
