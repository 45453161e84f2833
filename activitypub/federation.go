// Package activitypub implements the federation protocol engine: HTTP
// signature verification, actor and mention resolution, the activity
// ingestion state machine, and outbound delivery.
package activitypub

import (
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/hooks"
	"github.com/deemkeen/fedinbox/moderation"
	"github.com/deemkeen/fedinbox/store"
	"github.com/deemkeen/fedinbox/util"
)

// Federation is the protocol core. Every authenticated inbound operation
// goes through VerifySignedRequest before any claimed identity is trusted.
type Federation struct {
	store  *store.Store
	conf   *util.AppConfig
	mod    *moderation.Engine
	hooks  *hooks.Dispatcher
	client *http.Client
}

// hookSource adapts the actor store to the hook dispatcher.
type hookSource struct {
	s *store.Store
}

func (h hookSource) Hook(actorKey, event string) (*domain.Hook, error) {
	a, err := h.s.Actor(actorKey)
	if err != nil {
		return nil, err
	}
	return a.Hook(event)
}

// New wires the federation engine over an open store.
func New(conf *util.AppConfig, s *store.Store) *Federation {
	client := &http.Client{Timeout: 30 * time.Second}
	return &Federation{
		store: s,
		conf:  conf,
		mod: &moderation.Engine{
			Admins:      s.Admins,
			GlobalBlock: s.Blocklist,
			GlobalAllow: s.Allowlist,
		},
		hooks:  hooks.NewDispatcher(hookSource{s: s}, client),
		client: client,
	}
}

// Store exposes the backing store for the web layer.
func (f *Federation) Store() *store.Store {
	return f.store
}

// Moderation exposes the moderation engine.
func (f *Federation) Moderation() *moderation.Engine {
	return f.mod
}

// actorLists loads the per-actor moderation lists for a context actor, or
// empty lists when no actor context applies.
func (f *Federation) actorLists(contextActor string) (moderation.ActorLists, error) {
	if contextActor == "" {
		return moderation.ActorLists{}, nil
	}
	a, err := f.store.Actor(contextActor)
	if err != nil {
		return moderation.ActorLists{}, err
	}
	return moderation.ActorLists{Allow: a.Allowlist, Block: a.Blocklist}, nil
}

// VerifySignedRequest is the sole authentication gate for inbound requests.
// It resolves the signature's keyId to a mention, applies moderation,
// fetches the signer's actor document for its public key, and verifies the
// signature cryptographically. Returns the resolved mention.
func (f *Federation) VerifySignedRequest(r *http.Request, contextActor string) (string, error) {
	keyID, err := RequestKeyID(r)
	if err != nil {
		return "", fmt.Errorf("unparseable signature: %w", domain.ErrUnauthorized)
	}
	actorURL := domain.BaseURL(keyID)

	doc, err := f.FetchActor(actorURL, contextActor)
	if err != nil {
		return "", err
	}
	mention, err := mentionFromDoc(doc, actorURL)
	if err != nil {
		return "", err
	}

	lists, err := f.actorLists(contextActor)
	if err != nil {
		return "", err
	}
	allowed, err := f.mod.IsAllowed(mention, lists)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", fmt.Errorf("actor %s is blocked: %w", mention, domain.ErrForbidden)
	}

	if doc.PublicKey.PublicKeyPem == "" {
		return "", fmt.Errorf("actor %s has no public key: %w", actorURL, domain.ErrNotFound)
	}
	if _, err := VerifyRequest(r, doc.PublicKey.PublicKeyPem); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", domain.ErrUnauthorized)
	}

	return mention, nil
}

// HasPermissionActorRequest reports whether the request may act on the
// target actor: the signer must be the actor itself or a global admin.
// With requireSigned=false an unsigned request is permitted, which the
// actor-creation route uses for new actors.
func (f *Federation) HasPermissionActorRequest(targetActor string, r *http.Request, requireSigned bool) (bool, error) {
	if r.Header.Get("Signature") == "" {
		return !requireSigned, nil
	}
	mention, err := f.VerifySignedRequest(r, "")
	if err != nil {
		return false, err
	}
	if mention == targetActor {
		return true, nil
	}
	return f.store.Admins.Matches(mention)
}

// HasAdminPermissionForRequest reports whether the request is signed by a
// global admin. VerifySignedRequest already rejects blocklisted signers.
func (f *Federation) HasAdminPermissionForRequest(r *http.Request) (bool, error) {
	mention, err := f.VerifySignedRequest(r, "")
	if err != nil {
		return false, err
	}
	return f.store.Admins.Matches(mention)
}
