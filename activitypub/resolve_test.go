package activitypub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/deemkeen/fedinbox/domain"
)

func TestMentionToActorViaWebFinger(t *testing.T) {
	f := newTestFederation(t)
	remote := newFakeRemote(t)

	actorURL, err := f.MentionToActor(remote.mention("bob"))
	if err != nil {
		t.Fatalf("MentionToActor failed: %v", err)
	}
	if actorURL != remote.actorURL("bob") {
		t.Errorf("Resolved %q, want %q", actorURL, remote.actorURL("bob"))
	}
}

func TestMentionToActorHostMetaFallback(t *testing.T) {
	f := newTestFederation(t)

	// An instance that serves WebFinger on a non-default path, published
	// only through its host-meta lrdd template.
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/.well-known/host-meta", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xrd+xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" template="%s/custom/webfinger?resource={uri}"/>
</XRD>`, base)
	})
	mux.HandleFunc("/custom/webfinger", func(w http.ResponseWriter, r *http.Request) {
		resource := r.URL.Query().Get("resource")
		w.Header().Set("Content-Type", "application/jrd+json")
		_ = json.NewEncoder(w).Encode(domain.WebFingerResponse{
			Subject: resource,
			Links: []domain.WebFingerLink{
				{Rel: "self", Href: base + "/actors/bob"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	u, _ := url.Parse(srv.URL)
	actorURL, err := f.MentionToActor("@bob@" + u.Host)
	if err != nil {
		t.Fatalf("MentionToActor failed: %v", err)
	}
	if actorURL != base+"/actors/bob" {
		t.Errorf("Resolved %q, want %q", actorURL, base+"/actors/bob")
	}
}

func TestMentionToActorSubjectMismatch(t *testing.T) {
	f := newTestFederation(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jrd+json")
		_ = json.NewEncoder(w).Encode(domain.WebFingerResponse{
			Subject: "acct:someoneelse@evil.example",
			Links:   []domain.WebFingerLink{{Rel: "self", Href: "https://evil.example/actors/x"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	_, err := f.MentionToActor("@bob@" + u.Host)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for subject mismatch, got %v", err)
	}
}

func TestMentionToActorNoSelfLink(t *testing.T) {
	f := newTestFederation(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		resource := r.URL.Query().Get("resource")
		w.Header().Set("Content-Type", "application/jrd+json")
		_ = json.NewEncoder(w).Encode(domain.WebFingerResponse{
			Subject: resource,
			Links:   []domain.WebFingerLink{{Rel: "http://webfinger.net/rel/profile-page", Href: "https://x"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	_, err := f.MentionToActor("@bob@" + u.Host)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound without self link, got %v", err)
	}
}

func TestMentionToActorMalformedMention(t *testing.T) {
	f := newTestFederation(t)
	_, err := f.MentionToActor("bob")
	if !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest for malformed mention, got %v", err)
	}
}

func TestActorToMentionStripsKeyFragment(t *testing.T) {
	f := newTestFederation(t)
	remote := newFakeRemote(t)

	mention, err := f.ActorToMention(remote.actorURL("bob")+"#main-key", "")
	if err != nil {
		t.Fatalf("ActorToMention failed: %v", err)
	}
	if mention != remote.mention("bob") {
		t.Errorf("Resolved %q, want %q", mention, remote.mention("bob"))
	}
}
