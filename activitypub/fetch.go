package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/fedinbox/domain"
)

const userAgent = "fedinbox/0.1 ActivityPub"

// SignedFetch performs an HTTP request signed as the given local actor:
// digest over the body, canonical host/date headers, and a Signature over
// (request-target) host date digest.
func (f *Federation) SignedFetch(fromActor string, req *http.Request, body []byte) (*http.Response, error) {
	a, err := f.store.Actor(fromActor)
	if err != nil {
		return nil, err
	}
	info, err := a.Info()
	if err != nil {
		return nil, err
	}
	privateKey, err := ParsePrivateKey(info.KeyPair.PrivateKeyPem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key for %s: %w", fromActor, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", DigestHeader(body))
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/activity+json")
	}

	if err := SignRequest(req, privateKey, info.PublicKeyID); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", domain.ErrUpstream)
	}
	return resp, nil
}

// fetchJSON GETs a URL (signed as fromActor when given, anonymous otherwise)
// and decodes the response into out.
func (f *Federation) fetchJSON(rawURL, fromActor string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid url %s: %w", rawURL, domain.ErrBadRequest)
	}
	req.Header.Set("Accept", "application/activity+json")

	var resp *http.Response
	if fromActor != "" {
		resp, err = f.SignedFetch(fromActor, req, nil)
	} else {
		req.Header.Set("User-Agent", userAgent)
		resp, err = f.client.Do(req)
		if err != nil {
			err = fmt.Errorf("request failed: %w", domain.ErrUpstream)
		}
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", rawURL, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch of %s returned status %d: %w", rawURL, resp.StatusCode, domain.ErrUpstream)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", domain.ErrUpstream)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unparseable response from %s: %w", rawURL, domain.ErrUpstream)
	}
	return nil
}

// FetchActor fetches a remote actor document. No caching: resolution is
// always a live lookup. Signed when fromActor is given (mutual
// authentication), anonymous otherwise.
func (f *Federation) FetchActor(actorURL, fromActor string) (*domain.ActorResponse, error) {
	var doc domain.ActorResponse
	if err := f.fetchJSON(actorURL, fromActor, &doc); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("actor document at %s missing id: %w", actorURL, domain.ErrUpstream)
	}
	return &doc, nil
}

// SendToInbox delivers an activity to a remote inbox with a signed POST.
func (f *Federation) SendToInbox(fromActor, inboxURL string, activityJSON []byte) error {
	req, err := http.NewRequest(http.MethodPost, inboxURL, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("invalid inbox url %s: %w", inboxURL, domain.ErrBadRequest)
	}
	req.Header.Set("Content-Type", "application/activity+json")

	resp, err := f.SignedFetch(fromActor, req, activityJSON)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote inbox %s returned status %d: %w", inboxURL, resp.StatusCode, domain.ErrUpstream)
	}
	return nil
}
