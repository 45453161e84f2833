package activitypub

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/logger"
)

// xrdDocument is the host-meta XRD shape; only lrdd link templates matter.
type xrdDocument struct {
	XMLName xml.Name  `xml:"XRD"`
	Links   []xrdLink `xml:"Link"`
}

type xrdLink struct {
	Rel      string `xml:"rel,attr"`
	Template string `xml:"template,attr"`
}

// mentionFromDoc combines an actor document's preferredUsername with the
// host of its URL into a mention string.
func mentionFromDoc(doc *domain.ActorResponse, actorURL string) (string, error) {
	if doc.PreferredUsername == "" {
		return "", fmt.Errorf("actor document at %s has no preferredUsername: %w", actorURL, domain.ErrNotFound)
	}
	parsed, err := url.Parse(actorURL)
	if err != nil {
		return "", fmt.Errorf("invalid actor url %s: %w", actorURL, domain.ErrBadRequest)
	}
	return fmt.Sprintf("@%s@%s", doc.PreferredUsername, parsed.Host), nil
}

// ActorToMention resolves an actor URL to its mention by fetching the actor
// document (signed when contextActor is given). The URL's hash fragment is
// stripped first, so key ids resolve to their actor.
func (f *Federation) ActorToMention(actorURL, contextActor string) (string, error) {
	base := domain.BaseURL(actorURL)
	doc, err := f.FetchActor(base, contextActor)
	if err != nil {
		return "", err
	}
	return mentionFromDoc(doc, base)
}

// MentionToActor resolves a mention to its actor URL via WebFinger, falling
// back to host-meta lrdd template discovery when the default WebFinger path
// 404s. The JRD subject must match the queried resource exactly.
func (f *Federation) MentionToActor(mention string) (string, error) {
	m, err := domain.ParseMention(mention)
	if err != nil {
		return "", err
	}
	resource := fmt.Sprintf("acct:%s@%s", m.Username, m.Domain)
	wfURL := fmt.Sprintf("%s://%s/.well-known/webfinger?resource=%s",
		f.conf.Scheme(), m.Domain, url.QueryEscape(resource))

	jrd, err := f.fetchWebFinger(wfURL)
	if err != nil && errors.Is(err, domain.ErrNotFound) {
		// Default path is not served; discover the WebFinger template via
		// host-meta and retry there.
		templated, tmplErr := f.webFingerURLFromHostMeta(m.Domain, resource)
		if tmplErr != nil {
			return "", tmplErr
		}
		jrd, err = f.fetchWebFinger(templated)
	}
	if err != nil {
		return "", err
	}

	if jrd.Subject != resource {
		return "", fmt.Errorf("webfinger subject %q does not match %q: %w", jrd.Subject, resource, domain.ErrNotFound)
	}
	for _, link := range jrd.Links {
		if link.Rel == "self" && link.Href != "" {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("webfinger response for %s has no self link: %w", mention, domain.ErrNotFound)
}

func (f *Federation) fetchWebFinger(wfURL string) (*domain.WebFingerResponse, error) {
	var jrd domain.WebFingerResponse
	if err := f.fetchJSON(wfURL, "", &jrd); err != nil {
		return nil, err
	}
	return &jrd, nil
}

// webFingerURLFromHostMeta fetches /.well-known/host-meta, locates the lrdd
// link template and substitutes the resource into it. The fetch is signed
// with the service's own announcement actor so closed instances can identify
// the caller; when that actor does not exist yet the fetch goes out
// anonymously.
func (f *Federation) webFingerURLFromHostMeta(remoteDomain, resource string) (string, error) {
	hmURL := fmt.Sprintf("%s://%s/.well-known/host-meta", f.conf.Scheme(), remoteDomain)

	req, err := http.NewRequest(http.MethodGet, hmURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid host-meta url: %w", domain.ErrBadRequest)
	}
	req.Header.Set("Accept", "application/xrd+xml")

	var resp *http.Response
	announce := f.conf.AnnounceMention()
	if a, aerr := f.store.Actor(announce); aerr == nil {
		if exists, _ := a.Exists(); exists {
			resp, err = f.SignedFetch(announce, req, nil)
		}
	}
	if resp == nil && err == nil {
		req.Header.Set("User-Agent", userAgent)
		resp, err = f.client.Do(req)
	}
	if err != nil {
		return "", fmt.Errorf("host-meta fetch failed: %w", domain.ErrUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("host-meta at %s returned status %d: %w", hmURL, resp.StatusCode, domain.ErrNotFound)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read host-meta: %w", domain.ErrUpstream)
	}

	var xrd xrdDocument
	if err := xml.Unmarshal(body, &xrd); err != nil {
		return "", fmt.Errorf("unparseable host-meta from %s: %w", remoteDomain, domain.ErrUpstream)
	}

	for _, link := range xrd.Links {
		if link.Rel == "lrdd" && strings.Contains(link.Template, "{uri}") {
			templated := strings.ReplaceAll(link.Template, "{uri}", url.QueryEscape(resource))
			logger.Debug("hostmeta_template_resolved",
				zap.String("domain", remoteDomain),
				zap.String("url", templated))
			return templated, nil
		}
	}
	return "", fmt.Errorf("host-meta from %s has no lrdd template: %w", remoteDomain, domain.ErrNotFound)
}
