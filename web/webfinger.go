package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/deemkeen/fedinbox/domain"
)

const jrdContentType = "application/jrd+json"

// handleWebFinger resolves acct: resources for local actors.
func (s *Server) handleWebFinger(c *gin.Context) {
	resource := c.Query("resource")
	if !strings.HasPrefix(resource, "acct:") {
		abortWith(c, fmt.Errorf("resource must be an acct: URI: %w", domain.ErrBadRequest))
		return
	}
	acct := strings.TrimPrefix(resource, "acct:")
	m, err := domain.ParseMention("@" + strings.TrimPrefix(acct, "@"))
	if err != nil {
		abortWith(c, err)
		return
	}
	if m.Domain != s.conf.Conf.Domain {
		abortWith(c, fmt.Errorf("%s is not served here: %w", resource, domain.ErrNotFound))
		return
	}

	a, err := s.fed.Store().Actor(m.String())
	if err != nil {
		abortWith(c, err)
		return
	}
	exists, err := a.Exists()
	if err != nil {
		abortWith(c, err)
		return
	}
	if !exists {
		abortWith(c, fmt.Errorf("no such actor %s: %w", m.String(), domain.ErrNotFound))
		return
	}

	actorURL := s.conf.ActorURL(m.Username)
	resp := domain.WebFingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", m.Username, m.Domain),
		Links: []domain.WebFingerLink{
			{
				Rel:  "self",
				Type: activityJSONType,
				Href: actorURL,
			},
		},
	}
	c.Header("Content-Type", jrdContentType)
	c.JSON(http.StatusOK, resp)
}

// handleHostMeta serves the XRD document pointing at the webfinger endpoint.
// Some fediverse servers discover webfinger through it instead of assuming
// the well-known path.
func (s *Server) handleHostMeta(c *gin.Context) {
	template := fmt.Sprintf("%s://%s/.well-known/webfinger?resource={uri}", s.conf.Scheme(), s.conf.Conf.Domain)
	xrd := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" template="%s"/>
</XRD>
`, template)
	c.Data(http.StatusOK, "application/xrd+xml; charset=utf-8", []byte(xrd))
}
