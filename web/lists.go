package web

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/store"
)

// parsePatternBody reads a newline-delimited plaintext body of account
// patterns, validating each line.
func parsePatternBody(c *gin.Context) ([]string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", domain.ErrBadRequest)
	}
	var patterns []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := domain.ParseMention(line); err != nil {
			return nil, err
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("no patterns in body: %w", domain.ErrBadRequest)
	}
	return patterns, nil
}

func writePatternList(c *gin.Context, set *store.PatternSet) {
	patterns, err := set.List()
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(strings.Join(patterns, "\n")))
}

// requireAdmin gates the global list routes. An empty admins set means the
// instance has not been set up yet: the bootstrap request that appoints the
// first admin is accepted without a signature.
func (s *Server) requireAdmin(c *gin.Context) bool {
	admins, err := s.fed.Store().Admins.List()
	if err != nil {
		abortWith(c, err)
		return false
	}
	if len(admins) == 0 {
		return true
	}
	ok, err := s.fed.HasAdminPermissionForRequest(c.Request)
	if err != nil {
		abortWith(c, err)
		return false
	}
	if !ok {
		abortWith(c, fmt.Errorf("admin permission required: %w", domain.ErrForbidden))
		return false
	}
	return true
}

func (s *Server) globalSet(name string) *store.PatternSet {
	switch name {
	case "allowlist":
		return s.fed.Store().Allowlist
	case "admins":
		return s.fed.Store().Admins
	}
	return s.fed.Store().Blocklist
}

// globalListRoutes wires GET/POST/DELETE for one global pattern list.
func (s *Server) globalListRoutes(g *gin.Engine, name string) {
	set := func() *store.PatternSet { return s.globalSet(name) }

	g.GET("/"+name, func(c *gin.Context) {
		if !s.requireAdmin(c) {
			return
		}
		writePatternList(c, set())
	})
	g.POST("/"+name, func(c *gin.Context) {
		if !s.requireAdmin(c) {
			return
		}
		patterns, err := parsePatternBody(c)
		if err != nil {
			abortWith(c, err)
			return
		}
		if err := set().Add(patterns...); err != nil {
			abortWith(c, err)
			return
		}
		writePatternList(c, set())
	})
	g.DELETE("/"+name, func(c *gin.Context) {
		if !s.requireAdmin(c) {
			return
		}
		patterns, err := parsePatternBody(c)
		if err != nil {
			abortWith(c, err)
			return
		}
		if err := set().Remove(patterns...); err != nil {
			abortWith(c, err)
			return
		}
		writePatternList(c, set())
	})
}

// actorListRoutes wires the per-actor allow and block lists, which take
// precedence over the global ones during moderation.
func (s *Server) actorListRoutes(g *gin.RouterGroup, name string) {
	set := func(c *gin.Context) (*store.PatternSet, bool) {
		key := s.actorKey(c.Param("actor"))
		if !s.requireActorPermission(c, key) {
			return nil, false
		}
		a, err := s.fed.Store().Actor(key)
		if err != nil {
			abortWith(c, err)
			return nil, false
		}
		if name == "allowlist" {
			return a.Allowlist, true
		}
		return a.Blocklist, true
	}

	g.GET("/:actor/"+name, func(c *gin.Context) {
		ps, ok := set(c)
		if !ok {
			return
		}
		writePatternList(c, ps)
	})
	g.POST("/:actor/"+name, func(c *gin.Context) {
		ps, ok := set(c)
		if !ok {
			return
		}
		patterns, err := parsePatternBody(c)
		if err != nil {
			abortWith(c, err)
			return
		}
		if err := ps.Add(patterns...); err != nil {
			abortWith(c, err)
			return
		}
		writePatternList(c, ps)
	})
	g.DELETE("/:actor/"+name, func(c *gin.Context) {
		ps, ok := set(c)
		if !ok {
			return
		}
		patterns, err := parsePatternBody(c)
		if err != nil {
			abortWith(c, err)
			return
		}
		if err := ps.Remove(patterns...); err != nil {
			abortWith(c, err)
			return
		}
		writePatternList(c, ps)
	})
}
