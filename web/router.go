package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/deemkeen/fedinbox/activitypub"
	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/util"
)

// Server carries the handler dependencies.
type Server struct {
	fed  *activitypub.Federation
	conf *util.AppConfig
}

// NewServer builds the gin engine with all routes wired.
func NewServer(fed *activitypub.Federation, conf *util.AppConfig) (*Server, *gin.Engine) {
	s := &Server{fed: fed, conf: conf}

	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit and a 1MB body cap for federation endpoints
	apLimiter := RateLimitMiddleware(NewRateLimiter(rate.Limit(5), 10))
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g.GET("/.well-known/webfinger", s.handleWebFinger)
	g.GET("/.well-known/host-meta", s.handleHostMeta)

	actors := g.Group("/actors")
	{
		actors.POST("/:actor", maxBodySize, s.handleActorUpsert)
		actors.GET("/:actor", s.handleActorGet)
		actors.DELETE("/:actor", s.handleActorDelete)

		actors.GET("/:actor/inbox", s.handleInboxList)
		actors.POST("/:actor/inbox", apLimiter, maxBodySize, s.handleInboxPost)
		actors.POST("/:actor/inbox/:id", s.handleInboxApprove)
		actors.DELETE("/:actor/inbox/:id", s.handleInboxReject)

		actors.GET("/:actor/inbox/replies/:object", s.handleReplies)
		actors.GET("/:actor/inbox/likes/:object", s.handleLikes)
		actors.GET("/:actor/inbox/shares/:object", s.handleShares)

		actors.GET("/:actor/followers", s.handleFollowers)
		actors.DELETE("/:actor/followers/:follower", s.handleFollowerDelete)

		actors.POST("/:actor/outbox", maxBodySize, s.handleOutboxPost)
		actors.GET("/:actor/outbox/:id", s.handleOutboxGet)

		actors.PUT("/:actor/hooks/:event", maxBodySize, s.handleHookPut)
		actors.GET("/:actor/hooks/:event", s.handleHookGet)
		actors.DELETE("/:actor/hooks/:event", s.handleHookDelete)

		actors.GET("/:actor/feed", s.handleFeed)

		s.actorListRoutes(actors, "blocklist")
		s.actorListRoutes(actors, "allowlist")
	}

	for _, list := range []string{"blocklist", "allowlist", "admins"} {
		s.globalListRoutes(g, list)
	}

	return s, g
}

// Run serves the engine on the configured address.
func (s *Server) Run(g *gin.Engine) error {
	return g.Run(fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort))
}

// actorKey maps a route param to its store key. Short names belong to the
// local domain; a full mention passes through.
func (s *Server) actorKey(param string) string {
	if strings.HasPrefix(param, "@") {
		return param
	}
	return fmt.Sprintf("@%s@%s", param, s.conf.Conf.Domain)
}

// statusFor maps the core error taxonomy to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// pagination reads skip/limit query params; limit defaults to 50.
func pagination(c *gin.Context) (skip, limit int) {
	skip, _ = strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}
	return skip, limit
}
