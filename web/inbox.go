package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/deemkeen/fedinbox/activitypub"
	"github.com/deemkeen/fedinbox/domain"
)

// idParam decodes a path parameter holding a query-escaped URL id.
func idParam(c *gin.Context, name string) string {
	raw := c.Param(name)
	if decoded, err := url.QueryUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// callerAudience resolves the requester's actor URL for visibility checks.
// Unsigned requests get an empty audience and see only public items.
func (s *Server) callerAudience(c *gin.Context, contextActor string) (string, error) {
	if c.Request.Header.Get("Signature") == "" {
		return "", nil
	}
	if _, err := s.fed.VerifySignedRequest(c.Request, contextActor); err != nil {
		return "", err
	}
	keyID, err := activitypub.RequestKeyID(c.Request)
	if err != nil {
		return "", fmt.Errorf("unparseable signature: %w", domain.ErrUnauthorized)
	}
	return domain.BaseURL(keyID), nil
}

// handleInboxPost is the federation entry point: remote servers deliver
// activities here. The signature gate runs with the target actor as context
// so its personal allow/block lists apply.
func (s *Server) handleInboxPost(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))

	if _, err := s.fed.VerifySignedRequest(c.Request, key); err != nil {
		abortWith(c, err)
		return
	}

	var act domain.Activity
	if err := json.NewDecoder(c.Request.Body).Decode(&act); err != nil {
		abortWith(c, fmt.Errorf("invalid activity json: %w", domain.ErrBadRequest))
		return
	}
	if err := s.fed.IngestActivity(key, &act); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// handleInboxList returns the actor's inbox, newest first. Restricted to
// the actor and admins since queued items may not be public.
func (s *Server) handleInboxList(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	if !s.requireActorPermission(c, key) {
		return
	}
	a, err := s.fed.Store().Actor(key)
	if err != nil {
		abortWith(c, err)
		return
	}
	skip, limit := pagination(c)
	acts, err := a.Inbox.List(skip, limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	total, err := a.Inbox.Count()
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalItems": total, "orderedItems": acts})
}

// handleInboxApprove drives a queued activity to the approved state.
func (s *Server) handleInboxApprove(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	if !s.requireActorPermission(c, key) {
		return
	}
	if err := s.fed.ApproveActivity(key, idParam(c, "id")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleInboxReject rejects a queued or stored activity and removes it.
func (s *Server) handleInboxReject(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	if !s.requireActorPermission(c, key) {
		return
	}
	if err := s.fed.RejectActivity(key, idParam(c, "id")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReplies(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	callerTo, err := s.callerAudience(c, key)
	if err != nil {
		abortWith(c, err)
		return
	}
	skip, limit := pagination(c)
	col, err := s.fed.RepliesCollection(key, idParam(c, "object"), callerTo, skip, limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Header("Content-Type", activityJSONType)
	c.JSON(http.StatusOK, col)
}

func (s *Server) handleLikes(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	callerTo, err := s.callerAudience(c, key)
	if err != nil {
		abortWith(c, err)
		return
	}
	col, err := s.fed.LikesCollection(key, idParam(c, "object"), callerTo)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Header("Content-Type", activityJSONType)
	c.JSON(http.StatusOK, col)
}

func (s *Server) handleShares(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	callerTo, err := s.callerAudience(c, key)
	if err != nil {
		abortWith(c, err)
		return
	}
	col, err := s.fed.SharesCollection(key, idParam(c, "object"), callerTo)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Header("Content-Type", activityJSONType)
	c.JSON(http.StatusOK, col)
}

// handleFollowers enumerates followers for the actor and admins; everyone
// else only learns the count.
func (s *Server) handleFollowers(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))

	countOnly := true
	if c.Request.Header.Get("Signature") != "" {
		ok, err := s.fed.HasPermissionActorRequest(key, c.Request, true)
		if err != nil {
			abortWith(c, err)
			return
		}
		countOnly = !ok
	}

	col, err := s.fed.FollowersCollection(key, countOnly)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Header("Content-Type", activityJSONType)
	c.JSON(http.StatusOK, col)
}

// handleFollowerDelete force-removes a follower without waiting for an Undo.
func (s *Server) handleFollowerDelete(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	if !s.requireActorPermission(c, key) {
		return
	}
	follower := idParam(c, "follower")
	if _, err := domain.ParseMention(follower); err != nil {
		abortWith(c, err)
		return
	}
	a, err := s.fed.Store().Actor(key)
	if err != nil {
		abortWith(c, err)
		return
	}
	has, err := a.Followers.Has(follower)
	if err != nil {
		abortWith(c, err)
		return
	}
	if !has {
		abortWith(c, fmt.Errorf("%s does not follow %s: %w", follower, key, domain.ErrNotFound))
		return
	}
	if err := a.Followers.Remove(follower); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
