package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/logger"
	"github.com/deemkeen/fedinbox/util"
)

const activityJSONType = "application/activity+json"

// actorCreateRequest uses pointers so a settings update only touches the
// fields present in the body.
type actorCreateRequest struct {
	ManuallyApprovesFollowers *bool `json:"manuallyApprovesFollowers"`
	Announce                  *bool `json:"announce"`
}

// handleActorUpsert creates a local actor or updates its settings. Creating
// a new actor needs no signature; changing an existing one requires the
// actor itself or an admin.
func (s *Server) handleActorUpsert(c *gin.Context) {
	name := c.Param("actor")
	if _, err := domain.ParseMention(fmt.Sprintf("@%s@%s", name, s.conf.Conf.Domain)); err != nil {
		abortWith(c, err)
		return
	}
	key := s.actorKey(name)

	a, err := s.fed.Store().Actor(key)
	if err != nil {
		abortWith(c, err)
		return
	}
	exists, err := a.Exists()
	if err != nil {
		abortWith(c, err)
		return
	}

	ok, err := s.fed.HasPermissionActorRequest(key, c.Request, exists)
	if err != nil {
		abortWith(c, err)
		return
	}
	if !ok {
		abortWith(c, fmt.Errorf("not allowed to modify %s: %w", key, domain.ErrForbidden))
		return
	}

	var req actorCreateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWith(c, fmt.Errorf("invalid body: %w", domain.ErrBadRequest))
			return
		}
	}

	if exists {
		info, err := a.Info()
		if err != nil {
			abortWith(c, err)
			return
		}
		if req.ManuallyApprovesFollowers != nil {
			info.ManuallyApprovesFollowers = *req.ManuallyApprovesFollowers
		}
		if req.Announce != nil {
			info.Announce = *req.Announce
		}
		if err := a.SetInfo(info); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, info.Public())
		return
	}

	info, err := s.newActorInfo(name, &req)
	if err != nil {
		abortWith(c, err)
		return
	}
	if err := a.SetInfo(info); err != nil {
		abortWith(c, err)
		return
	}
	logger.Info("actor_created", zap.String("actor", key))
	s.fed.AnnounceActorCreation(key, info)
	c.JSON(http.StatusCreated, info.Public())
}

func (s *Server) newActorInfo(name string, req *actorCreateRequest) (*domain.ActorInfo, error) {
	kp, err := util.GeneratePemKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	actorURL := s.conf.ActorURL(name)
	return &domain.ActorInfo{
		ActorURL:    actorURL,
		PublicKeyID: actorURL + "#main-key",
		KeyPair: domain.KeyPair{
			PublicKeyPem:  kp.Public,
			PrivateKeyPem: kp.Private,
		},
		ManuallyApprovesFollowers: req.ManuallyApprovesFollowers != nil && *req.ManuallyApprovesFollowers,
		Announce:                  req.Announce != nil && *req.Announce,
		CreatedAt:                 time.Now().UTC(),
	}, nil
}

// handleActorGet serves the ActivityPub actor document. This endpoint is
// public: remote servers fetch it to resolve signatures and inbox URLs.
func (s *Server) handleActorGet(c *gin.Context) {
	name := c.Param("actor")
	key := s.actorKey(name)
	a, err := s.fed.Store().Actor(key)
	if err != nil {
		abortWith(c, err)
		return
	}
	info, err := a.Info()
	if err != nil {
		abortWith(c, err)
		return
	}

	doc := gin.H{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        info.ActorURL,
		"type":                      "Person",
		"preferredUsername":         name,
		"inbox":                     info.ActorURL + "/inbox",
		"outbox":                    info.ActorURL + "/outbox",
		"followers":                 info.ActorURL + "/followers",
		"manuallyApprovesFollowers": info.ManuallyApprovesFollowers,
		"publicKey": gin.H{
			"id":           info.PublicKeyID,
			"owner":        info.ActorURL,
			"publicKeyPem": info.KeyPair.PublicKeyPem,
		},
	}
	c.Header("Content-Type", activityJSONType)
	c.JSON(http.StatusOK, doc)
}

// handleActorDelete removes the actor and its whole key space.
func (s *Server) handleActorDelete(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	if !s.requireActorPermission(c, key) {
		return
	}
	a, err := s.fed.Store().Actor(key)
	if err != nil {
		abortWith(c, err)
		return
	}
	if _, err := a.Info(); err != nil {
		abortWith(c, err)
		return
	}
	if err := a.Delete(); err != nil {
		abortWith(c, err)
		return
	}
	logger.Info("actor_deleted", zap.String("actor", key))
	c.Status(http.StatusNoContent)
}

// requireActorPermission enforces that the request is signed by the actor
// itself or an admin, aborting the request otherwise.
func (s *Server) requireActorPermission(c *gin.Context, actorKey string) bool {
	ok, err := s.fed.HasPermissionActorRequest(actorKey, c.Request, true)
	if err != nil {
		abortWith(c, err)
		return false
	}
	if !ok {
		abortWith(c, fmt.Errorf("not allowed for %s: %w", actorKey, domain.ErrForbidden))
		return false
	}
	return true
}

// handleHookPut configures a webhook for one lifecycle event.
func (s *Server) handleHookPut(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	event := c.Param("event")
	if !domain.KnownHookEvent(event) {
		abortWith(c, fmt.Errorf("unknown hook event %q: %w", event, domain.ErrBadRequest))
		return
	}
	if !s.requireActorPermission(c, key) {
		return
	}

	var hook domain.Hook
	if err := c.ShouldBindJSON(&hook); err != nil || hook.URL == "" {
		abortWith(c, fmt.Errorf("hook needs a url: %w", domain.ErrBadRequest))
		return
	}
	if hook.Method == "" {
		hook.Method = http.MethodPost
	}

	a, err := s.fed.Store().Actor(key)
	if err != nil {
		abortWith(c, err)
		return
	}
	if err := a.SetHook(event, &hook); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, hook)
}

func (s *Server) handleHookGet(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	event := c.Param("event")
	if !s.requireActorPermission(c, key) {
		return
	}
	a, err := s.fed.Store().Actor(key)
	if err != nil {
		abortWith(c, err)
		return
	}
	hook, err := a.Hook(event)
	if err != nil {
		abortWith(c, err)
		return
	}
	if hook == nil {
		abortWith(c, fmt.Errorf("no %s hook configured: %w", event, domain.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, hook)
}

func (s *Server) handleHookDelete(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	event := c.Param("event")
	if !s.requireActorPermission(c, key) {
		return
	}
	a, err := s.fed.Store().Actor(key)
	if err != nil {
		abortWith(c, err)
		return
	}
	if err := a.DeleteHook(event); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
