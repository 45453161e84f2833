package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"

	"github.com/deemkeen/fedinbox/domain"
)

// handleOutboxPost publishes an activity from a local actor and fans it out
// to the followers.
func (s *Server) handleOutboxPost(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	if !s.requireActorPermission(c, key) {
		return
	}

	var act domain.Activity
	if err := json.NewDecoder(c.Request.Body).Decode(&act); err != nil {
		abortWith(c, fmt.Errorf("invalid activity json: %w", domain.ErrBadRequest))
		return
	}
	if act.Type == "" {
		abortWith(c, fmt.Errorf("activity needs a type: %w", domain.ErrBadRequest))
		return
	}
	if err := s.fed.PublishActivity(key, &act); err != nil {
		abortWith(c, err)
		return
	}
	c.Header("Content-Type", activityJSONType)
	c.JSON(http.StatusCreated, act)
}

// handleOutboxGet serves a single published activity. Remote servers
// dereference Accept and Reject responses through this route.
func (s *Server) handleOutboxGet(c *gin.Context) {
	key := s.actorKey(c.Param("actor"))
	a, err := s.fed.Store().Actor(key)
	if err != nil {
		abortWith(c, err)
		return
	}
	act, err := a.Outbox.Get(idParam(c, "id"))
	if err != nil {
		abortWith(c, err)
		return
	}

	callerTo, err := s.callerAudience(c, key)
	if err != nil {
		abortWith(c, err)
		return
	}
	if act.To != nil && !domain.VisibleTo(act.To, callerTo) {
		abortWith(c, fmt.Errorf("activity not found: %w", domain.ErrNotFound))
		return
	}
	c.Header("Content-Type", activityJSONType)
	c.JSON(http.StatusOK, act)
}

// handleFeed renders the actor's public outbox notes as an RSS feed.
func (s *Server) handleFeed(c *gin.Context) {
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
	acts, err := a.Outbox.List(0, 50)
	if err != nil {
		abortWith(c, err)
		return
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s@%s", name, s.conf.Conf.Domain),
		Link:        &feeds.Link{Href: info.ActorURL},
		Description: fmt.Sprintf("Public posts by %s", key),
		Created:     info.CreatedAt,
	}
	for _, act := range acts {
		if act.Type != domain.TypeCreate {
			continue
		}
		if act.To != nil && !domain.VisibleTo(act.To, "") {
			continue
		}
		var obj domain.Object
		if err := json.Unmarshal(act.Object, &obj); err != nil {
			continue
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          act.ID,
			Title:       fmt.Sprintf("Note by %s", key),
			Link:        &feeds.Link{Href: act.ID},
			Description: obj.Content,
			Created:     act.PublishedTime(),
		})
	}

	rss, err := feed.ToRss()
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}
