// Package moderation decides the disposition of inbound actors.
package moderation

import "fmt"

// Decision is the trichotomy governing inbound activity disposition.
type Decision int

const (
	Allowed Decision = iota
	Blocked
	Queued
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	case Queued:
		return "queued"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Matcher is the pattern-membership lookup the engine consults.
type Matcher interface {
	Matches(mention string) (bool, error)
}

// ActorLists carries the per-actor lists for a check. Either field may be
// nil when no actor context applies.
type ActorLists struct {
	Allow Matcher
	Block Matcher
}

// Engine holds the global lists. Check is pure: no side effects, safe to
// call repeatedly.
type Engine struct {
	Admins      Matcher
	GlobalBlock Matcher
	GlobalAllow Matcher
}

// Check maps a mention to its moderation decision. Order is significant:
// actor-level rules run before global rules, and admins outrank the global
// blocklist.
func (e *Engine) Check(mention string, actor ActorLists) (Decision, error) {
	steps := []struct {
		m    Matcher
		then Decision
	}{
		{actor.Allow, Allowed},
		{actor.Block, Blocked},
		{e.Admins, Allowed},
		{e.GlobalBlock, Blocked},
		{e.GlobalAllow, Allowed},
	}
	for _, step := range steps {
		if step.m == nil {
			continue
		}
		ok, err := step.m.Matches(mention)
		if err != nil {
			return Queued, err
		}
		if ok {
			return step.then, nil
		}
	}
	return Queued, nil
}

// IsAllowed reports whether the mention is anything but blocked.
func (e *Engine) IsAllowed(mention string, actor ActorLists) (bool, error) {
	d, err := e.Check(mention, actor)
	if err != nil {
		return false, err
	}
	return d != Blocked, nil
}
