package domain

import (
	"fmt"
	"strings"
)

// Mention is a federated identity string of the form @username@domain.
// Wildcard patterns use "*" for either segment: @*@example.com matches every
// user on example.com, @*@* matches everyone.
type Mention struct {
	Username string
	Domain   string
}

// ParseMention parses "@user@domain" into its segments.
func ParseMention(s string) (Mention, error) {
	trimmed := strings.TrimPrefix(s, "@")
	parts := strings.Split(trimmed, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Mention{}, fmt.Errorf("malformed mention %q: %w", s, ErrBadRequest)
	}
	return Mention{Username: parts[0], Domain: parts[1]}, nil
}

func (m Mention) String() string {
	return fmt.Sprintf("@%s@%s", m.Username, m.Domain)
}

// IsWildcard reports whether either segment is the "*" wildcard.
func (m Mention) IsWildcard() bool {
	return m.Username == "*" || m.Domain == "*"
}
