package model

import (
	"regexp"
	"strings"
)

// Member is the only shape of a user the moderation core consumes,
// whether it came from the platform or from a free-text argument.
type Member struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	IsBot       bool   `json:"is_bot"`
}

// NewMember builds a Member. An empty display name falls back to the username,
// and an empty username falls back to the id.
func NewMember(id, username, displayName string, isBot bool) Member {
	if username == "" {
		username = id
	}
	if displayName == "" {
		displayName = username
	}
	return Member{ID: id, Username: username, DisplayName: displayName, IsBot: isBot}
}

var mentionPattern = regexp.MustCompile(`^<@!?(\d+)>$`)
var snowflakePattern = regexp.MustCompile(`^\d{5,20}$`)

// MemberFromArgument synthesizes a Member from a command argument such as
// "<@1234>", "1234" or "1234 SomeName". ok is false when no id can be found.
func MemberFromArgument(arg string) (m Member, ok bool) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return Member{}, false
	}
	id := fields[0]
	if sub := mentionPattern.FindStringSubmatch(id); sub != nil {
		id = sub[1]
	}
	if !snowflakePattern.MatchString(id) {
		return Member{}, false
	}
	name := strings.Join(fields[1:], " ")
	return NewMember(id, name, name, false), true
}

// Label is the snapshot name stored with punishments.
func (m Member) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.ID
}
