package chat

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAI        Role = "ai"
	RoleAssistant Role = "assistant"
)

// Roles lists every accepted role in display order.
var Roles = []Role{RoleUser, RoleAssistant, RoleAI}

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAI:
		return RoleAI, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown role %q (want user, ai or assistant)", s)
	}
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatSession struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
	// Timestamp is the last activity time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

func (s ChatSession) clone() ChatSession {
	out := s
	out.Messages = append(make([]Message, 0, len(s.Messages)), s.Messages...)
	return out
}

// Snapshot is a detached copy of the store state handed to subscribers.
type Snapshot struct {
	Sessions []ChatSession
	ActiveID string
}
