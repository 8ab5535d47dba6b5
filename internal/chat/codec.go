package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

func encodeSessions(sessions []ChatSession) ([]byte, error) {
	out := make([]ChatSession, len(sessions))
	for i, s := range sessions {
		out[i] = s
		// Readers of this blob expect an array, never null.
		if out[i].Messages == nil {
			out[i].Messages = []Message{}
		}
	}
	return json.Marshal(out)
}

// decodeSessions parses a persisted blob. Entries without an id are dropped
// and a repeated id is renamed to <id>-<n> so both conversations survive.
// A blob that is not an array, or an array in which no entry survives, is
// rejected so the caller keeps what it has.
func decodeSessions(b []byte) ([]ChatSession, error) {
	var raw []ChatSession
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("session history is not an array")
	}

	sessions := make([]ChatSession, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			continue
		}
		if _, ok := seen[s.ID]; ok {
			base := s.ID
			for n := 1; ; n++ {
				s.ID = fmt.Sprintf("%s-%d", base, n)
				if _, taken := seen[s.ID]; !taken {
					break
				}
			}
		}
		seen[s.ID] = struct{}{}
		if s.Messages == nil {
			s.Messages = []Message{}
		}
		s.Timestamp = normalizeUnixMillis(s.Timestamp)
		sessions = append(sessions, s)
	}
	if len(raw) > 0 && len(sessions) == 0 {
		return nil, fmt.Errorf("none of %d persisted sessions has an id", len(raw))
	}
	return sessions, nil
}

// normalizeUnixMillis accepts timestamps written in seconds or milliseconds.
func normalizeUnixMillis(ts int64) int64 {
	// 99_999_999_999 is ~5138-11-16 in seconds; anything larger is almost
	// certainly milliseconds.
	if ts > 99_999_999_999 {
		return ts
	}
	if ts <= 0 {
		return ts
	}
	return ts * 1000
}
