package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

// Message is one entry in a game's chat stream. IDs prefixed "local-" are
// client-generated optimistic placeholders and are never canonical;
// "system-" IDs mark client-synthesized presence messages.
type Message struct {
	ID        string      `json:"_id"`
	GameID    string      `json:"gameId"`
	UserID    string      `json:"userId"`
	Username  string      `json:"username"`
	Body      string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      MessageKind `json:"messageType"`
}

// IsOptimistic reports whether the message still carries a local
// placeholder ID awaiting its server echo.
func (m Message) IsOptimistic() bool {
	return strings.HasPrefix(m.ID, "local-")
}

// UnmarshalJSON accepts the loose timestamp encodings the backend emits
// (RFC 3339 string, epoch seconds or epoch milliseconds) and defaults the
// message kind to text.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID        string          `json:"_id"`
		GameID    string          `json:"gameId"`
		UserID    string          `json:"userId"`
		Username  string          `json:"username"`
		Body      string          `json:"message"`
		Timestamp json.RawMessage `json:"timestamp"`
		Kind      MessageKind     `json:"messageType"`
	}

	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	ts, err := ParseTimestamp(a.Timestamp)
	if err != nil {
		return fmt.Errorf("message %s: %w", a.ID, err)
	}

	m.ID = a.ID
	m.GameID = a.GameID
	m.UserID = a.UserID
	m.Username = a.Username
	m.Body = a.Body
	m.Timestamp = ts
	m.Kind = a.Kind
	if m.Kind == "" {
		m.Kind = KindText
	}
	return nil
}

// ParseTimestamp normalizes a raw JSON timestamp into a time.Time.
// Accepted forms: RFC 3339 string, integer epoch seconds, integer epoch
// milliseconds. Absent or null timestamps yield the zero time; callers
// decide the fallback.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return t, nil
	}

	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %s", raw)
	}
	// Epoch millis once the value is too large to be seconds.
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
