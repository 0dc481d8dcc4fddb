package chat

import "pickup-chat/internal/models"

// Event is anything the realtime transport delivers to a session.
type Event interface {
	isEvent()
}

// ConnectedEvent fires when the transport reaches the server, including
// after an automatic reconnect. Room membership does not survive a
// transport reset, so the session re-joins on every ConnectedEvent.
type ConnectedEvent struct{}

// DisconnectedEvent fires when the transport loses the server. The
// transport keeps retrying with backoff until closed.
type DisconnectedEvent struct {
	Err error
}

// MessageEvent carries a broadcast chat message.
type MessageEvent struct {
	Message models.Message
}

// PresenceEvent carries a user joining or leaving a room. GameID may be
// empty when the server scopes the event by connection instead.
type PresenceEvent struct {
	GameID   string
	Username string
	Joined   bool
}

func (ConnectedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent() {}
func (MessageEvent) isEvent()      {}
func (PresenceEvent) isEvent()     {}
