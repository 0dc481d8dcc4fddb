package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"pickup-chat/internal/models"
)

// PresenceNotifier turns join/leave events for one game room into
// synthetic system messages. Events tagged with another room are ignored.
type PresenceNotifier struct {
	gameID string
}

func NewPresenceNotifier(gameID string) *PresenceNotifier {
	return &PresenceNotifier{gameID: gameID}
}

// MessageFor builds the system message for a presence event, or reports
// false when the event belongs to a different room or names no user.
func (n *PresenceNotifier) MessageFor(ev PresenceEvent) (models.Message, bool) {
	if ev.GameID != "" && ev.GameID != n.gameID {
		return models.Message{}, false
	}
	if ev.Username == "" {
		return models.Message{}, false
	}

	verb := "left"
	if ev.Joined {
		verb = "joined"
	}
	return models.Message{
		ID:        "system-" + uuid.NewString(),
		GameID:    n.gameID,
		UserID:    "system",
		Username:  "System",
		Body:      fmt.Sprintf("%s %s the game", ev.Username, verb),
		Timestamp: time.Now(),
		Kind:      models.KindSystem,
	}, true
}
