package chat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pickup-chat/internal/models"
)

// HistoryLoader fetches the durable message log that seeds a session.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, gameID string) ([]models.Message, error)
}

// MessageAPI is the slice of the REST client the history loader needs.
type MessageAPI interface {
	GetMessages(ctx context.Context, gameID string) ([]models.Message, error)
}

// RESTHistoryLoader loads a room's history from the backend and
// normalizes it: ascending timestamp order, missing timestamps defaulted
// to load time. A failed load returns an empty slice alongside the error;
// the session keeps running on live events only.
type RESTHistoryLoader struct {
	api MessageAPI
}

func NewRESTHistoryLoader(api MessageAPI) *RESTHistoryLoader {
	return &RESTHistoryLoader{api: api}
}

func (l *RESTHistoryLoader) LoadHistory(ctx context.Context, gameID string) ([]models.Message, error) {
	msgs, err := l.api.GetMessages(ctx, gameID)
	if err != nil {
		return []models.Message{}, fmt.Errorf("load history for game %s: %w", gameID, err)
	}

	now := time.Now()
	for i := range msgs {
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}
