// Package archive persists chat transcripts to Postgres when the client
// runs as a room logger. Entirely optional: no ARCHIVE_DATABASE_URL, no
// archiver.
package archive

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pickup-chat/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id         TEXT PRIMARY KEY,
    game_id    TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    username   TEXT NOT NULL,
    body       TEXT NOT NULL,
    msg_type   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_game_created_idx ON messages (game_id, created_at);
`

// Connect opens the archive database pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Println("[ARCHIVE] Database connected")

	return pool, nil
}

// Archiver writes messages from a live session into the messages table.
// Saves are idempotent by message ID, mirroring the session's own dedup.
type Archiver struct {
	pool *pgxpool.Pool

	saved map[string]struct{}
}

func New(pool *pgxpool.Pool) *Archiver {
	return &Archiver{
		pool:  pool,
		saved: make(map[string]struct{}),
	}
}

// EnsureSchema creates the messages table if missing.
func (a *Archiver) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, schema)
	return err
}

// Save persists one message. Re-saving the same ID is harmless.
func (a *Archiver) Save(ctx context.Context, m models.Message) error {
	query := `
        INSERT INTO messages (id, game_id, user_id, username, body, msg_type, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO NOTHING
    `

	_, err := a.pool.Exec(ctx, query,
		m.ID,
		m.GameID,
		m.UserID,
		m.Username,
		m.Body,
		m.Kind,
		m.Timestamp,
	)
	if err != nil {
		log.Printf("[ARCHIVE] Failed to save message %s: %v", m.ID, err)
		return err
	}
	return nil
}

// Record archives every message in a session snapshot it has not seen
// yet. Optimistic entries are skipped until their canonical echo lands;
// their local IDs must never be archived as if canonical.
func (a *Archiver) Record(ctx context.Context, msgs []models.Message) {
	for _, m := range msgs {
		if m.ID == "" || m.IsOptimistic() {
			continue
		}
		if _, ok := a.saved[m.ID]; ok {
			continue
		}
		if err := a.Save(ctx, m); err != nil {
			continue
		}
		a.saved[m.ID] = struct{}{}
	}
}

// Fetch returns up to limit archived messages for a game created before
// the given cutoff, oldest first. A zero cutoff means now.
func (a *Archiver) Fetch(ctx context.Context, gameID string, limit int, before time.Time) ([]models.Message, error) {
	if before.IsZero() {
		before = time.Now()
	}

	query := `
        SELECT id, game_id, user_id, username, body, msg_type, created_at
        FROM messages
        WHERE game_id = $1
          AND created_at < $2
        ORDER BY created_at ASC
        LIMIT $3
    `

	rows, err := a.pool.Query(ctx, query, gameID, before, limit)
	if err != nil {
		log.Printf("[ARCHIVE] Fetch failed for game %s: %v", gameID, err)
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var kind string
		if err := rows.Scan(&m.ID, &m.GameID, &m.UserID, &m.Username, &m.Body, &kind, &m.Timestamp); err != nil {
			log.Printf("[ARCHIVE] Scan failed: %v", err)
			return nil, err
		}
		m.Kind = models.MessageKind(strings.TrimSpace(kind))
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
