// Package history implements the SQLite-backed match history archive. It is
// a write-only consumer of the event bus: nothing in the game server reads
// it back, so restarting the process never resurrects game state.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/tavolo-project/tavolo/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	players INTEGER NOT NULL,
	winner TEXT,
	standings TEXT
);
CREATE TABLE IF NOT EXISTS chat_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TIMESTAMP NOT NULL,
	sender TEXT NOT NULL,
	message TEXT NOT NULL
);
`

// Match is one archived game.
type Match struct {
	ID        int64      `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Players   int        `json:"players"`
	Winner    string     `json:"winner,omitempty"`
	Standings []string   `json:"standings,omitempty"`
}

// Store archives finished matches and the chat log to SQLite.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string

	currentMatch int64
}

// NewStore opens or creates the history database at the given path.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL mode for better read concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("history database opened")
	return &Store{db: db, path: dbPath}, nil
}

// Subscribe registers the store on the event bus.
func (s *Store) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventGameStarted, "history", s.handleEvent)
	bus.Subscribe(events.EventGameEnded, "history", s.handleEvent)
	bus.Subscribe(events.EventChatLine, "history", s.handleEvent)
}

func (s *Store) handleEvent(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.EventGameStarted:
		p, ok := event.Payload.(events.GameStartedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", event.Type)
		}
		return s.matchStarted(p.Players)
	case events.EventGameEnded:
		p, ok := event.Payload.(events.GameEndedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", event.Type)
		}
		return s.matchEnded(p.Standings)
	case events.EventChatLine:
		p, ok := event.Payload.(events.ChatLinePayload)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", event.Type)
		}
		return s.logChat(p.From, p.Text)
	}
	return nil
}

func (s *Store) matchStarted(players int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO matches (started_at, players) VALUES (?, ?)",
		time.Now().UTC(), players,
	)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	s.currentMatch, _ = res.LastInsertId()
	return nil
}

func (s *Store) matchEnded(standings []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentMatch == 0 {
		return nil
	}

	winner := ""
	if len(standings) > 0 {
		winner = standings[0]
	}
	encoded, err := json.Marshal(standings)
	if err != nil {
		return fmt.Errorf("failed to encode standings: %w", err)
	}

	_, err = s.db.Exec(
		"UPDATE matches SET ended_at = ?, winner = ?, standings = ? WHERE id = ?",
		time.Now().UTC(), winner, string(encoded), s.currentMatch,
	)
	s.currentMatch = 0
	if err != nil {
		return fmt.Errorf("failed to finalize match: %w", err)
	}
	return nil
}

func (s *Store) logChat(sender, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO chat_log (at, sender, message) VALUES (?, ?, ?)",
		time.Now().UTC(), sender, message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat line: %w", err)
	}
	return nil
}

// RecentMatches returns the most recent archived matches, newest first.
func (s *Store) RecentMatches(limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		"SELECT id, started_at, ended_at, players, winner, standings FROM matches ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var endedAt sql.NullTime
		var winner, standings sql.NullString
		if err := rows.Scan(&m.ID, &m.StartedAt, &endedAt, &m.Players, &winner, &standings); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			m.EndedAt = &t
		}
		m.Winner = winner.String
		if standings.Valid && strings.TrimSpace(standings.String) != "" {
			if err := json.Unmarshal([]byte(standings.String), &m.Standings); err != nil {
				log.Warn().Err(err).Int64("match_id", m.ID).Msg("malformed standings in archive")
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
