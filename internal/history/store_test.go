package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavolo-project/tavolo/internal/events"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "tavolo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMatchLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.handleEvent(ctx, events.Event{
		Type:    events.EventGameStarted,
		Payload: events.GameStartedPayload{Players: 3},
	})
	require.NoError(t, err)

	matches, err := s.RecentMatches(10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 3, matches[0].Players)
	assert.Nil(t, matches[0].EndedAt, "a running match has no end time")

	err = s.handleEvent(ctx, events.Event{
		Type:    events.EventGameEnded,
		Payload: events.GameEndedPayload{Standings: []string{"anna", "bruno", "carla"}},
	})
	require.NoError(t, err)

	matches, err = s.RecentMatches(10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "anna", matches[0].Winner)
	assert.Equal(t, []string{"anna", "bruno", "carla"}, matches[0].Standings)
	assert.NotNil(t, matches[0].EndedAt)
}

func TestGameEndedWithoutStart(t *testing.T) {
	s := newTestStore(t)

	err := s.handleEvent(context.Background(), events.Event{
		Type:    events.EventGameEnded,
		Payload: events.GameEndedPayload{Standings: []string{"anna"}},
	})
	require.NoError(t, err)

	matches, err := s.RecentMatches(10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRecentMatchesOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 2; i <= 5; i++ {
		require.NoError(t, s.handleEvent(ctx, events.Event{
			Type:    events.EventGameStarted,
			Payload: events.GameStartedPayload{Players: i},
		}))
		require.NoError(t, s.handleEvent(ctx, events.Event{
			Type:    events.EventGameEnded,
			Payload: events.GameEndedPayload{Standings: []string{"anna"}},
		}))
	}

	matches, err := s.RecentMatches(2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 5, matches[0].Players, "newest first")
	assert.Equal(t, 4, matches[1].Players)
}

func TestChatLog(t *testing.T) {
	s := newTestStore(t)

	err := s.handleEvent(context.Background(), events.Event{
		Type:    events.EventChatLine,
		Payload: events.ChatLinePayload{From: "anna", Text: "ciao a tutti"},
	})
	require.NoError(t, err)

	var sender, message string
	row := s.db.QueryRow("SELECT sender, message FROM chat_log LIMIT 1")
	require.NoError(t, row.Scan(&sender, &message))
	assert.Equal(t, "anna", sender)
	assert.Equal(t, "ciao a tutti", message)
}
