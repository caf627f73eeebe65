// Package events defines the event types and payloads exchanged on the
// Tavolo event bus.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Roster events
	EventPlayerJoined   EventType = "player_joined"
	EventPlayerRejoined EventType = "player_rejoined"
	EventPlayerOffline  EventType = "player_offline"
	EventPlayerLeft     EventType = "player_left"
	EventPlayerKicked   EventType = "player_kicked"

	// Game lifecycle events
	EventGameStarted EventType = "game_started"
	EventGameEnded   EventType = "game_ended"

	// Chat events
	EventChatLine EventType = "chat_line"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlayerPayload accompanies the roster events.
type PlayerPayload struct {
	ID   uint32
	Name string
}

// GameStartedPayload accompanies EventGameStarted.
type GameStartedPayload struct {
	Players int
}

// GameEndedPayload accompanies EventGameEnded. Standings is ordered by
// finishing rank, winner first.
type GameEndedPayload struct {
	Standings []string
}

// ChatLinePayload accompanies EventChatLine. FromID is nil for lines
// originated by the server itself.
type ChatLinePayload struct {
	FromID *uint32
	From   string
	Text   string
}
