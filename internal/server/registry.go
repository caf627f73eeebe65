package server

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tavolo-project/tavolo/internal/game"
	"github.com/tavolo-project/tavolo/internal/protocol"
)

// AdminID is the reserved player ID of the table host.
const AdminID uint32 = 0

// Session is the per-player runtime state. The socket handle lives in the
// ClientTable; everything else about a player is here.
type Session struct {
	Info       protocol.PlayerInfo
	AccessCode int64
	Hand       *game.Hand

	cancel context.CancelFunc
	remove bool
}

// Registry is the authoritative map of player ID to Session, guarded by a
// single lock. No method holds the lock across blocking I/O.
type Registry struct {
	mu         sync.Mutex
	players    map[uint32]*Session
	nextID     uint32
	maxPlayers int
}

// NewRegistry creates an empty registry. Player IDs are handed out
// monotonically starting from 1; ID 0 is reserved for the admin.
func NewRegistry(maxPlayers int) *Registry {
	return &Registry{
		players:    make(map[uint32]*Session),
		nextID:     AdminID + 1,
		maxPlayers: maxPlayers,
	}
}

// newAccessCode draws a fresh non-negative 64-bit access code.
func newAccessCode() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform entropy source is broken.
		panic(fmt.Sprintf("access code generation failed: %v", err))
	}
	return int64(binary.BigEndian.Uint64(b[:]) &^ (1 << 63))
}

// CreateAdmin registers the table host offline under the reserved ID and
// returns the access code the operator needs to join as that player.
func (r *Registry) CreateAdmin(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := newAccessCode()
	id := AdminID
	pers := protocol.DefaultPersonalization()
	r.players[id] = &Session{
		Info: protocol.PlayerInfo{
			ID:              &id,
			IsOnline:        false,
			Name:            protocol.SanitizeName(name),
			Personalization: &pers,
		},
		AccessCode: code,
		Hand:       game.NewHand(),
	}
	return code
}

// Add registers a new player and returns its identity and access code.
// Fails when the table is full or the name collides with an existing one.
func (r *Registry) Add(name string, pers *protocol.Personalization) (protocol.PlayerInfo, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.players) >= r.maxPlayers {
		return protocol.PlayerInfo{}, 0, fmt.Errorf("il tavolo è pieno")
	}
	for _, s := range r.players {
		if strings.EqualFold(s.Info.Name, name) {
			return protocol.PlayerInfo{}, 0, fmt.Errorf("il nome %q è già in uso", name)
		}
	}

	id := r.nextID
	r.nextID++
	if pers == nil {
		p := protocol.DefaultPersonalization()
		pers = &p
	}
	code := newAccessCode()
	s := &Session{
		Info: protocol.PlayerInfo{
			ID:              &id,
			IsOnline:        true,
			Name:            name,
			Personalization: pers,
		},
		AccessCode: code,
		Hand:       game.NewHand(),
	}
	r.players[id] = s

	log.Info().Uint32("player_id", id).Str("name", name).Msg("player registered")
	return s.Info, code, nil
}

// Rejoin validates an (ID, access code) pair against an offline player and
// rotates the code. Every mismatch is reported with the same error so a
// caller cannot probe which check failed.
func (r *Registry) Rejoin(id uint32, accessCode int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[id]
	if !ok || s.Info.IsOnline || s.AccessCode != accessCode {
		return 0, fmt.Errorf("riconnessione non valida")
	}

	s.AccessCode = newAccessCode()
	s.Info.IsOnline = true
	log.Info().Uint32("player_id", id).Str("name", s.Info.Name).Msg("player rejoined")
	return s.AccessCode, nil
}

// SetCancel stores the cancellation handle of the player's active session
// task, replacing (and firing) any stale one.
func (r *Registry) SetCancel(id uint32, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[id]
	if !ok {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
}

// CancelSession fires the player's cancellation handle, unblocking its
// session task.
func (r *Registry) CancelSession(id uint32) {
	r.mu.Lock()
	s, ok := r.players[id]
	var cancel context.CancelFunc
	if ok && s.cancel != nil {
		cancel = s.cancel
		s.cancel = nil
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// CancelAll fires every cancellation handle. Used during server shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.players))
	for _, s := range r.players {
		if s.cancel != nil {
			cancels = append(cancels, s.cancel)
			s.cancel = nil
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// SetRemove flags the player for full removal on its next disconnect.
func (r *Registry) SetRemove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.players[id]; ok {
		s.remove = true
	}
}

// HandleDisconnect finalizes a player's disconnect. When permanent is true
// or the removal flag was set, the session is erased and true is returned;
// otherwise the player is only marked offline for a later rejoin.
func (r *Registry) HandleDisconnect(id uint32, permanent bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[id]
	if !ok {
		return false
	}
	if permanent || s.remove {
		delete(r.players, id)
		log.Info().Uint32("player_id", id).Str("name", s.Info.Name).Msg("player removed")
		return true
	}
	s.Info.IsOnline = false
	s.cancel = nil
	log.Info().Uint32("player_id", id).Str("name", s.Info.Name).Msg("player offline")
	return false
}

// Remove erases a session outright. Used for offline players; online ones
// go through SetRemove plus session cancellation.
func (r *Registry) Remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[id]; !ok {
		return false
	}
	delete(r.players, id)
	return true
}

// Get returns a copy of the player's roster entry.
func (r *Registry) Get(id uint32) (protocol.PlayerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[id]
	if !ok {
		return protocol.PlayerInfo{}, false
	}
	return s.Info, true
}

// IDByName resolves a display name to a player ID, case-insensitively.
func (r *Registry) IDByName(name string) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.players {
		if strings.EqualFold(s.Info.Name, name) {
			return id, true
		}
	}
	return 0, false
}

// IsOnline reports whether the player is currently connected.
func (r *Registry) IsOnline(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[id]
	return ok && s.Info.IsOnline
}

// Roster returns every player's roster entry, sorted by ID.
func (r *Registry) Roster() []protocol.PlayerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.PlayerInfo, 0, len(r.players))
	for _, s := range r.players {
		out = append(out, s.Info)
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].ID < *out[j].ID })
	return out
}

// Count returns the number of registered players.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// OnlineCount returns the number of online players.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.players {
		if s.Info.IsOnline {
			n++
		}
	}
	return n
}

// EligibleIDs returns the sorted IDs of players still in the turn rotation:
// online and without a finishing rank.
func (r *Registry) EligibleIDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint32, 0, len(r.players))
	for id, s := range r.players {
		if s.Info.IsOnline && s.Info.Won == nil {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetWon records a player's finishing rank, excluding it from rotation.
func (r *Registry) SetWon(id uint32, rank int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.players[id]; ok {
		s.Info.Won = &rank
	}
}

// DrawCards adds n random cards to the player's hand.
func (r *Registry) DrawCards(id uint32, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.players[id]; ok {
		s.Hand.Draw(n)
	}
}

// PutCard adds a specific card to the player's hand.
func (r *Registry) PutCard(id uint32, c game.Card) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.players[id]; ok {
		s.Hand.Put(c)
	}
}

// HandCard returns the card with the given hand ID from the player's hand.
func (r *Registry) HandCard(id, cardID uint32) (game.Card, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[id]
	if !ok {
		return game.Card{}, false
	}
	return s.Hand.Get(cardID)
}

// RemoveCard deletes the card with the given hand ID from the player's hand.
func (r *Registry) RemoveCard(id, cardID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.players[id]; ok {
		s.Hand.Remove(cardID)
	}
}

// HandCards returns the player's cards sorted by hand ID.
func (r *Registry) HandCards(id uint32) []game.Card {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[id]
	if !ok {
		return nil
	}
	return s.Hand.Cards()
}

// HandLen returns the player's hand size.
func (r *Registry) HandLen(id uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[id]
	if !ok {
		return 0
	}
	return s.Hand.Len()
}

// HandCounts returns every player's hand size keyed by ID.
func (r *Registry) HandCounts() map[uint32]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uint32]int, len(r.players))
	for id, s := range r.players {
		out[id] = s.Hand.Len()
	}
	return out
}

// CouldPlayOn reports whether any card in the player's hand is legal
// against the given table card. Used for bluff verification.
func (r *Registry) CouldPlayOn(id uint32, table game.Card) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[id]
	if !ok {
		return false
	}
	return s.Hand.CouldPlayOn(table)
}

// ResetGame clears every hand and finishing rank, preparing the registry
// for the next game on the same table.
func (r *Registry) ResetGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.players {
		s.Hand = game.NewHand()
		s.Info.Won = nil
	}
}
