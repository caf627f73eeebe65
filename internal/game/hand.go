package game

import "sort"

// Hand is the unordered bag of cards owned by one player. Cards are keyed by
// a per-hand ID so the client can reference the exact card it wants to play.
// Hand is not safe for concurrent use; the owning registry serializes access.
type Hand struct {
	nextID uint32
	cards  map[uint32]Card
}

// NewHand creates an empty hand.
func NewHand() *Hand {
	return &Hand{cards: make(map[uint32]Card)}
}

// Draw adds n randomly generated cards to the hand. A count of zero still
// draws one card, matching the forced-draw fallback of the rules engine.
func (h *Hand) Draw(n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		h.Put(Random())
	}
}

// Put adds a specific card to the hand, assigning it a fresh hand ID.
func (h *Hand) Put(c Card) {
	id := h.nextID
	h.nextID++
	h.cards[id] = c.WithID(id)
}

// Get returns the card with the given hand ID.
func (h *Hand) Get(id uint32) (Card, bool) {
	c, ok := h.cards[id]
	return c, ok
}

// Remove deletes the card with the given hand ID.
func (h *Hand) Remove(id uint32) {
	delete(h.cards, id)
}

// Len returns the number of cards held.
func (h *Hand) Len() int {
	return len(h.cards)
}

// Cards returns the held cards sorted by hand ID, for stable listings.
func (h *Hand) Cards() []Card {
	out := make([]Card, 0, len(h.cards))
	for _, c := range h.cards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].ID < *out[j].ID })
	return out
}

// CouldPlayOn reports whether any held card is legal against the given table
// card. Used for bluff verification; the hand is not mutated.
func (h *Hand) CouldPlayOn(table Card) bool {
	for _, c := range h.cards {
		if c.PlayableOn(table) {
			return true
		}
	}
	return false
}
