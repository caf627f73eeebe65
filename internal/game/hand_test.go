package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandPutGetRemove(t *testing.T) {
	h := NewHand()
	h.Put(NewNormal(Five, Red))
	h.Put(NewSpecial(Wild))
	require.Equal(t, 2, h.Len())

	c, ok := h.Get(0)
	require.True(t, ok)
	assert.Equal(t, KindNormal, c.Kind)
	require.NotNil(t, c.ID)
	assert.Equal(t, uint32(0), *c.ID)

	h.Remove(0)
	assert.Equal(t, 1, h.Len())
	_, ok = h.Get(0)
	assert.False(t, ok)
}

func TestHandIDsNeverReused(t *testing.T) {
	h := NewHand()
	h.Put(NewNormal(One, Red))
	h.Remove(0)
	h.Put(NewNormal(Two, Blue))

	_, ok := h.Get(0)
	assert.False(t, ok)
	c, ok := h.Get(1)
	require.True(t, ok)
	assert.Equal(t, Two, *c.Rank)
}

func TestHandDraw(t *testing.T) {
	h := NewHand()
	h.Draw(7)
	assert.Equal(t, 7, h.Len())

	// Zero or negative still draws one, the forced-draw fallback.
	h.Draw(0)
	assert.Equal(t, 8, h.Len())
}

func TestHandCardsSortedByID(t *testing.T) {
	h := NewHand()
	for i := 0; i < 5; i++ {
		h.Put(NewNormal(Rank(i), Green))
	}
	cards := h.Cards()
	require.Len(t, cards, 5)
	for i := 1; i < len(cards); i++ {
		assert.Less(t, *cards[i-1].ID, *cards[i].ID)
	}
}

func TestCouldPlayOn(t *testing.T) {
	table := NewNormal(Seven, Red)

	h := NewHand()
	h.Put(NewNormal(Three, Blue))
	assert.False(t, h.CouldPlayOn(table))

	h.Put(NewNormal(Two, Red))
	assert.True(t, h.CouldPlayOn(table))

	wilds := NewHand()
	wilds.Put(NewSpecial(WildDrawFour))
	assert.True(t, wilds.CouldPlayOn(table))
}
