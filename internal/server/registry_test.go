package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavolo-project/tavolo/internal/game"
)

func TestRegistryAdd(t *testing.T) {
	r := NewRegistry(3)

	info, code, err := r.Add("anna", nil)
	require.NoError(t, err)
	require.NotNil(t, info.ID)
	assert.Equal(t, uint32(1), *info.ID)
	assert.True(t, info.IsOnline)
	assert.NotZero(t, code)
	require.NotNil(t, info.Personalization)

	info2, code2, err := r.Add("bruno", nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), *info2.ID)
	assert.NotEqual(t, code, code2)
}

func TestRegistryAddNameCollision(t *testing.T) {
	r := NewRegistry(5)
	_, _, err := r.Add("anna", nil)
	require.NoError(t, err)

	_, _, err = r.Add("ANNA", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "già in uso")
}

func TestRegistryAddTableFull(t *testing.T) {
	r := NewRegistry(2)
	_, _, err := r.Add("anna", nil)
	require.NoError(t, err)
	_, _, err = r.Add("bruno", nil)
	require.NoError(t, err)

	_, _, err = r.Add("carla", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pieno")
}

func TestRegistryCreateAdmin(t *testing.T) {
	r := NewRegistry(5)
	code := r.CreateAdmin("admin")
	assert.NotZero(t, code)

	info, ok := r.Get(AdminID)
	require.True(t, ok)
	assert.Equal(t, "admin", info.Name)
	assert.False(t, info.IsOnline, "the admin starts offline until it joins over TCP")
}

func TestRegistryRejoin(t *testing.T) {
	r := NewRegistry(5)
	info, code, err := r.Add("anna", nil)
	require.NoError(t, err)
	id := *info.ID

	// Online players cannot be rejoined.
	_, err = r.Rejoin(id, code)
	require.Error(t, err)
	assert.EqualError(t, err, "riconnessione non valida")

	r.HandleDisconnect(id, false)
	require.False(t, r.IsOnline(id))

	// Wrong code, unknown ID and valid attempts all share one error text.
	_, err = r.Rejoin(id, code+1)
	assert.EqualError(t, err, "riconnessione non valida")
	_, err = r.Rejoin(99, code)
	assert.EqualError(t, err, "riconnessione non valida")

	newCode, err := r.Rejoin(id, code)
	require.NoError(t, err)
	assert.NotEqual(t, code, newCode, "access code must rotate on rejoin")
	assert.True(t, r.IsOnline(id))

	// The old code is spent.
	r.HandleDisconnect(id, false)
	_, err = r.Rejoin(id, code)
	assert.EqualError(t, err, "riconnessione non valida")
}

func TestRegistryHandleDisconnect(t *testing.T) {
	r := NewRegistry(5)
	info, _, err := r.Add("anna", nil)
	require.NoError(t, err)
	id := *info.ID

	// Temporary disconnect keeps the session for a later rejoin.
	removed := r.HandleDisconnect(id, false)
	assert.False(t, removed)
	_, ok := r.Get(id)
	assert.True(t, ok)

	// Permanent disconnect erases it.
	removed = r.HandleDisconnect(id, true)
	assert.True(t, removed)
	_, ok = r.Get(id)
	assert.False(t, ok)
}

func TestRegistryRemoveFlag(t *testing.T) {
	r := NewRegistry(5)
	info, _, err := r.Add("anna", nil)
	require.NoError(t, err)
	id := *info.ID

	r.SetRemove(id)

	// Even a temporary disconnect now erases the session.
	removed := r.HandleDisconnect(id, false)
	assert.True(t, removed)
	_, ok := r.Get(id)
	assert.False(t, ok)
}

func TestRegistryEligibleIDs(t *testing.T) {
	r := NewRegistry(5)
	r.CreateAdmin("admin") // offline, not eligible
	a, _, _ := r.Add("anna", nil)
	b, _, _ := r.Add("bruno", nil)
	c, _, _ := r.Add("carla", nil)

	assert.Equal(t, []uint32{*a.ID, *b.ID, *c.ID}, r.EligibleIDs())

	r.HandleDisconnect(*b.ID, false)
	assert.Equal(t, []uint32{*a.ID, *c.ID}, r.EligibleIDs())

	r.SetWon(*a.ID, 1)
	assert.Equal(t, []uint32{*c.ID}, r.EligibleIDs())
}

func TestRegistryResetGame(t *testing.T) {
	r := NewRegistry(5)
	info, _, _ := r.Add("anna", nil)
	id := *info.ID

	r.DrawCards(id, 7)
	r.SetWon(id, 1)
	require.Equal(t, 7, r.HandLen(id))

	r.ResetGame()
	assert.Equal(t, 0, r.HandLen(id))
	got, _ := r.Get(id)
	assert.Nil(t, got.Won)
}

func TestRegistryHandOperations(t *testing.T) {
	r := NewRegistry(5)
	info, _, _ := r.Add("anna", nil)
	id := *info.ID

	r.PutCard(id, game.NewNormal(game.Five, game.Red))
	r.PutCard(id, game.NewSpecial(game.Wild))
	require.Equal(t, 2, r.HandLen(id))

	cards := r.HandCards(id)
	require.Len(t, cards, 2)
	c, ok := r.HandCard(id, *cards[0].ID)
	require.True(t, ok)
	assert.Equal(t, game.KindNormal, c.Kind)

	assert.True(t, r.CouldPlayOn(id, game.NewNormal(game.Nine, game.Red)))

	r.RemoveCard(id, *cards[0].ID)
	assert.Equal(t, 1, r.HandLen(id))

	counts := r.HandCounts()
	assert.Equal(t, 1, counts[id])
}

func TestRegistryIDByName(t *testing.T) {
	r := NewRegistry(5)
	info, _, _ := r.Add("Anna", nil)

	id, ok := r.IDByName("anna")
	require.True(t, ok)
	assert.Equal(t, *info.ID, id)

	_, ok = r.IDByName("nessuno")
	assert.False(t, ok)
}
