package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavolo-project/tavolo/internal/events"
	"github.com/tavolo-project/tavolo/internal/game"
	"github.com/tavolo-project/tavolo/internal/protocol"
)

func newTestMaster(t *testing.T, names ...string) (*GameMaster, []uint32) {
	t.Helper()
	r := NewRegistry(10)
	ids := make([]uint32, 0, len(names))
	for _, n := range names {
		info, _, err := r.Add(n, nil)
		require.NoError(t, err)
		ids = append(ids, *info.ID)
	}
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	gm := NewGameMaster(r, NewDispatcher(NewClientTable()), bus, 7)
	t.Cleanup(gm.Shutdown)
	return gm, ids
}

// giveCard puts a specific card in the player's hand and returns its hand ID.
func giveCard(t *testing.T, gm *GameMaster, playerID uint32, c game.Card) uint32 {
	t.Helper()
	gm.registry.PutCard(playerID, c)
	cards := gm.registry.HandCards(playerID)
	return *cards[len(cards)-1].ID
}

func TestNextEligible(t *testing.T) {
	ids := []uint32{1, 3, 5, 8}

	tests := []struct {
		name      string
		cur       uint32
		clockwise bool
		want      uint32
	}{
		{"clockwise step", 1, true, 3},
		{"clockwise gap", 3, true, 5},
		{"clockwise wrap", 8, true, 1},
		{"counter step", 5, false, 3},
		{"counter wrap", 1, false, 8},
		{"cur no longer eligible clockwise", 4, true, 5},
		{"cur no longer eligible counter", 4, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextEligible(ids, tt.cur, tt.clockwise))
		})
	}
}

func TestNextEligibleDirectionsAreInverse(t *testing.T) {
	ids := []uint32{0, 2, 3, 7, 11}
	for _, cur := range ids {
		forward := nextEligible(ids, cur, true)
		assert.Equal(t, cur, nextEligible(ids, forward, false), "from %d", cur)
		backward := nextEligible(ids, cur, false)
		assert.Equal(t, cur, nextEligible(ids, backward, true), "from %d", cur)
	}
}

func TestHandleActionWrongTurn(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	cardID := giveCard(t, gm, ids[1], game.NewNormal(game.Two, game.Red))
	gm.handleAction(st, ids[1], protocol.PlayCard(cardID, nil))

	assert.Equal(t, ids[0], st.turnID, "acting out of turn must not change state")
	assert.Equal(t, 1, gm.registry.HandLen(ids[1]))
}

func TestPlayCardColorMatch(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	// Keep anna out of the empty-hand path.
	giveCard(t, gm, ids[0], game.NewNormal(game.Nine, game.Blue))
	cardID := giveCard(t, gm, ids[0], game.NewNormal(game.Two, game.Red))

	gm.playCard(st, ids[0], cardID, nil)

	assert.Equal(t, ids[1], st.turnID)
	assert.Equal(t, 1, gm.registry.HandLen(ids[0]))
	require.NotNil(t, st.table.Rank)
	assert.Equal(t, game.Two, *st.table.Rank)
	assert.Nil(t, st.table.ID, "the table card carries no hand ID")
}

func TestPlayCardIllegal(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	cardID := giveCard(t, gm, ids[0], game.NewNormal(game.Two, game.Blue))
	gm.playCard(st, ids[0], cardID, nil)

	assert.Equal(t, ids[0], st.turnID, "illegal play keeps the turn")
	assert.Equal(t, 1, gm.registry.HandLen(ids[0]), "the card stays in hand")
	assert.Equal(t, game.Five, *st.table.Rank)
}

func TestPlayCardUnknownID(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	gm.playCard(st, ids[0], 999, nil)
	assert.Equal(t, ids[0], st.turnID)
}

func TestReverseFlipsDirection(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno", "carla")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	giveCard(t, gm, ids[0], game.NewNormal(game.Nine, game.Blue))
	cardID := giveCard(t, gm, ids[0], game.NewNormal(game.Reverse, game.Red))

	gm.playCard(st, ids[0], cardID, nil)

	assert.False(t, st.clockwise)
	// One step counter-clockwise from the first player wraps to the last.
	assert.Equal(t, ids[2], st.turnID)
}

func TestSkipJumpsOnePlayer(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno", "carla")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	giveCard(t, gm, ids[0], game.NewNormal(game.Nine, game.Blue))
	cardID := giveCard(t, gm, ids[0], game.NewNormal(game.Skip, game.Red))

	gm.playCard(st, ids[0], cardID, nil)

	assert.Equal(t, ids[2], st.turnID, "the next player is skipped")
}

func TestDrawTwoChainStacksAndCollapses(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno", "carla")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	giveCard(t, gm, ids[0], game.NewNormal(game.Nine, game.Blue))
	first := giveCard(t, gm, ids[0], game.NewNormal(game.DrawTwo, game.Red))
	gm.playCard(st, ids[0], first, nil)
	assert.Equal(t, 2, st.pendingDraw)
	assert.Equal(t, ids[1], st.turnID)

	// Extending with another draw-two passes the grown chain along.
	giveCard(t, gm, ids[1], game.NewNormal(game.Nine, game.Blue))
	second := giveCard(t, gm, ids[1], game.NewNormal(game.DrawTwo, game.Green))
	gm.playCard(st, ids[1], second, nil)
	assert.Equal(t, 4, st.pendingDraw)
	assert.Equal(t, ids[2], st.turnID)

	// Any other play collapses the chain: the chain is drawn, the played
	// card is not consumed and the turn moves on.
	other := giveCard(t, gm, ids[2], game.NewNormal(game.Two, game.Green))
	before := gm.registry.HandLen(ids[2])
	gm.playCard(st, ids[2], other, nil)

	assert.Zero(t, st.pendingDraw)
	assert.Equal(t, before+4, gm.registry.HandLen(ids[2]))
	_, stillHeld := gm.registry.HandCard(ids[2], other)
	assert.True(t, stillHeld)
	assert.Equal(t, ids[0], st.turnID)
}

func TestDrawResolvesPendingChain(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1, pendingDraw: 6}

	gm.draw(st, ids[0])

	assert.Zero(t, st.pendingDraw)
	assert.Equal(t, 6, gm.registry.HandLen(ids[0]))
	assert.Equal(t, ids[1], st.turnID)
}

func TestDrawEndsTurn(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	gm.draw(st, ids[0])

	// Either the drawn card was auto-played or it went to the hand; the
	// turn always moves on.
	assert.Equal(t, ids[1], st.turnID)
}

func TestWildRequiresColor(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	giveCard(t, gm, ids[0], game.NewNormal(game.Nine, game.Blue))
	cardID := giveCard(t, gm, ids[0], game.NewSpecial(game.Wild))

	gm.playCard(st, ids[0], cardID, nil)
	assert.Equal(t, ids[0], st.turnID, "a wild without a chosen color is rejected")

	blue := game.Blue
	gm.playCard(st, ids[0], cardID, &blue)
	assert.Equal(t, ids[1], st.turnID)
	require.NotNil(t, st.table.Color)
	assert.Equal(t, game.Blue, *st.table.Color)
}

func TestWildDrawFourOpensChallenge(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	prior := game.NewNormal(game.Five, game.Red)
	st := &tableState{table: prior, clockwise: true, turnID: ids[0], nextWinRank: 1}

	giveCard(t, gm, ids[0], game.NewNormal(game.Nine, game.Blue))
	cardID := giveCard(t, gm, ids[0], game.NewSpecial(game.WildDrawFour))
	green := game.Green

	gm.playCard(st, ids[0], cardID, &green)

	require.NotNil(t, st.challenge)
	assert.Equal(t, ids[0], st.challenge.accusedID)
	assert.Equal(t, prior, st.challenge.priorTable)
	assert.Equal(t, ids[1], st.turnID)

	// The victim may not play a card while the window is open.
	held := giveCard(t, gm, ids[1], game.NewNormal(game.Two, game.Green))
	gm.playCard(st, ids[1], held, nil)
	assert.Equal(t, ids[1], st.turnID)
	assert.Equal(t, 1, gm.registry.HandLen(ids[1]))

	// Drawing accepts the four cards and closes the window.
	gm.draw(st, ids[1])
	assert.Nil(t, st.challenge)
	assert.Equal(t, 5, gm.registry.HandLen(ids[1]))
	assert.Equal(t, ids[0], st.turnID)
}

func TestCallBluffGuilty(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	prior := game.NewNormal(game.Five, game.Red)
	st := &tableState{
		table:       game.NewSpecial(game.WildDrawFour).WithColor(game.Green),
		clockwise:   true,
		turnID:      ids[1],
		nextWinRank: 1,
		challenge:   &challengeState{accusedID: ids[0], priorTable: prior},
	}

	// anna held a playable red card, so the draw-four was a bluff.
	giveCard(t, gm, ids[0], game.NewNormal(game.Two, game.Red))

	gm.callBluff(st, ids[1])

	assert.Nil(t, st.challenge)
	assert.Equal(t, 5, gm.registry.HandLen(ids[0]), "the bluffer draws 4")
	assert.Equal(t, 0, gm.registry.HandLen(ids[1]))
	assert.Equal(t, ids[0], st.turnID)
}

func TestCallBluffInnocent(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	prior := game.NewNormal(game.Five, game.Red)
	st := &tableState{
		table:       game.NewSpecial(game.WildDrawFour).WithColor(game.Green),
		clockwise:   true,
		turnID:      ids[1],
		nextWinRank: 1,
		challenge:   &challengeState{accusedID: ids[0], priorTable: prior},
	}

	// Nothing in anna's hand matched the prior table card.
	giveCard(t, gm, ids[0], game.NewNormal(game.Two, game.Blue))

	gm.callBluff(st, ids[1])

	assert.Nil(t, st.challenge)
	assert.Equal(t, 1, gm.registry.HandLen(ids[0]))
	assert.Equal(t, 6, gm.registry.HandLen(ids[1]), "the wrong accusation costs 6")
	assert.Equal(t, ids[0], st.turnID)
}

func TestCallBluffWithoutChallenge(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	gm.callBluff(st, ids[0])
	assert.Equal(t, ids[0], st.turnID)
	assert.Equal(t, 0, gm.registry.HandLen(ids[0]))
}

func TestEmptyHandWithoutDeclaration(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	cardID := giveCard(t, gm, ids[0], game.NewNormal(game.Two, game.Red))
	gm.playCard(st, ids[0], cardID, nil)

	assert.Equal(t, 2, gm.registry.HandLen(ids[0]), "silent last card costs a 2-card penalty")
	info, _ := gm.registry.Get(ids[0])
	assert.Nil(t, info.Won)
	assert.False(t, st.finished)
	assert.Equal(t, ids[1], st.turnID)
}

func TestEmptyHandWithDeclaration(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1, saidUno: true}

	cardID := giveCard(t, gm, ids[0], game.NewNormal(game.Two, game.Red))
	gm.playCard(st, ids[0], cardID, nil)

	info, _ := gm.registry.Get(ids[0])
	require.NotNil(t, info.Won)
	assert.Equal(t, 1, *info.Won)
	assert.True(t, st.finished, "one eligible player left ends the game")
}

func TestAdvanceTurnClearsDeclaration(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1, saidUno: true}

	gm.advanceTurn(st, 1)
	assert.False(t, st.saidUno)
	assert.Equal(t, ids[1], st.turnID)
}

func TestOfflineCurrentPlayerAbsorbsPendingChain(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno", "carla")
	st := &tableState{table: game.NewNormal(game.DrawTwo, game.Red), clockwise: true, turnID: ids[0], pendingDraw: 4, nextWinRank: 1}

	gm.registry.HandleDisconnect(ids[0], false)
	gm.playerOffline(st, ids[0])

	assert.Equal(t, 4, gm.registry.HandLen(ids[0]), "the chain lands on the player who left")
	assert.Zero(t, st.pendingDraw, "the chain never carries over to the next player")
	assert.Equal(t, ids[1], st.turnID)
	assert.False(t, st.finished)
}

func TestOfflineCurrentPlayerAbsorbsChallenge(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno", "carla")
	prior := game.NewNormal(game.Five, game.Red)
	st := &tableState{
		table:       game.NewSpecial(game.WildDrawFour).WithColor(game.Green),
		clockwise:   true,
		turnID:      ids[1],
		challenge:   &challengeState{accusedID: ids[0], priorTable: prior},
		nextWinRank: 1,
	}

	gm.registry.HandleDisconnect(ids[1], false)
	gm.playerOffline(st, ids[1])

	assert.Nil(t, st.challenge, "the window closes with its owner")
	assert.Equal(t, 4, gm.registry.HandLen(ids[1]))
	assert.Equal(t, ids[2], st.turnID)
}

func TestOfflineCurrentPlayerDrawsOne(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno", "carla")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	gm.registry.HandleDisconnect(ids[0], false)
	gm.playerOffline(st, ids[0])

	assert.Equal(t, 1, gm.registry.HandLen(ids[0]))
	assert.Equal(t, ids[1], st.turnID)
}

func TestOfflineOtherPlayerLeavesTurnAlone(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno", "carla")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], pendingDraw: 2, nextWinRank: 1}

	gm.registry.HandleDisconnect(ids[2], false)
	gm.playerOffline(st, ids[2])

	assert.Equal(t, ids[0], st.turnID)
	assert.Equal(t, 2, st.pendingDraw)
	assert.False(t, st.finished)
}

func TestOfflineBelowTwoPlayersEndsGame(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno")
	st := &tableState{table: game.NewNormal(game.Five, game.Red), clockwise: true, turnID: ids[0], nextWinRank: 1}

	gm.registry.HandleDisconnect(ids[1], false)
	gm.playerOffline(st, ids[1])

	assert.True(t, st.finished)
}

func TestStandingsOrder(t *testing.T) {
	gm, ids := newTestMaster(t, "anna", "bruno", "carla", "dino")

	gm.registry.SetWon(ids[1], 1)
	gm.registry.SetWon(ids[0], 2)
	gm.registry.DrawCards(ids[2], 5)
	gm.registry.DrawCards(ids[3], 2)

	standings := gm.standings()
	require.Len(t, standings, 4)
	assert.Equal(t, "bruno", standings[0].Name)
	assert.Equal(t, "anna", standings[1].Name)
	assert.Equal(t, "dino", standings[2].Name, "fewer cards ranks higher among non-winners")
	assert.Equal(t, "carla", standings[3].Name)
	for i, s := range standings {
		assert.Equal(t, i+1, s.Rank)
	}
}

func TestMasterLifecycle(t *testing.T) {
	gm, _ := newTestMaster(t, "anna", "bruno")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gm.Run(ctx)

	require.Equal(t, PhaseWaiting, gm.Snapshot().Phase)

	gm.Start()
	require.Eventually(t, gm.Started, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return gm.Snapshot().Phase == PhaseActive }, 2*time.Second, 10*time.Millisecond)

	snap := gm.Snapshot()
	assert.True(t, snap.Clockwise)
	assert.NotEmpty(t, snap.TableCard)

	gm.Stop()
	require.Eventually(t, func() bool { return !gm.Started() }, 2*time.Second, 10*time.Millisecond)
	// The supervisor returns to the waiting phase for the next game.
	require.Eventually(t, func() bool { return gm.Snapshot().Phase == PhaseWaiting }, 2*time.Second, 10*time.Millisecond)
}

func TestMasterStartNeedsTwoPlayers(t *testing.T) {
	gm, _ := newTestMaster(t, "anna")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gm.Run(ctx)

	gm.Start()
	// The start signal is rejected and the table stays in the waiting phase.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, gm.Started())
	assert.Equal(t, PhaseWaiting, gm.Snapshot().Phase)
}
