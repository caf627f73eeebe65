package server

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tavolo-project/tavolo/internal/events"
	"github.com/tavolo-project/tavolo/internal/game"
	"github.com/tavolo-project/tavolo/internal/protocol"
	"github.com/tavolo-project/tavolo/internal/util"
)

// Phase of the game master loop.
type Phase string

const (
	PhaseWaiting  Phase = "waiting_to_start"
	PhaseActive   Phase = "turn_active"
	PhaseFinished Phase = "finished"
)

// masterItemKind tags the items flowing into the game master queue.
type masterItemKind uint8

const (
	itemAction masterItemKind = iota
	itemSaidUno
	itemOffline
	itemStart
	itemStop
)

type masterItem struct {
	kind     masterItemKind
	playerID uint32
	action   *protocol.ActionUpdate
}

// challengeState is the open wild-draw-four window: the player accused of
// bluffing and the table card before the wild-draw-four was placed.
type challengeState struct {
	accusedID  uint32
	priorTable game.Card
}

// tableState is the authoritative game state, owned solely by the game
// master loop.
type tableState struct {
	table       game.Card
	clockwise   bool
	turnID      uint32
	pendingDraw int
	challenge   *challengeState
	saidUno     bool
	nextWinRank int
	finished    bool
}

// TableSnapshot is a read-only copy of the table state exported for the
// monitor API and the operator console.
type TableSnapshot struct {
	Phase       Phase  `json:"phase"`
	TurnID      uint32 `json:"turn_id,omitempty"`
	TurnName    string `json:"turn_name,omitempty"`
	TableCard   string `json:"table_card,omitempty"`
	Clockwise   bool   `json:"clockwise"`
	PendingDraw int    `json:"pending_draw"`
}

// GameMaster is the single-consumer actor owning the turn state machine.
// An outer supervisor loop constructs a fresh game per start signal, so a
// finished game returns the table to the waiting phase.
type GameMaster struct {
	queue    *Queue[masterItem]
	registry *Registry
	out      *Dispatcher
	bus      *events.EventBus
	logger   zerolog.Logger

	startingCards int
	started       atomic.Bool
	snapshot      atomic.Value // TableSnapshot
}

// NewGameMaster creates the game master actor.
func NewGameMaster(registry *Registry, out *Dispatcher, bus *events.EventBus, startingCards int) *GameMaster {
	gm := &GameMaster{
		queue:         NewQueue[masterItem](),
		registry:      registry,
		out:           out,
		bus:           bus,
		logger:        util.ComponentLogger("game_master"),
		startingCards: startingCards,
	}
	gm.snapshot.Store(TableSnapshot{Phase: PhaseWaiting})
	return gm
}

// Started reports whether a game is currently running.
func (gm *GameMaster) Started() bool {
	return gm.started.Load()
}

// Snapshot returns a copy of the last published table state.
func (gm *GameMaster) Snapshot() TableSnapshot {
	return gm.snapshot.Load().(TableSnapshot)
}

// SubmitAction enqueues a game action from a player.
func (gm *GameMaster) SubmitAction(playerID uint32, action *protocol.ActionUpdate) {
	gm.queue.Push(masterItem{kind: itemAction, playerID: playerID, action: action})
}

// SaidUno enqueues a player's last-card declaration.
func (gm *GameMaster) SaidUno(playerID uint32) {
	gm.queue.Push(masterItem{kind: itemSaidUno, playerID: playerID})
}

// PlayerOffline signals that a player disconnected or left, so its turn is
// skipped if active.
func (gm *GameMaster) PlayerOffline(playerID uint32) {
	gm.queue.Push(masterItem{kind: itemOffline, playerID: playerID})
}

// Start signals the waiting game master to begin a game.
func (gm *GameMaster) Start() {
	gm.queue.Push(masterItem{kind: itemStart})
}

// Stop signals the active game to end early.
func (gm *GameMaster) Stop() {
	gm.queue.Push(masterItem{kind: itemStop})
}

// Run is the supervisor loop: wait for a start signal, host one game, reset
// the table, repeat. Cancellation during a game is turned into a clean
// game-end broadcast instead of propagating further.
func (gm *GameMaster) Run(ctx context.Context) {
	defer gm.queue.Abort()
	gm.logger.Info().Msg("game master started")
	for {
		if !gm.waitForStart(ctx) {
			gm.logger.Info().Msg("game master stopping")
			return
		}
		gm.runGame(ctx)

		select {
		case <-ctx.Done():
			gm.logger.Info().Msg("game master stopping")
			return
		default:
		}
	}
}

// waitForStart drains the queue until a valid start signal arrives.
// Game actions submitted while no game is running are rejected.
func (gm *GameMaster) waitForStart(ctx context.Context) bool {
	gm.snapshot.Store(TableSnapshot{Phase: PhaseWaiting})

	for {
		item, ok := gm.queue.Pop(ctx)
		if !ok {
			return false
		}

		switch item.kind {
		case itemStart:
			if gm.registry.OnlineCount() < 2 {
				gm.out.Unicast(AdminID, protocol.Announce("Servono almeno 2 giocatori per iniziare."))
				continue
			}
			return true
		case itemAction:
			gm.out.Unicast(item.playerID, protocol.Notice(protocol.SeverityError, protocol.NoticeNotYourTurn))
		case itemStop, itemSaidUno, itemOffline:
			// Nothing to do outside a game.
		}
	}
}

// runGame hosts one full game: deal, iterate turns until finished or
// stopped, publish standings and reset the table.
func (gm *GameMaster) runGame(ctx context.Context) {
	gm.started.Store(true)
	defer gm.started.Store(false)

	eligible := gm.registry.EligibleIDs()
	if len(eligible) < 2 {
		gm.started.Store(false)
		gm.out.Unicast(AdminID, protocol.Announce("Servono almeno 2 giocatori per iniziare."))
		return
	}
	for _, id := range eligible {
		gm.registry.DrawCards(id, gm.startingCards)
	}

	st := &tableState{
		table:       game.RandomNormal(),
		clockwise:   true,
		turnID:      eligible[0],
		nextWinRank: 1,
	}

	gm.logger.Info().Int("players", len(eligible)).Msg("game started")
	gm.out.Broadcast(protocol.Announce("Partita avviata!"))
	gm.bus.Emit(ctx, events.Event{
		Type:    events.EventGameStarted,
		Source:  "game_master",
		Payload: events.GameStartedPayload{Players: len(eligible)},
	})

	for !st.finished {
		gm.publishState(st)

		item, ok := gm.queue.Pop(ctx)
		if !ok {
			// Cancellation is the normal shutdown path: end cleanly.
			break
		}

		switch item.kind {
		case itemAction:
			gm.handleAction(st, item.playerID, item.action)
		case itemSaidUno:
			if item.playerID == st.turnID {
				st.saidUno = true
				if info, ok := gm.registry.Get(item.playerID); ok {
					gm.out.Broadcast(protocol.Announce(fmt.Sprintf("%s ha dichiarato l'ultima carta!", info.Name)))
				}
			}
		case itemOffline:
			gm.playerOffline(st, item.playerID)
		case itemStop:
			st.finished = true
		case itemStart:
			// Already running.
		}
	}

	gm.finishGame(ctx, st)
}

// publishState broadcasts the public table state and sends the current
// player its exact hand. The broadcast strictly precedes the next blocking
// wait, so clients never observe a turn change before the state backing it.
func (gm *GameMaster) publishState(st *tableState) {
	counts := gm.registry.HandCounts()
	gm.out.Broadcast(protocol.TableUpdate(st.turnID, st.table, st.clockwise, counts))
	gm.out.Unicast(st.turnID, protocol.HandUpdate(gm.registry.HandCards(st.turnID)))

	snap := TableSnapshot{
		Phase:       PhaseActive,
		TurnID:      st.turnID,
		TableCard:   st.table.String(),
		Clockwise:   st.clockwise,
		PendingDraw: st.pendingDraw,
	}
	if info, ok := gm.registry.Get(st.turnID); ok {
		snap.TurnName = info.Name
	}
	gm.snapshot.Store(snap)
}

// handleAction validates and applies one game action.
func (gm *GameMaster) handleAction(st *tableState, playerID uint32, action *protocol.ActionUpdate) {
	if playerID != st.turnID {
		gm.out.Unicast(playerID, protocol.Notice(protocol.SeverityError, protocol.NoticeNotYourTurn))
		return
	}
	if action == nil {
		return
	}

	switch {
	case action.CardID != nil:
		gm.playCard(st, playerID, *action.CardID, action.CardColor)
	case action.Action != nil && *action.Action == protocol.ActionDraw:
		gm.draw(st, playerID)
	case action.Action != nil && *action.Action == protocol.ActionCallBluff:
		gm.callBluff(st, playerID)
	default:
		gm.out.Unicast(playerID, protocol.Notice(protocol.SeverityError, protocol.NoticeInvalidCard))
	}
}

// playCard applies a played-card action from the current player.
func (gm *GameMaster) playCard(st *tableState, playerID, cardID uint32, chosenColor *game.Color) {
	if st.challenge != nil {
		gm.out.Unicast(playerID, protocol.Notice(protocol.SeverityError, protocol.NoticeMustDrawOrCallBluff))
		return
	}

	card, ok := gm.registry.HandCard(playerID, cardID)
	if !ok {
		gm.out.Unicast(playerID, protocol.Notice(protocol.SeverityError, protocol.NoticeInvalidCard))
		return
	}

	// A pending draw chain must be extended with another draw-two or it
	// collapses on the player: the chain is applied and the turn advances
	// without consuming the played card.
	if st.pendingDraw > 0 && !isDrawTwo(card) {
		gm.applyPendingDraw(st, playerID)
		gm.advanceTurn(st, 1)
		return
	}

	if !card.PlayableOn(st.table) {
		gm.out.Unicast(playerID, protocol.Notice(protocol.SeverityError, protocol.NoticeInvalidCard))
		return
	}
	if card.IsWild() && (chosenColor == nil || !chosenColor.Valid()) {
		gm.out.Unicast(playerID, protocol.Notice(protocol.SeverityError, protocol.NoticeInvalidCard))
		return
	}

	gm.registry.RemoveCard(playerID, cardID)

	prior := st.table
	placed := card
	placed.ID = nil
	if card.IsWild() {
		placed = placed.WithColor(*chosenColor)
	}
	st.table = placed

	skip := gm.applyCardEffects(st, placed, playerID, prior)

	if gm.registry.HandLen(playerID) == 0 {
		gm.handleEmptyHand(st, playerID)
		if st.finished {
			return
		}
	}

	steps := 1
	if skip {
		steps = 2
	}
	gm.advanceTurn(st, steps)
}

// applyCardEffects mutates the table state for the placed card's special
// effect and reports whether the following player is skipped.
func (gm *GameMaster) applyCardEffects(st *tableState, placed game.Card, playerID uint32, prior game.Card) bool {
	switch placed.Kind {
	case game.KindNormal:
		switch *placed.Rank {
		case game.Reverse:
			st.clockwise = !st.clockwise
		case game.Skip:
			return true
		case game.DrawTwo:
			st.pendingDraw += 2
		}
	case game.KindSpecial:
		if *placed.Special == game.WildDrawFour {
			st.challenge = &challengeState{accusedID: playerID, priorTable: prior}
		}
	}
	return false
}

// handleEmptyHand resolves a play that emptied the player's hand: a win
// only if the last-card declaration was made, otherwise a 2-card penalty.
func (gm *GameMaster) handleEmptyHand(st *tableState, playerID uint32) {
	info, _ := gm.registry.Get(playerID)

	if !st.saidUno {
		gm.registry.DrawCards(playerID, 2)
		gm.out.Broadcast(protocol.Announce(fmt.Sprintf("%s non ha dichiarato l'ultima carta! Pesca 2 carte.", info.Name)))
		return
	}

	gm.registry.SetWon(playerID, st.nextWinRank)
	st.nextWinRank++
	gm.out.Broadcast(protocol.Announce(fmt.Sprintf("%s ha vinto!", info.Name)))
	gm.logger.Info().Uint32("player_id", playerID).Str("name", info.Name).Msg("player won")

	if len(gm.registry.EligibleIDs()) < 2 {
		st.finished = true
	}
}

// draw applies the draw action of the current player. Every draw ends the
// turn.
func (gm *GameMaster) draw(st *tableState, playerID uint32) {
	// Drawing inside a challenge window accepts the accusation.
	if st.challenge != nil {
		gm.registry.DrawCards(playerID, 4)
		st.challenge = nil
		gm.advanceTurn(st, 1)
		return
	}

	if st.pendingDraw > 0 {
		gm.applyPendingDraw(st, playerID)
		gm.advanceTurn(st, 1)
		return
	}

	drawn := game.Random()

	// A drawn normal card compatible with the table is played on the spot;
	// wilds always go to the hand.
	if drawn.Kind == game.KindNormal && drawn.PlayableOn(st.table) {
		prior := st.table
		st.table = drawn
		skip := gm.applyCardEffects(st, drawn, playerID, prior)
		if info, ok := gm.registry.Get(playerID); ok {
			gm.out.Broadcast(protocol.Announce(fmt.Sprintf("%s pesca e gioca %s.", info.Name, drawn.String())))
		}
		steps := 1
		if skip {
			steps = 2
		}
		gm.advanceTurn(st, steps)
		return
	}

	gm.registry.PutCard(playerID, drawn)
	gm.advanceTurn(st, 1)
}

// callBluff resolves an open wild-draw-four challenge. The accusation holds
// exactly when the accused hand has a card legal against the pre-challenge
// table card.
func (gm *GameMaster) callBluff(st *tableState, playerID uint32) {
	if st.challenge == nil {
		gm.out.Unicast(playerID, protocol.Notice(protocol.SeverityError, protocol.NoticeCannotCallBluff))
		return
	}

	ch := st.challenge
	st.challenge = nil

	accused, _ := gm.registry.Get(ch.accusedID)
	challenger, _ := gm.registry.Get(playerID)

	if gm.registry.CouldPlayOn(ch.accusedID, ch.priorTable) {
		gm.registry.DrawCards(ch.accusedID, 4)
		gm.out.Broadcast(protocol.Announce(fmt.Sprintf("Bluff scoperto! %s pesca 4 carte.", accused.Name)))
	} else {
		gm.registry.DrawCards(playerID, 6)
		gm.out.Broadcast(protocol.Announce(fmt.Sprintf("Nessun bluff: %s pesca 6 carte.", challenger.Name)))
	}

	gm.advanceTurn(st, 1)
}

// playerOffline handles a departure during the game. A disconnecting
// current player settles what its turn owed before the rotation moves on:
// an open challenge costs 4 cards, a pending draw chain its accumulated
// amount, a plain skip one card. The debt never carries over to the next
// player.
func (gm *GameMaster) playerOffline(st *tableState, playerID uint32) {
	if playerID == st.turnID {
		switch {
		case st.challenge != nil:
			st.challenge = nil
			gm.registry.DrawCards(playerID, 4)
		case st.pendingDraw > 0:
			gm.applyPendingDraw(st, playerID)
		default:
			gm.registry.DrawCards(playerID, 1)
		}
		gm.advanceTurn(st, 1)
		return
	}
	if len(gm.registry.EligibleIDs()) < 2 {
		st.finished = true
	}
}

// applyPendingDraw forces the accumulated draw chain onto the player and
// resets it.
func (gm *GameMaster) applyPendingDraw(st *tableState, playerID uint32) {
	n := st.pendingDraw
	st.pendingDraw = 0
	gm.registry.DrawCards(playerID, n)
	if info, ok := gm.registry.Get(playerID); ok {
		gm.out.Broadcast(protocol.Announce(fmt.Sprintf("%s pesca %d carte.", info.Name, n)))
	}
}

// advanceTurn moves the turn forward the given number of steps in the
// current direction, clearing the last-card declaration. Fewer than two
// eligible players ends the game.
func (gm *GameMaster) advanceTurn(st *tableState, steps int) {
	st.saidUno = false

	for i := 0; i < steps; i++ {
		eligible := gm.registry.EligibleIDs()
		if len(eligible) < 2 {
			st.finished = true
			return
		}
		st.turnID = nextEligible(eligible, st.turnID, st.clockwise)
	}
}

// nextEligible returns the next ID in rotation: the smallest ID strictly
// greater than cur going clockwise, the largest strictly lesser going
// counter-clockwise, wrapping around the sorted set. The slice must be
// sorted ascending and non-empty.
func nextEligible(ids []uint32, cur uint32, clockwise bool) uint32 {
	if clockwise {
		for _, id := range ids {
			if id > cur {
				return id
			}
		}
		return ids[0]
	}
	for i := len(ids) - 1; i >= 0; i-- {
		if ids[i] < cur {
			return ids[i]
		}
	}
	return ids[len(ids)-1]
}

// finishGame publishes standings, announces the end and resets the table.
func (gm *GameMaster) finishGame(ctx context.Context, st *tableState) {
	gm.snapshot.Store(TableSnapshot{Phase: PhaseFinished})

	standings := gm.standings()
	gm.out.Broadcast(&protocol.GameEnd{Standings: standings})
	gm.out.Broadcast(protocol.Announce("Il gioco è terminato!"))

	names := make([]string, len(standings))
	for i, s := range standings {
		names[i] = s.Name
	}
	gm.bus.Emit(ctx, events.Event{
		Type:    events.EventGameEnded,
		Source:  "game_master",
		Payload: events.GameEndedPayload{Standings: names},
	})

	gm.registry.ResetGame()
	gm.logger.Info().Msg("game finished, table reset")
}

// standings builds the finishing order: ranked winners first, then the
// remaining players ordered by ascending hand size.
func (gm *GameMaster) standings() []protocol.Standing {
	roster := gm.registry.Roster()
	counts := gm.registry.HandCounts()

	var winners, rest []protocol.PlayerInfo
	for _, p := range roster {
		if p.Won != nil {
			winners = append(winners, p)
		} else {
			rest = append(rest, p)
		}
	}
	sort.Slice(winners, func(i, j int) bool { return *winners[i].Won < *winners[j].Won })
	sort.Slice(rest, func(i, j int) bool {
		ci, cj := counts[*rest[i].ID], counts[*rest[j].ID]
		if ci != cj {
			return ci < cj
		}
		return *rest[i].ID < *rest[j].ID
	})

	out := make([]protocol.Standing, 0, len(roster))
	rank := 1
	for _, p := range winners {
		out = append(out, protocol.Standing{Rank: rank, Name: p.Name})
		rank++
	}
	for _, p := range rest {
		out = append(out, protocol.Standing{Rank: rank, Name: p.Name})
		rank++
	}
	return out
}

// isDrawTwo reports whether the card is a draw-two.
func isDrawTwo(c game.Card) bool {
	return c.Kind == game.KindNormal && *c.Rank == game.DrawTwo
}

// Shutdown stops the game master queue.
func (gm *GameMaster) Shutdown() {
	gm.queue.Close()
}
