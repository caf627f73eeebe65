package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tavolo-project/tavolo/internal/config"
	"github.com/tavolo-project/tavolo/internal/events"
	"github.com/tavolo-project/tavolo/internal/protocol"
	"github.com/tavolo-project/tavolo/internal/util"
)

// Server ties the listener, dispatcher, game master and registry together
// and owns their lifecycles.
type Server struct {
	cfg    *config.Config
	bus    *events.EventBus
	logger zerolog.Logger

	registry   *Registry
	clients    *ClientTable
	dispatcher *Dispatcher
	master     *GameMaster
	listener   *Listener

	wg        sync.WaitGroup
	adminCode int64

	// sessionsCtx parents every session handler. It is cancelled only
	// after the dispatcher has flushed its farewell broadcast, so stopping
	// the accept loop never closes a socket mid-delivery.
	sessionsCtx    context.Context
	cancelListener context.CancelFunc
	cancelWorkers  context.CancelFunc
	cancelSessions context.CancelFunc
}

// New builds the server and registers the admin session offline. The
// operator joins as the admin using the access code from AdminAccessCode.
func New(cfg *config.Config, bus *events.EventBus) *Server {
	srvCfg := cfg.GetServer()

	s := &Server{
		cfg:      cfg,
		bus:      bus,
		logger:   util.ComponentLogger("server"),
		registry: NewRegistry(srvCfg.MaxPlayers),
		clients:  NewClientTable(),
	}
	s.dispatcher = NewDispatcher(s.clients)
	s.master = NewGameMaster(s.registry, s.dispatcher, bus, srvCfg.StartingCards)
	s.listener = NewListener(s)
	s.adminCode = s.registry.CreateAdmin(srvCfg.AdminName)
	return s
}

// AdminAccessCode returns the access code needed to join as the admin.
func (s *Server) AdminAccessCode() int64 {
	return s.adminCode
}

// Start launches the dispatcher, the game master and the listener.
func (s *Server) Start(ctx context.Context) error {
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	listenerCtx, cancelListener := context.WithCancel(ctx)
	s.sessionsCtx, s.cancelSessions = context.WithCancel(context.Background())
	s.cancelWorkers = cancelWorkers
	s.cancelListener = cancelListener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatcher.Run(workerCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.master.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		errCh <- s.listener.Run(listenerCtx)
	}()

	// Give the listener a moment to fail fast on a bind error.
	select {
	case err := <-errCh:
		if err != nil {
			cancelWorkers()
			return fmt.Errorf("listener failed: %w", err)
		}
	case <-time.After(200 * time.Millisecond):
	}

	s.logger.Info().Msg("server started")
	return nil
}

// Stop shuts the server down in order: stop accepting connections, let the
// dispatcher deliver a final connection-end broadcast and flush (bounded),
// stop the game master, cancel every remaining session, close all sockets.
func (s *Server) Stop() {
	s.logger.Info().Msg("server stopping")
	timeout := time.Duration(s.cfg.GetServer().ShutdownTimeoutSec) * time.Second

	if s.cancelListener != nil {
		s.cancelListener()
	}

	s.dispatcher.Shutdown("Il server sta per spegnersi.")
	select {
	case <-s.dispatcher.Done():
	case <-time.After(timeout):
		s.logger.Warn().Msg("dispatcher flush timed out")
	}

	s.master.Shutdown()
	if s.cancelWorkers != nil {
		s.cancelWorkers()
	}

	if s.cancelSessions != nil {
		s.cancelSessions()
	}
	s.registry.CancelAll()
	s.clients.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("server stopped")
	case <-time.After(timeout):
		s.logger.Warn().Msg("shutdown timed out waiting for sessions")
	}
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ConnectedSince returns when the player's current socket was established.
func (s *Server) ConnectedSince(id uint32) (time.Time, bool) {
	conn, ok := s.clients.Get(id)
	if !ok {
		return time.Time{}, false
	}
	return conn.ConnectedAt(), true
}

// Roster returns the current player roster.
func (s *Server) Roster() []protocol.PlayerInfo {
	return s.registry.Roster()
}

// TableSnapshot returns the last published game state.
func (s *Server) TableSnapshot() TableSnapshot {
	return s.master.Snapshot()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// Say broadcasts a chat line from the server to every connected client.
func (s *Server) Say(ctx context.Context, text string) {
	s.dispatcher.Broadcast(&protocol.ChatMessage{Message: text})
	s.bus.Emit(ctx, events.Event{
		Type:    events.EventChatLine,
		Source:  "server",
		Payload: events.ChatLinePayload{From: "server", Text: text},
	})
}

// KickByName disconnects the named player from the operator console.
// With remove set the session is erased so no rejoin is possible.
func (s *Server) KickByName(ctx context.Context, name string, remove bool) error {
	id, ok := s.registry.IDByName(name)
	if !ok {
		return fmt.Errorf("player %q not found", name)
	}
	if id == AdminID {
		return fmt.Errorf("cannot kick the admin")
	}

	if !s.registry.IsOnline(id) {
		if !remove {
			return fmt.Errorf("player %q is offline", name)
		}
		info, _ := s.registry.Get(id)
		s.registry.Remove(id)
		s.dispatcher.Broadcast(protocol.RosterUpdate(s.registry.Roster()))
		s.bus.Emit(ctx, events.Event{
			Type:    events.EventPlayerKicked,
			Source:  "server",
			Payload: events.PlayerPayload{ID: id, Name: info.Name},
		})
		return nil
	}

	if remove {
		s.registry.SetRemove(id)
	}
	s.dispatcher.Unicast(id, &protocol.ConnectionEnd{
		Final:   remove,
		Message: "Sei stato espulso dal tavolo.",
	})
	s.registry.CancelSession(id)

	info, _ := s.registry.Get(id)
	s.bus.Emit(ctx, events.Event{
		Type:    events.EventPlayerKicked,
		Source:  "server",
		Payload: events.PlayerPayload{ID: id, Name: info.Name},
	})
	return nil
}

// StartGame triggers a game start from the operator console.
func (s *Server) StartGame() {
	s.master.Start()
}

// StopGame ends the running game from the operator console.
func (s *Server) StopGame() {
	s.master.Stop()
}

// GameStarted reports whether a game is currently running.
func (s *Server) GameStarted() bool {
	return s.master.Started()
}
