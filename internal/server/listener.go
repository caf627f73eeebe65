package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tavolo-project/tavolo/internal/events"
	"github.com/tavolo-project/tavolo/internal/protocol"
	"github.com/tavolo-project/tavolo/internal/util"
)

// handshakeTimeout bounds how long a fresh connection may take to present
// its join request.
const handshakeTimeout = 30 * time.Second

// Listener accepts inbound client connections, performs the join/rejoin
// handshake and spawns one session handler per accepted player.
type Listener struct {
	srv    *Server
	logger zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewListener creates the connection listener.
func NewListener(srv *Server) *Listener {
	return &Listener{
		srv:    srv,
		logger: util.ComponentLogger("listener"),
	}
}

// Run accepts connections until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	cfg := l.srv.cfg.GetServer()
	addr := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port)

	// SO_REUSEADDR allows immediate rebinding after restart.
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener on %s: %w", addr, err)
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info().Str("addr", ln.Addr().String()).Msg("listener started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("listener stopping")
				return nil
			default:
				l.logger.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		l.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("new connection")
		go l.handshake(ctx, conn)
	}
}

// handshake reads the join request and either admits the player (starting
// its session handler) or replies with a join-status error and closes the
// socket, leaving the registry untouched.
func (l *Listener) handshake(ctx context.Context, rawConn net.Conn) {
	cfg := l.srv.cfg.GetServer()
	conn := NewConn(rawConn, time.Duration(cfg.SendTimeoutSec)*time.Second)

	t, err := conn.ReadType(handshakeTimeout)
	if err != nil {
		l.logger.Debug().Err(err).Msg("handshake read failed")
		conn.Close()
		return
	}
	if t != protocol.TypeJoin {
		l.logger.Warn().Int16("type", int16(t)).Msg("expected join as first packet")
		conn.Close()
		return
	}

	msg, err := conn.ReadMessage(t)
	if err != nil {
		l.logger.Warn().Err(err).Msg("failed to decode join request")
		conn.Close()
		return
	}
	join := msg.(*protocol.Join)

	switch join.Mode {
	case protocol.JoinModeNew:
		l.admitNew(ctx, conn, join)
	case protocol.JoinModeRejoin:
		l.admitRejoin(ctx, conn, join)
	default:
		l.reject(conn, "richiesta di accesso non valida")
	}
}

// reject sends a join-status error and closes the socket.
func (l *Listener) reject(conn *Conn, reason string) {
	if err := conn.Send(protocol.JoinFailed(reason)); err != nil {
		l.logger.Debug().Err(err).Msg("failed to send join rejection")
	}
	conn.Close()
}

// admitNew handles a first join: cap, name and game-phase checks, identity
// allocation and session start.
func (l *Listener) admitNew(ctx context.Context, conn *Conn, join *protocol.Join) {
	if join.NewPlayer == nil {
		l.reject(conn, "richiesta di accesso non valida")
		return
	}

	name := protocol.SanitizeName(join.NewPlayer.Name)
	if name == "" {
		l.reject(conn, "nome non valido")
		return
	}
	if l.srv.master.Started() {
		l.reject(conn, "la partita è già iniziata")
		return
	}

	info, code, err := l.srv.registry.Add(name, join.NewPlayer.Personalization)
	if err != nil {
		l.reject(conn, err.Error())
		return
	}
	id := *info.ID

	// The join status is the only packet written outside the dispatcher:
	// the socket is not registered yet, so no write can race with it.
	if err := conn.Send(protocol.JoinOK(info, code)); err != nil {
		l.logger.Warn().Err(err).Uint32("player_id", id).Msg("failed to send join status")
		l.srv.registry.Remove(id)
		conn.Close()
		return
	}

	l.startSession(id, conn)

	l.srv.dispatcher.Broadcast(protocol.RosterUpdate(l.srv.registry.Roster()))
	motd := l.srv.cfg.GetServer().Motd
	if motd != "" {
		l.srv.dispatcher.Unicast(id, &protocol.ChatMessage{Message: motd})
	}
	l.srv.dispatcher.Broadcast(&protocol.ChatMessage{
		Message: fmt.Sprintf("%s si è unito al tavolo!", name),
	})

	l.srv.bus.Emit(ctx, events.Event{
		Type:    events.EventPlayerJoined,
		Source:  "listener",
		Payload: events.PlayerPayload{ID: id, Name: name},
	})
}

// admitRejoin handles a reconnection with a previously issued identity.
func (l *Listener) admitRejoin(ctx context.Context, conn *Conn, join *protocol.Join) {
	if join.ID == nil || join.AccessCode == nil {
		l.reject(conn, "riconnessione non valida")
		return
	}
	id := *join.ID

	newCode, err := l.srv.registry.Rejoin(id, *join.AccessCode)
	if err != nil {
		l.reject(conn, err.Error())
		return
	}

	if err := conn.Send(protocol.RejoinOK(newCode)); err != nil {
		l.logger.Warn().Err(err).Uint32("player_id", id).Msg("failed to send rejoin status")
		l.srv.registry.HandleDisconnect(id, false)
		conn.Close()
		return
	}

	l.startSession(id, conn)

	l.srv.dispatcher.Broadcast(protocol.OnlineUpdate(id, true))
	l.srv.dispatcher.Unicast(id, protocol.RosterUpdate(l.srv.registry.Roster()))
	if id != AdminID || l.srv.master.Started() {
		l.srv.dispatcher.Unicast(id, protocol.HandUpdate(l.srv.registry.HandCards(id)))
	}

	info, _ := l.srv.registry.Get(id)
	l.srv.bus.Emit(ctx, events.Event{
		Type:    events.EventPlayerRejoined,
		Source:  "listener",
		Payload: events.PlayerPayload{ID: id, Name: info.Name},
	})
}

// startSession registers the socket and spawns the session handler with a
// fresh cancellation handle. Sessions are parented to the server's session
// context, not the accept loop's: stopping the listener must not tear down
// connections that are still owed the shutdown farewell.
func (l *Listener) startSession(id uint32, conn *Conn) {
	parent := l.srv.sessionsCtx
	if parent == nil {
		parent = context.Background()
	}
	sctx, cancel := context.WithCancel(parent)
	l.srv.clients.Put(id, conn)
	l.srv.registry.SetCancel(id, cancel)

	handler := newSessionHandler(id, conn, l.srv)
	l.srv.wg.Add(1)
	go func() {
		defer l.srv.wg.Done()
		handler.run(sctx)
	}()
}

// Addr returns the bound listen address, or nil before the listener is up.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Stop closes the accept socket.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
