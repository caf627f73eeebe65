package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tavolo-project/tavolo/internal/events"
	"github.com/tavolo-project/tavolo/internal/protocol"
)

// unoToken declares "last card" when it opens a chat line. Declarations
// are intercepted and forwarded to the game master instead of the chat.
const unoToken = "uno!"

// sessionHandler runs the per-connection receive loop for one player. It
// decodes inbound packets, intercepts chat commands and forwards game
// actions to the game master. It never writes to the socket directly after
// the handshake; all outbound traffic goes through the dispatcher.
type sessionHandler struct {
	id     uint32
	conn   *Conn
	srv    *Server
	logger zerolog.Logger
}

func newSessionHandler(id uint32, conn *Conn, srv *Server) *sessionHandler {
	return &sessionHandler{
		id:   id,
		conn: conn,
		srv:  srv,
		logger: srv.logger.With().
			Str("component", "session").
			Uint32("player_id", id).
			Logger(),
	}
}

// run is the session receive loop. It exits on peer departure, socket
// error or cancellation; permanent reports whether the peer explicitly
// left for good.
func (s *sessionHandler) run(ctx context.Context) {
	permanent := false
	defer func() {
		s.teardown(ctx, permanent)
	}()

	// Cancellation unblocks the pending read by closing the socket.
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	for {
		t, err := s.conn.ReadType(0)
		if err != nil {
			if ctx.Err() != nil || s.conn.IsClosed() {
				s.logger.Debug().Msg("session cancelled")
			} else {
				s.logger.Warn().Err(err).Msg("read failed, closing session")
			}
			return
		}

		switch t {
		case protocol.TypeClientEnd:
			// Explicit permanent departure, no payload.
			permanent = true
			s.logger.Info().Msg("client left permanently")
			return

		case protocol.TypeConnectionEnd:
			// Temporary disconnect announced by the peer. The payload is
			// read to keep the stream consistent, then discarded.
			if _, err := s.conn.ReadMessage(t); err != nil {
				s.logger.Debug().Err(err).Msg("malformed connection-end payload")
			}
			s.logger.Info().Msg("client disconnected temporarily")
			return

		case protocol.TypeChatMessage:
			msg, err := s.conn.ReadMessage(t)
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to decode chat message")
				return
			}
			s.handleChat(ctx, msg.(*protocol.ChatMessage))

		case protocol.TypeActionUpdate:
			msg, err := s.conn.ReadMessage(t)
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to decode action")
				return
			}
			s.srv.master.SubmitAction(s.id, msg.(*protocol.ActionUpdate))

		default:
			s.logger.Warn().Int16("type", int16(t)).Msg("unexpected packet type")
			if t >= 0 {
				if err := s.conn.DiscardPayload(); err != nil {
					return
				}
			}
		}
	}
}

// teardown finalizes the session. A temporary disconnect keeps the session
// for a later rejoin; a permanent one (or a pending removal flag) erases it.
func (s *sessionHandler) teardown(ctx context.Context, permanent bool) {
	s.srv.clients.Remove(s.id)
	s.conn.Close()

	info, _ := s.srv.registry.Get(s.id)
	removed := s.srv.registry.HandleDisconnect(s.id, permanent)
	s.srv.master.PlayerOffline(s.id)

	if removed {
		s.srv.dispatcher.Broadcast(protocol.RosterUpdate(s.srv.registry.Roster()))
		s.srv.dispatcher.Broadcast(&protocol.ChatMessage{
			Message: fmt.Sprintf("%s ha lasciato il tavolo.", info.Name),
		})
		s.srv.bus.Emit(ctx, events.Event{
			Type:    events.EventPlayerLeft,
			Source:  "session",
			Payload: events.PlayerPayload{ID: s.id, Name: info.Name},
		})
		return
	}

	s.srv.dispatcher.Broadcast(protocol.OnlineUpdate(s.id, false))
	s.srv.bus.Emit(ctx, events.Event{
		Type:    events.EventPlayerOffline,
		Source:  "session",
		Payload: events.PlayerPayload{ID: s.id, Name: info.Name},
	})
}

// isUnoDeclaration reports whether the chat line declares "last card":
// the first whitespace-separated field is the token, trailing text is
// allowed.
func isUnoDeclaration(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && strings.EqualFold(fields[0], unoToken)
}

// handleChat routes one chat line: admin commands, the last-card token, or
// plain chat broadcast with the sender attached server-side.
func (s *sessionHandler) handleChat(ctx context.Context, msg *protocol.ChatMessage) {
	line := strings.TrimSpace(msg.Message)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, ".") {
		s.execCommand(ctx, line)
		return
	}

	if isUnoDeclaration(line) {
		s.srv.master.SaidUno(s.id)
		return
	}

	id := s.id
	out := &protocol.ChatMessage{FromID: &id, Message: line}
	s.srv.dispatcher.Broadcast(out)

	info, _ := s.srv.registry.Get(s.id)
	s.srv.bus.Emit(ctx, events.Event{
		Type:    events.EventChatLine,
		Source:  "session",
		Payload: events.ChatLinePayload{FromID: &id, From: info.Name, Text: line},
	})
}

// execCommand runs a dot-command. Commands are authorized for the admin
// only; outcomes and misuse are reported privately to the issuer.
func (s *sessionHandler) execCommand(ctx context.Context, line string) {
	if s.id != AdminID {
		s.reply("Solo l'amministratore può usare i comandi.")
		return
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case ".help":
		s.reply(helpText)
	case ".start":
		s.srv.master.Start()
	case ".stop":
		if !s.srv.master.Started() {
			s.reply("Nessuna partita in corso.")
			return
		}
		s.srv.master.Stop()
	case ".kick":
		if len(args) != 1 {
			s.reply("Uso: .kick <nome>")
			return
		}
		s.kick(ctx, args[0], false)
	case ".remove":
		if len(args) != 1 {
			s.reply("Uso: .remove <nome>")
			return
		}
		s.kick(ctx, args[0], true)
	default:
		s.reply(fmt.Sprintf("Comando sconosciuto: %s", cmd))
	}
}

const helpText = "Comandi disponibili:\n" +
	".help - mostra questo messaggio\n" +
	".start - avvia la partita\n" +
	".stop - termina la partita\n" +
	".kick <nome> - disconnette un giocatore (può rientrare)\n" +
	".remove <nome> - rimuove definitivamente un giocatore"

// reply sends a private chat line from the server to the issuing player.
func (s *sessionHandler) reply(text string) {
	s.srv.dispatcher.Unicast(s.id, &protocol.ChatMessage{Message: text})
}

// kick disconnects the named player; with remove set the session is erased
// so no rejoin is possible.
func (s *sessionHandler) kick(ctx context.Context, name string, remove bool) {
	targetID, ok := s.srv.registry.IDByName(name)
	if !ok {
		s.reply(fmt.Sprintf("Giocatore %q non trovato.", name))
		return
	}
	if targetID == AdminID {
		s.reply("Non puoi espellere l'amministratore.")
		return
	}

	if !s.srv.registry.IsOnline(targetID) {
		if remove {
			info, _ := s.srv.registry.Get(targetID)
			if s.srv.registry.Remove(targetID) {
				s.srv.dispatcher.Broadcast(protocol.RosterUpdate(s.srv.registry.Roster()))
				s.srv.bus.Emit(ctx, events.Event{
					Type:    events.EventPlayerKicked,
					Source:  "session",
					Payload: events.PlayerPayload{ID: targetID, Name: info.Name},
				})
			}
			return
		}
		s.reply(fmt.Sprintf("%s non è connesso.", name))
		return
	}

	if remove {
		s.srv.registry.SetRemove(targetID)
	}

	s.srv.dispatcher.Unicast(targetID, &protocol.ConnectionEnd{
		Final:   remove,
		Message: "Sei stato espulso dal tavolo.",
	})
	s.srv.registry.CancelSession(targetID)

	info, _ := s.srv.registry.Get(targetID)
	s.srv.bus.Emit(ctx, events.Event{
		Type:    events.EventPlayerKicked,
		Source:  "session",
		Payload: events.PlayerPayload{ID: targetID, Name: info.Name},
	})
}
