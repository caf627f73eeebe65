package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavolo-project/tavolo/internal/game"
)

func TestWriteReadSignal(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSignal(&buf, TypeClientEnd))
	assert.Equal(t, 2, buf.Len())

	got, err := ReadType(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeClientEnd, got)
}

func TestWriteReadMessageRoundTrip(t *testing.T) {
	id := uint32(3)
	code := int64(987654321)
	won := 1
	color := game.Blue
	table := game.NewNormal(game.Five, game.Red)
	draw := ActionDraw

	tests := []struct {
		name string
		msg  Message
	}{
		{"join new", NewJoin(PlayerInfo{Name: "anna"})},
		{"join rejoin", NewRejoin(id, code)},
		{"join status ok", JoinOK(PlayerInfo{ID: &id, Name: "anna", IsOnline: true}, code)},
		{"join status rejoin", RejoinOK(code)},
		{"join status failed", JoinFailed("il tavolo è pieno")},
		{"chat", &ChatMessage{FromID: &id, Message: "ciao a tutti"}},
		{"game message notice", Notice(SeverityError, NoticeNotYourTurn)},
		{"game message announce", Announce("Partita avviata!")},
		{"players roster", RosterUpdate([]PlayerInfo{{ID: &id, Name: "anna", Won: &won}})},
		{"players online delta", OnlineUpdate(id, false)},
		{"turn table", TableUpdate(id, table, true, map[uint32]int{1: 7, 2: 3})},
		{"turn hand", HandUpdate([]game.Card{game.NewNormal(game.Two, game.Green).WithID(0)})},
		{"turn hand empty", HandUpdate(nil)},
		{"action play card", PlayCard(9, &color)},
		{"action symbolic", SymbolicAction(draw)},
		{"game end", &GameEnd{Standings: []Standing{{Rank: 1, Name: "anna"}}}},
		{"connection end", &ConnectionEnd{Final: true, Message: "Sei stato espulso dal tavolo."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteMessage(&buf, tt.msg))

			typ, err := ReadType(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Type(), typ)

			got, err := ReadMessage(&buf, typ)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
			assert.Zero(t, buf.Len(), "stream must be fully consumed")
		})
	}
}

func TestWriteMessageOversized(t *testing.T) {
	var buf bytes.Buffer
	msg := &ChatMessage{Message: strings.Repeat("a", MaxPayloadSize+1)}

	err := WriteMessage(&buf, msg)
	require.Error(t, err)
	assert.Equal(t, ErrOversized, KindOf(err))
	// Nothing may reach the stream when the size check fails.
	assert.Zero(t, buf.Len())
}

func TestReadPayloadTruncated(t *testing.T) {
	// Length prefix declares 10 bytes but only 3 follow.
	buf := bytes.NewBuffer([]byte{0x00, 0x0a, 'a', 'b', 'c'})

	_, err := ReadPayload(buf)
	require.Error(t, err)
	assert.Equal(t, ErrDecode, KindOf(err))
}

func TestDiscardPayloadKeepsStreamAligned(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Announce("ignorami")))
	require.NoError(t, WriteSignal(&buf, TypeClientEnd))

	typ, err := ReadType(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeGameMessage, typ)
	require.NoError(t, DiscardPayload(&buf))

	typ, err = ReadType(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeClientEnd, typ)
}

func TestDecodeMessageRejectsSignalTypes(t *testing.T) {
	_, err := DecodeMessage(TypeClientEnd, nil)
	require.Error(t, err)
	assert.Equal(t, ErrDecode, KindOf(err))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"anna", "anna"},
		{"an na!", "anna"},
		{"città", "citt"},
		{"abcdefghijkl", "abcdefgh"},
		{"  ", ""},
		{"A1b2C3", "A1b2C3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), "input %q", tt.in)
	}
}

func TestKindOfSeesThroughWrapping(t *testing.T) {
	base := newError(ErrOversized, "payload too large", nil)
	wrapped := fmt.Errorf("failed to write packet: %w", base)

	assert.Equal(t, ErrOversized, KindOf(wrapped))
	assert.Equal(t, ErrUnknown, KindOf(errors.New("qualcosa è andato storto")))
	assert.Equal(t, ErrUnknown, KindOf(nil))
}
