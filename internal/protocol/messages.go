package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tavolo-project/tavolo/internal/game"
)

// Message is a catalog message that can travel as a packet payload.
type Message interface {
	Type() PacketType
}

// EncodeMessage serializes a catalog message to its UTF-8 JSON payload.
func EncodeMessage(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, newError(ErrSerialize, fmt.Sprintf("failed to serialize %T", m), err)
	}
	return payload, nil
}

// DecodeMessage deserializes a payload into the catalog message matching the
// given packet type. Lifecycle signal types other than TypeConnectionEnd
// never carry a payload and are rejected here.
func DecodeMessage(t PacketType, payload []byte) (Message, error) {
	var m Message
	switch t {
	case TypeJoin:
		m = &Join{}
	case TypeJoinStatus:
		m = &JoinStatus{}
	case TypeChatMessage:
		m = &ChatMessage{}
	case TypeGameMessage:
		m = &GameMessage{}
	case TypePlayersUpdate:
		m = &PlayersUpdate{}
	case TypeTurnUpdate:
		m = &TurnUpdate{}
	case TypeActionUpdate:
		m = &ActionUpdate{}
	case TypeGameEnd:
		m = &GameEnd{}
	case TypeConnectionEnd:
		m = &ConnectionEnd{}
	default:
		return nil, newError(ErrDecode, fmt.Sprintf("packet type %d does not carry a payload", t), nil)
	}
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, newError(ErrDeserialize, fmt.Sprintf("failed to deserialize payload for packet type %d", t), err)
	}
	return m, nil
}

// RGBA is a serializable color used for player cosmetics.
type RGBA struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// Personalization carries a player's cosmetic choices, rendered by clients
// and treated as opaque by the server.
type Personalization struct {
	UsernameColor   RGBA `json:"username_color"`
	BackgroundColor RGBA `json:"background_color"`
}

// DefaultPersonalization is applied when a joining client sends none.
func DefaultPersonalization() Personalization {
	return Personalization{
		UsernameColor:   RGBA{A: 255},                      // black
		BackgroundColor: RGBA{R: 255, G: 255, B: 255, A: 255}, // white
	}
}

// NameMaxChars caps sanitized display names.
const NameMaxChars = 8

var nonAlphaNum = regexp.MustCompile("[^a-zA-Z0-9]")

// SanitizeName strips non-alphanumeric characters and caps the length.
func SanitizeName(name string) string {
	name = nonAlphaNum.ReplaceAllString(name, "")
	if len(name) > NameMaxChars {
		name = name[:NameMaxChars]
	}
	return name
}

// PlayerInfo is the roster entry for one player. Won holds the finishing
// rank once the player has emptied their hand, and is nil otherwise.
type PlayerInfo struct {
	ID              *uint32          `json:"id,omitempty"`
	IsOnline        bool             `json:"is_online"`
	Won             *int             `json:"won,omitempty"`
	Name            string           `json:"name"`
	Personalization *Personalization `json:"personalization,omitempty"`
}

// JoinMode selects between a first join and a reconnection.
type JoinMode uint8

const (
	JoinModeNew JoinMode = iota
	JoinModeRejoin
)

// Join is the first packet a client sends after connecting.
type Join struct {
	Mode       JoinMode    `json:"mode"`
	NewPlayer  *PlayerInfo `json:"new_player,omitempty"`
	ID         *uint32     `json:"id,omitempty"`
	AccessCode *int64      `json:"access_code,omitempty"`
}

func (*Join) Type() PacketType { return TypeJoin }

// NewJoin builds a first-join request carrying the player's chosen identity.
func NewJoin(player PlayerInfo) *Join {
	return &Join{Mode: JoinModeNew, NewPlayer: &player}
}

// NewRejoin builds a reconnection request for a previously issued identity.
func NewRejoin(id uint32, accessCode int64) *Join {
	return &Join{Mode: JoinModeRejoin, ID: &id, AccessCode: &accessCode}
}

// JoinStatus is the server's reply to a Join. Exactly one variant is set:
// an error string, a full identity for a new join, or a rotated access code
// for a rejoin.
type JoinStatus struct {
	Player     *PlayerInfo `json:"player,omitempty"`
	AccessCode *int64      `json:"access_code,omitempty"`
	Err        string      `json:"error,omitempty"`
}

func (*JoinStatus) Type() PacketType { return TypeJoinStatus }

// JoinOK builds the success reply for a new join.
func JoinOK(player PlayerInfo, accessCode int64) *JoinStatus {
	return &JoinStatus{Player: &player, AccessCode: &accessCode}
}

// RejoinOK builds the success reply for a rejoin, carrying only the rotated
// access code.
func RejoinOK(accessCode int64) *JoinStatus {
	return &JoinStatus{AccessCode: &accessCode}
}

// JoinFailed builds the error reply.
func JoinFailed(reason string) *JoinStatus {
	return &JoinStatus{Err: reason}
}

// OK reports whether the join was accepted.
func (s *JoinStatus) OK() bool { return s.Err == "" }

// ChatMessage is a chat line. FromID is attached server-side; client-sent
// values are overwritten.
type ChatMessage struct {
	FromID  *uint32 `json:"from_id,omitempty"`
	Message string  `json:"message"`
}

func (*ChatMessage) Type() PacketType { return TypeChatMessage }

// ActionKind is a symbolic game action that references no card.
type ActionKind uint8

const (
	ActionDraw ActionKind = iota
	ActionCallBluff
)

// ActionUpdate is a game action from the current player: either a card
// played from the hand (with a mandatory color choice for wild cards) or a
// symbolic action.
type ActionUpdate struct {
	CardID    *uint32     `json:"card_id,omitempty"`
	CardColor *game.Color `json:"card_color,omitempty"`
	Action    *ActionKind `json:"action,omitempty"`
}

func (*ActionUpdate) Type() PacketType { return TypeActionUpdate }

// PlayCard builds a played-card action. chosenColor may be nil for normal
// cards and is required by the rules engine for wild cards.
func PlayCard(cardID uint32, chosenColor *game.Color) *ActionUpdate {
	return &ActionUpdate{CardID: &cardID, CardColor: chosenColor}
}

// SymbolicAction builds a draw or call-bluff action.
func SymbolicAction(kind ActionKind) *ActionUpdate {
	return &ActionUpdate{Action: &kind}
}

// TurnUpdate carries either the public table state sent to everyone, or a
// private full-hand listing sent to one player. IsTable distinguishes the
// two variants.
type TurnUpdate struct {
	PlayerTurnID *uint32        `json:"player_turn_id,omitempty"`
	TableCard    *game.Card     `json:"table_card,omitempty"`
	Clockwise    *bool          `json:"clockwise,omitempty"`
	CardCounts   map[uint32]int `json:"card_counts,omitempty"`
	Hand         []game.Card    `json:"hand"`
}

func (*TurnUpdate) Type() PacketType { return TypeTurnUpdate }

// TableUpdate builds the public variant.
func TableUpdate(turnID uint32, table game.Card, clockwise bool, counts map[uint32]int) *TurnUpdate {
	return &TurnUpdate{PlayerTurnID: &turnID, TableCard: &table, Clockwise: &clockwise, CardCounts: counts}
}

// HandUpdate builds the private variant. An empty hand still serializes a
// non-nil slice so the recipient can distinguish it from a table update.
func HandUpdate(cards []game.Card) *TurnUpdate {
	if cards == nil {
		cards = []game.Card{}
	}
	return &TurnUpdate{Hand: cards}
}

// IsTable reports whether this is the public table-state variant.
func (t *TurnUpdate) IsTable() bool { return t.TableCard != nil }

// PlayersUpdate carries either a full roster snapshot or a single player's
// online-flag delta.
type PlayersUpdate struct {
	Players  []PlayerInfo `json:"players,omitempty"`
	ID       *uint32      `json:"id,omitempty"`
	IsOnline *bool        `json:"is_online,omitempty"`
}

func (*PlayersUpdate) Type() PacketType { return TypePlayersUpdate }

// RosterUpdate builds the full-snapshot variant.
func RosterUpdate(players []PlayerInfo) *PlayersUpdate {
	return &PlayersUpdate{Players: players}
}

// OnlineUpdate builds the single-player delta variant.
func OnlineUpdate(id uint32, online bool) *PlayersUpdate {
	return &PlayersUpdate{ID: &id, IsOnline: &online}
}

// Severity of a GameMessage.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityError
)

// NoticeCode identifies a predefined notice shown to the recipient.
type NoticeCode uint8

const (
	NoticeNotYourTurn NoticeCode = iota
	NoticeInvalidCard
	NoticeMustDrawOrCallBluff
	NoticeCannotCallBluff
)

// noticeTexts are the client-facing texts for each notice code.
var noticeTexts = map[NoticeCode]string{
	NoticeNotYourTurn:         "Non è il tuo turno!",
	NoticeInvalidCard:         "Questa carta non può essere giocata.",
	NoticeMustDrawOrCallBluff: "Devi pescare o chiamare il bluff.",
	NoticeCannotCallBluff:     "Non c'è nessun bluff da chiamare.",
}

func (c NoticeCode) String() string {
	if s, ok := noticeTexts[c]; ok {
		return s
	}
	return fmt.Sprintf("avviso(%d)", uint8(c))
}

// GameMessage is a blocking notice shown to its recipient. Text, when set,
// overrides the predefined text of the code.
type GameMessage struct {
	Severity Severity   `json:"severity"`
	Code     NoticeCode `json:"code"`
	Text     string     `json:"text,omitempty"`
}

func (*GameMessage) Type() PacketType { return TypeGameMessage }

// Notice builds a GameMessage from a predefined code.
func Notice(severity Severity, code NoticeCode) *GameMessage {
	return &GameMessage{Severity: severity, Code: code}
}

// Announce builds an informational GameMessage with free text.
func Announce(text string) *GameMessage {
	return &GameMessage{Severity: SeverityInfo, Text: text}
}

// Standing pairs a finishing rank with a player name.
type Standing struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
}

// GameEnd announces the final standings of a finished game.
type GameEnd struct {
	Standings []Standing `json:"standings"`
}

func (*GameEnd) Type() PacketType { return TypeGameEnd }

// ConnectionEnd terminates a connection. Final means the player is leaving
// for good and no rejoin will be possible.
type ConnectionEnd struct {
	Final   bool   `json:"final"`
	Message string `json:"message,omitempty"`
}

func (*ConnectionEnd) Type() PacketType { return TypeConnectionEnd }
