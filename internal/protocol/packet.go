// Package protocol implements the wire codec and message catalog for the
// Tavolo client protocol. Every packet starts with a signed 16-bit big-endian
// type identifier; packets that carry a payload follow it with a 16-bit
// big-endian byte length and that many bytes of UTF-8 encoded JSON.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PacketType identifies a packet on the wire. Non-negative values map 1:1 to
// catalog messages; negative values are connection-lifecycle signals.
type PacketType int16

const (
	// Lifecycle signals.
	TypeConnectionEnd PacketType = -1 // possibly temporary disconnect, carries a ConnectionEnd payload
	TypeClientEnd     PacketType = -2 // permanent departure signal from the client
	TypeServerEnd     PacketType = -3 // server-initiated shutdown signal

	// Catalog messages.
	TypeJoin          PacketType = 0
	TypeJoinStatus    PacketType = 1
	TypeChatMessage   PacketType = 2
	TypeGameMessage   PacketType = 3
	TypePlayersUpdate PacketType = 4
	TypeTurnUpdate    PacketType = 5
	TypeActionUpdate  PacketType = 6
	TypeGameEnd       PacketType = 7
)

// MaxPayloadSize is the largest payload a single packet may carry.
const MaxPayloadSize = 65535

// ErrorKind classifies a protocol error.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrSerialize
	ErrDeserialize
	ErrEncode
	ErrDecode
	ErrSocket
	ErrOversized
	ErrInvalidArgument
)

// errorKindNames maps ErrorKind values to their log representation.
var errorKindNames = map[ErrorKind]string{
	ErrUnknown:         "unknown",
	ErrSerialize:       "serialize",
	ErrDeserialize:     "deserialize",
	ErrEncode:          "encode",
	ErrDecode:          "decode",
	ErrSocket:          "socket",
	ErrOversized:       "oversized-packet",
	ErrInvalidArgument: "invalid-argument",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the structured error surfaced by every codec operation,
// carrying the failure kind, a message and the originating cause.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf returns the ErrorKind of the protocol Error in err's chain, or
// ErrUnknown if there is none.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrUnknown
}

// WriteSignal sends a payload-less packet carrying only the type identifier.
func WriteSignal(w io.Writer, t PacketType) error {
	if err := binary.Write(w, binary.BigEndian, int16(t)); err != nil {
		return newError(ErrSocket, "failed to write packet type", err)
	}
	return nil
}

// WriteMessage encodes and sends a catalog message. The payload is fully
// serialized and size-checked before any bytes hit the wire, so an
// oversized packet aborts the send without corrupting the stream.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	if len(payload) > MaxPayloadSize {
		return newError(ErrOversized, fmt.Sprintf("payload of %d bytes exceeds the %d byte limit", len(payload), MaxPayloadSize), nil)
	}
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(m.Type()))
	binary.BigEndian.PutUint16(header[2:4], uint16(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return newError(ErrSocket, "failed to write packet header", err)
	}
	if _, err := w.Write(payload); err != nil {
		return newError(ErrSocket, "failed to write packet payload", err)
	}
	return nil
}

// ReadType reads the next packet's type identifier. It blocks until bytes
// arrive; the caller unblocks it by closing the underlying connection.
func ReadType(r io.Reader) (PacketType, error) {
	var t int16
	if err := binary.Read(r, binary.BigEndian, &t); err != nil {
		return 0, newError(ErrSocket, "failed to read packet type", err)
	}
	return PacketType(t), nil
}

// ReadPayload reads the length prefix and the raw payload that follows it.
func ReadPayload(r io.Reader) ([]byte, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, newError(ErrSocket, "failed to read payload length", err)
	}
	if length == 0 {
		return nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, newError(ErrDecode, fmt.Sprintf("truncated payload (%d bytes expected)", length), err)
	}
	return payload, nil
}

// ReadMessage reads and decodes the payload of a packet whose type has
// already been consumed by ReadType.
func ReadMessage(r io.Reader, t PacketType) (Message, error) {
	payload, err := ReadPayload(r)
	if err != nil {
		return nil, err
	}
	return DecodeMessage(t, payload)
}

// DiscardPayload consumes and drops the payload of an unwanted packet,
// keeping the stream aligned on the next type identifier.
func DiscardPayload(r io.Reader) error {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return newError(ErrSocket, "failed to read payload length", err)
	}
	if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
		return newError(ErrSocket, "failed to discard payload", err)
	}
	return nil
}
