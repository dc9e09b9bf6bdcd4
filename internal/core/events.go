package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

// EventType is the wire tag of an event variant.
type EventType string

const (
	TypeUserOnline         EventType = "user_online"
	TypeUserOffline        EventType = "user_offline"
	TypeUnreadCountUpdated EventType = "unread_count_updated"
	TypeMessageRead        EventType = "message_read"
	TypeUserTyping         EventType = "user_typing"
	TypeAck                EventType = "ack"
	TypeError              EventType = "error"
)

// Event is the closed set of server-to-client messages. Only types in this
// package implement it.
type Event interface {
	Type() EventType
	event()
}

type UserOnline struct {
	UserID domain.UserID `json:"user_id"`
}

type UserOffline struct {
	UserID     domain.UserID `json:"user_id"`
	LastOnline time.Time     `json:"last_online"`
}

type UnreadCountUpdated struct {
	ChatID      domain.ChatID `json:"chat_id"`
	UnreadCount int64         `json:"unread_count"`
}

type MessageRead struct {
	ChatID            domain.ChatID    `json:"chat_id"`
	UserID            domain.UserID    `json:"user_id"`
	LastReadMessageID domain.MessageID `json:"last_read_message_id"`
	LastReadAt        time.Time        `json:"last_read_at"`
}

type UserTyping struct {
	ChatID domain.ChatID `json:"chat_id"`
	UserID domain.UserID `json:"user_id"`
}

// Ack answers a client request.
type Ack struct {
	RequestID string `json:"request_id,omitempty"`
	Result    any    `json:"result,omitempty"`
}

// Error answers a client request that failed.
type Error struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (UserOnline) Type() EventType         { return TypeUserOnline }
func (UserOffline) Type() EventType        { return TypeUserOffline }
func (UnreadCountUpdated) Type() EventType { return TypeUnreadCountUpdated }
func (MessageRead) Type() EventType        { return TypeMessageRead }
func (UserTyping) Type() EventType         { return TypeUserTyping }
func (Ack) Type() EventType                { return TypeAck }
func (Error) Type() EventType              { return TypeError }

func (UserOnline) event()         {}
func (UserOffline) event()        {}
func (UnreadCountUpdated) event() {}
func (MessageRead) event()        {}
func (UserTyping) event()         {}
func (Ack) event()                {}
func (Error) event()              {}

type envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent renders ev as {"type": ..., "payload": {...}}.
func EncodeEvent(ev Event) (Frame, error) {
	var payload any
	switch e := ev.(type) {
	case UserOnline, UserOffline, UnreadCountUpdated, MessageRead, UserTyping, Ack, Error:
		payload = e
	case nil:
		return nil, fmt.Errorf("encode event: nil event")
	default:
		return nil, fmt.Errorf("encode event: unsupported variant %T", ev)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Type(), err)
	}
	return json.Marshal(envelope{Type: ev.Type(), Payload: raw})
}

// DecodeEvent is the inverse of EncodeEvent for broadcastable variants.
// Ack and Error frames are request replies and never cross nodes.
func DecodeEvent(f Frame) (Event, error) {
	var env envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch env.Type {
	case TypeUserOnline:
		return decodeAs[UserOnline](env.Payload)
	case TypeUserOffline:
		return decodeAs[UserOffline](env.Payload)
	case TypeUnreadCountUpdated:
		return decodeAs[UnreadCountUpdated](env.Payload)
	case TypeMessageRead:
		return decodeAs[MessageRead](env.Payload)
	case TypeUserTyping:
		return decodeAs[UserTyping](env.Payload)
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", env.Type)
	}
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.Type(), err)
	}
	return v, nil
}
