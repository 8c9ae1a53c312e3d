package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

// Client-originated events.
const (
	EventJoinConversation  EventType = "JOIN_CONVERSATION"
	EventLeaveConversation EventType = "LEAVE_CONVERSATION"
	EventTyping            EventType = "TYPING"
	EventStopTyping        EventType = "STOP_TYPING"
)

// Server-originated events.
const (
	EventNewMessage        EventType = "NEW_MESSAGE"
	EventMessageRead       EventType = "MESSAGE_READ"
	EventUserTyping        EventType = "USER_TYPING"
	EventUserStoppedTyping EventType = "USER_STOPPED_TYPING"
	EventUserOnline        EventType = "USER_ONLINE"
	EventUserOffline       EventType = "USER_OFFLINE"
)

// Envelope is the wire format in both directions. Data holds the
// type-specific payload and is decoded by Payload once the type is known.
type Envelope struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// MessagePayload carries NEW_MESSAGE data.
type MessagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ReadPayload carries MESSAGE_READ data.
type ReadPayload struct {
	UserID string `json:"userId"`
}

// TypingPayload carries USER_TYPING and USER_STOPPED_TYPING data.
type TypingPayload struct {
	UserID string `json:"userId"`
}

// PresencePayload carries USER_ONLINE and USER_OFFLINE data.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// NewEnvelope builds a stamped envelope with payload encoded into Data.
func NewEnvelope(typ EventType, conversationID string, payload any) (Envelope, error) {
	env := Envelope{
		Type:           typ,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Data = data
	}
	return env, nil
}

// DecodeClientEvent parses an inbound frame and validates it against the set
// of events clients are allowed to send. All client events are
// conversation-scoped.
func DecodeClientEvent(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	switch env.Type {
	case EventJoinConversation, EventLeaveConversation, EventTyping, EventStopTyping:
	default:
		return Envelope{}, fmt.Errorf("%w: unexpected client event %q", ErrValidation, env.Type)
	}
	if env.ConversationID == "" {
		return Envelope{}, fmt.Errorf("%w: %s without conversationId", ErrValidation, env.Type)
	}
	return env, nil
}

// Payload decodes Data into the payload struct matching the envelope type.
func (e Envelope) Payload() (any, error) {
	switch e.Type {
	case EventNewMessage:
		var p MessagePayload
		return decodeInto(e, &p)
	case EventMessageRead:
		var p ReadPayload
		return decodeInto(e, &p)
	case EventUserTyping, EventUserStoppedTyping:
		var p TypingPayload
		return decodeInto(e, &p)
	case EventUserOnline, EventUserOffline:
		var p PresencePayload
		return decodeInto(e, &p)
	case EventJoinConversation, EventLeaveConversation, EventTyping, EventStopTyping:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrValidation, e.Type)
	}
}

func decodeInto[T any](e Envelope, p *T) (T, error) {
	if len(e.Data) == 0 {
		return *p, fmt.Errorf("%w: %s without data", ErrValidation, e.Type)
	}
	if err := json.Unmarshal(e.Data, p); err != nil {
		return *p, fmt.Errorf("%w: %s payload: %v", ErrValidation, e.Type, err)
	}
	return *p, nil
}
