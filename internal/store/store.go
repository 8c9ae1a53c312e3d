// Package store is the persistence collaborator contract. Dossiers, users
// and the rest of the CRM schema live behind the REST layer; this subsystem
// only touches conversations, messages, read state and unread counters.
package store

import (
	"context"
	"errors"
	"time"
)

const (
	TypePrivate = "private"
	TypeGroup   = "group"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicatePrivate rejects a second 1:1 conversation for the same
	// unordered participant pair.
	ErrDuplicatePrivate = errors.New("store: private conversation already exists for pair")
	ErrNotParticipant   = errors.New("store: user is not a participant")
)

type Conversation struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Name           string    `json:"name,omitempty"`
	ParticipantIDs []string  `json:"participantIds"`
	LastMessage    *Message  `json:"lastMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store is the request/response surface the core consumes. MarkRead is
// idempotent; marking already-read messages read again is a no-op.
type Store interface {
	CreateConversation(ctx context.Context, typ, name string, participantIDs []string) (Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
	CreateMessage(ctx context.Context, conversationID, senderID, content string) (Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) error
	AddParticipant(ctx context.Context, conversationID, userID string) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
}
