package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is the in-process Store used in development and tests.
type Memory struct {
	mu       sync.RWMutex
	convs    map[string]*Conversation
	messages map[string][]Message       // conversation id -> messages, append order
	unread   map[string]map[string]int  // user id -> conversation id -> count
	pairs    map[string]string          // private pair key -> conversation id
}

func NewMemory() *Memory {
	return &Memory{
		convs:    map[string]*Conversation{},
		messages: map[string][]Message{},
		unread:   map[string]map[string]int{},
		pairs:    map[string]string{},
	}
}

// pairKey is the unordered participant pair of a 1:1 conversation.
func pairKey(participantIDs []string) string {
	ids := append([]string(nil), participantIDs...)
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

func (m *Memory) CreateConversation(_ context.Context, typ, name string, participantIDs []string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if typ == TypePrivate {
		if _, ok := m.pairs[pairKey(participantIDs)]; ok {
			return Conversation{}, ErrDuplicatePrivate
		}
	}

	conv := Conversation{
		ID:             uuid.NewString(),
		Type:           typ,
		Name:           name,
		ParticipantIDs: append([]string(nil), participantIDs...),
		CreatedAt:      time.Now().UTC(),
	}
	m.convs[conv.ID] = &conv
	if typ == TypePrivate {
		m.pairs[pairKey(participantIDs)] = conv.ID
	}
	return conv, nil
}

func (m *Memory) ListConversations(_ context.Context, userID string) ([]Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Conversation
	for _, conv := range m.convs {
		for _, id := range conv.ParticipantIDs {
			if id == userID {
				out = append(out, *conv)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UnreadCounts(_ context.Context, userID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[string]int{}
	for conversationID, n := range m.unread[userID] {
		counts[conversationID] = n
	}
	return counts, nil
}

func (m *Memory) CreateMessage(_ context.Context, conversationID, senderID, content string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[conversationID]
	if !ok {
		return Message{}, ErrNotFound
	}
	sender := false
	for _, id := range conv.ParticipantIDs {
		if id == senderID {
			sender = true
			break
		}
	}
	if !sender {
		return Message{}, ErrNotParticipant
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	conv.LastMessage = &msg

	for _, id := range conv.ParticipantIDs {
		if id == senderID {
			continue
		}
		if _, ok := m.unread[id]; !ok {
			m.unread[id] = map[string]int{}
		}
		m.unread[id][conversationID]++
	}
	return msg, nil
}

func (m *Memory) MarkRead(_ context.Context, userID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conversationID]; !ok {
		return ErrNotFound
	}
	if counts, ok := m.unread[userID]; ok {
		delete(counts, conversationID)
	}
	return nil
}

func (m *Memory) AddParticipant(_ context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range conv.ParticipantIDs {
		if id == userID {
			return nil
		}
	}
	conv.ParticipantIDs = append(conv.ParticipantIDs, userID)
	return nil
}

func (m *Memory) RemoveParticipant(_ context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	for i, id := range conv.ParticipantIDs {
		if id == userID {
			conv.ParticipantIDs = append(conv.ParticipantIDs[:i], conv.ParticipantIDs[i+1:]...)
			break
		}
	}
	if counts, ok := m.unread[userID]; ok {
		delete(counts, conversationID)
	}
	return nil
}
