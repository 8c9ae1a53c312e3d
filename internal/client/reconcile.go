package client

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atrium-crm/chatcore/internal/store"
)

// Conversation is the derived, render-ready view of one conversation.
type Conversation struct {
	ID             string
	Type           string
	Name           string
	DisplayName    string
	ParticipantIDs []string
	LastMessage    *store.Message
	UnreadCount    int
	CreatedAt      time.Time
}

// groupTypeTags are the type labels the upstream API uses for group
// conversations, including the legacy French variants.
var groupTypeTags = map[string]struct{}{
	"group":  {},
	"groupe": {},
	"privé":  {},
	"prive":  {},
}

func isGroupType(typ string) bool {
	_, ok := groupTypeTags[strings.ToLower(typ)]
	return ok
}

// Engine merges REST snapshots with push events into one consistent
// conversation list. It is safe to feed snapshots and events in any
// interleaving: applying is an idempotent merge, and the next authoritative
// snapshot always wins on unread counts.
type Engine struct {
	mu      sync.Mutex
	selfID  string
	nameFor func(userID string) string

	convs map[string]*Conversation

	// pendingLast keeps last-message pushes for conversations the snapshot
	// has not delivered yet (push raced the fetch).
	pendingLast map[string]*store.Message
}

func NewEngine(selfID string, nameFor func(userID string) string) *Engine {
	if nameFor == nil {
		nameFor = func(userID string) string { return userID }
	}
	return &Engine{
		selfID:      selfID,
		nameFor:     nameFor,
		convs:       map[string]*Conversation{},
		pendingLast: map[string]*store.Message{},
	}
}

// ApplySnapshot reconciles an authoritative REST snapshot. Unread counts are
// overwritten (never trusted from client-observed events alone: pushes may
// have been missed while disconnected); last-message previews keep whichever
// side saw the newer message.
func (e *Engine) ApplySnapshot(convs []store.Conversation, unread map[string]int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := map[string]*Conversation{}
	for _, sc := range convs {
		// First pass: identical ids collapse (direct-conversation and group
		// result sets can overlap); entries with the same id are identical.
		if _, ok := next[sc.ID]; ok {
			continue
		}
		c := &Conversation{
			ID:             sc.ID,
			Type:           sc.Type,
			Name:           sc.Name,
			ParticipantIDs: append([]string(nil), sc.ParticipantIDs...),
			LastMessage:    sc.LastMessage,
			UnreadCount:    unread[sc.ID],
			CreatedAt:      sc.CreatedAt,
		}
		if prev, ok := e.convs[sc.ID]; ok {
			c.LastMessage = laterMessage(c.LastMessage, prev.LastMessage)
		}
		if pending, ok := e.pendingLast[sc.ID]; ok {
			c.LastMessage = laterMessage(c.LastMessage, pending)
			delete(e.pendingLast, sc.ID)
		}
		next[sc.ID] = c
	}
	e.convs = e.dedupePrivate(next)
}

// dedupePrivate is the second pass: among 1:1 conversations sharing the same
// unordered participant pair, only the most recently created survives. Works
// around the upstream defect where duplicate private conversations exist for
// one pair.
func (e *Engine) dedupePrivate(convs map[string]*Conversation) map[string]*Conversation {
	byPair := map[string]*Conversation{}
	for _, c := range convs {
		if isGroupType(c.Type) {
			continue
		}
		key := e.pairKey(c.ParticipantIDs)
		best, ok := byPair[key]
		if !ok {
			byPair[key] = c
			continue
		}
		keep, drop := best, c
		if c.CreatedAt.After(best.CreatedAt) ||
			(c.CreatedAt.Equal(best.CreatedAt) && c.ID < best.ID) {
			keep, drop = c, best
		}
		byPair[key] = keep
		delete(convs, drop.ID)
	}
	return convs
}

func (e *Engine) pairKey(participantIDs []string) string {
	others := e.othersOf(participantIDs)
	return strings.Join(others, "|")
}

func (e *Engine) othersOf(participantIDs []string) []string {
	others := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		if id != e.selfID {
			others = append(others, id)
		}
	}
	sort.Strings(others)
	return others
}

// ApplyNewMessage folds a NEW_MESSAGE push in: preview updated, unread
// optimistically bumped for messages from others. Duplicate deliveries of
// the same message are no-ops.
func (e *Engine) ApplyNewMessage(msg store.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.convs[msg.ConversationID]
	if !ok {
		e.pendingLast[msg.ConversationID] = laterMessage(e.pendingLast[msg.ConversationID], &msg)
		return
	}
	if c.LastMessage != nil && c.LastMessage.ID == msg.ID {
		return
	}
	c.LastMessage = laterMessage(c.LastMessage, &msg)
	if msg.SenderID != e.selfID {
		c.UnreadCount++
	}
}

// ApplyRead folds a MESSAGE_READ push in. Only the local user's own receipt
// clears the local unread counter.
func (e *Engine) ApplyRead(conversationID, userID string) {
	if userID != e.selfID {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.convs[conversationID]; ok {
		c.UnreadCount = 0
	}
}

// ConversationIDs lists the current conversation ids, for post-snapshot
// membership joins.
func (e *Engine) ConversationIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.convs))
	for id := range e.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the render-ready list: deduplicated, display names
// resolved, most recently active first.
func (e *Engine) Snapshot() []Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Conversation, 0, len(e.convs))
	for _, c := range e.convs {
		cp := *c
		cp.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
		if c.LastMessage != nil {
			msg := *c.LastMessage
			cp.LastMessage = &msg
		}
		cp.DisplayName = e.displayName(c)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := activityTime(out[i]), activityTime(out[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// displayName derives a stable name: the explicit name when present,
// otherwise up to two other participants plus a "+N others" suffix.
// Participants are sorted by id first so the result never depends on map
// iteration order.
func (e *Engine) displayName(c *Conversation) string {
	if c.Name != "" {
		return c.Name
	}
	others := e.othersOf(c.ParticipantIDs)
	names := make([]string, 0, 2)
	for _, id := range others {
		if len(names) == 2 {
			break
		}
		names = append(names, e.nameFor(id))
	}
	switch {
	case len(others) == 0:
		return e.nameFor(e.selfID)
	case len(others) <= 2:
		return strings.Join(names, ", ")
	default:
		return fmt.Sprintf("%s +%d others", strings.Join(names, ", "), len(others)-2)
	}
}

// activityTime is the sort key: last message time when there is one, else
// creation time.
func activityTime(c Conversation) time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.CreatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

func laterMessage(a, b *store.Message) *store.Message {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.CreatedAt.After(a.CreatedAt):
		return b
	default:
		return a
	}
}
