package chat

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/atrium-crm/chatcore/internal/metrics"
)

// Router owns the connection registry and membership table. All mutation of
// both goes through it; handlers and session pumps never touch them directly.
type Router struct {
	// mu guards registry, members and offlineAudience. Socket writes happen
	// under it too, so a broadcast can never race the close of an evicted
	// session's send channel.
	registry *Registry
	members  *Memberships
	presence *Presence

	// offlineAudience remembers, per user, the conversations their sessions
	// were joined to at disconnect time. Memberships are gone by the time the
	// offline grace timer fires, so the OFFLINE fan-out needs this capture.
	offlineAudience map[string]map[string]struct{}

	log zerolog.Logger
	mu  sync.RWMutex
}

func NewRouter(registry *Registry, members *Memberships, presence *Presence, log zerolog.Logger) *Router {
	r := &Router{
		registry:        registry,
		members:         members,
		presence:        presence,
		offlineAudience: map[string]map[string]struct{}{},
		log:             log.With().Str("component", "router").Logger(),
	}
	presence.OnChange(r.presenceChanged)
	return r
}

// Connect registers an authenticated socket as a new session and marks the
// user online. The caller starts the session pumps.
func (r *Router) Connect(userID string, conn ConnLike) *Session {
	s := NewSession(userID, conn)
	r.mu.Lock()
	r.registry.add(s)
	r.mu.Unlock()

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsCurrent.Inc()
	r.log.Info().Str("session", s.ID).Str("user", userID).Msg("session connected")
	r.presence.MarkOnline(userID)
	return s
}

// Disconnect evicts a session: memberships dropped, send channel closed,
// presence decremented. Safe to call from both pumps; only the first call
// takes effect.
func (r *Router) Disconnect(s *Session) {
	r.mu.Lock()
	if !r.registry.remove(s) {
		r.mu.Unlock()
		return
	}
	convs := r.members.removeSession(s.ID)
	if len(convs) > 0 {
		audience := r.offlineAudience[s.UserID]
		if audience == nil {
			audience = map[string]struct{}{}
			r.offlineAudience[s.UserID] = audience
		}
		for _, conversationID := range convs {
			audience[conversationID] = struct{}{}
		}
	}
	close(s.Send)
	r.mu.Unlock()

	metrics.ConnectionsCurrent.Dec()
	r.log.Info().Str("session", s.ID).Str("user", s.UserID).Msg("session disconnected")
	r.presence.MarkOffline(s.UserID)
}

// HandleEvent processes one validated inbound client event.
func (r *Router) HandleEvent(s *Session, env Envelope) {
	metrics.EventsReceivedTotal.WithLabelValues(string(env.Type)).Inc()
	switch env.Type {
	case EventJoinConversation:
		r.join(s, env.ConversationID)
	case EventLeaveConversation:
		r.leave(s, env.ConversationID)
	case EventTyping:
		r.relayTyping(s, env.ConversationID, EventUserTyping)
	case EventStopTyping:
		r.relayTyping(s, env.ConversationID, EventUserStoppedTyping)
	default:
		r.log.Debug().Str("session", s.ID).Str("type", string(env.Type)).Msg("dropping unexpected event")
	}
}

func (r *Router) join(s *Session, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.members.join(s.ID, conversationID) {
		return // already joined
	}

	// Presence is exchanged at join time: peers learn this user is online,
	// and the joiner learns which members are already online. Keeps presence
	// fan-out scoped to shared conversations.
	online := r.encodePresence(EventUserOnline, s.UserID)
	seen := map[string]struct{}{s.UserID: {}}
	for _, sessionID := range r.members.sessionsIn(conversationID) {
		peer := r.registry.get(sessionID)
		if peer == nil || peer.UserID == s.UserID {
			continue
		}
		r.sendLocked(peer, EventUserOnline, online)
		if _, ok := seen[peer.UserID]; !ok {
			seen[peer.UserID] = struct{}{}
			r.sendLocked(s, EventUserOnline, r.encodePresence(EventUserOnline, peer.UserID))
		}
	}
}

func (r *Router) leave(s *Session, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members.leave(s.ID, conversationID) // idempotent, no-op when not joined
}

func (r *Router) relayTyping(s *Session, conversationID string, typ EventType) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.members.isMember(s.ID, conversationID) {
		// Benign race between a leave and an in-flight keystroke.
		r.log.Debug().Str("session", s.ID).Str("conversation", conversationID).Msg("typing from non-member dropped")
		return
	}
	env, err := NewEnvelope(typ, conversationID, TypingPayload{UserID: s.UserID})
	if err != nil {
		r.log.Error().Err(err).Msg("encode typing event")
		return
	}
	data, _ := json.Marshal(env)
	for _, sessionID := range r.members.sessionsIn(conversationID) {
		peer := r.registry.get(sessionID)
		if peer == nil || peer.UserID == s.UserID {
			continue // never relay typing back to the origin user
		}
		r.sendLocked(peer, typ, data)
	}
}

// NotifyNewMessage fans a persisted message to every session currently joined
// to its conversation. Called by the REST layer after the write; the socket
// path is a notification optimization, never the source of truth.
func (r *Router) NotifyNewMessage(msg MessagePayload) {
	r.Broadcast(msg.ConversationID, EventNewMessage, msg, "")
}

// NotifyRead fans a read receipt to the conversation.
func (r *Router) NotifyRead(conversationID, userID string) {
	r.Broadcast(conversationID, EventMessageRead, ReadPayload{UserID: userID}, "")
}

// Broadcast sends a server event to every member session of the conversation,
// optionally excluding one session. A slow or dead target never aborts the
// fan-out to the rest.
func (r *Router) Broadcast(conversationID string, typ EventType, payload any, excludeSessionID string) {
	env, err := NewEnvelope(typ, conversationID, payload)
	if err != nil {
		r.log.Error().Err(err).Str("type", string(typ)).Msg("encode broadcast")
		return
	}
	data, _ := json.Marshal(env)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sessionID := range r.members.sessionsIn(conversationID) {
		if sessionID == excludeSessionID {
			continue
		}
		if peer := r.registry.get(sessionID); peer != nil {
			r.sendLocked(peer, typ, data)
		}
	}
}

// presenceChanged is the Presence subscription. ONLINE reaches the sessions
// of the conversations the user was last seen in; OFFLINE uses the audience
// captured at disconnect, since memberships are gone by now.
func (r *Router) presenceChanged(userID string, online bool) {
	typ := EventUserOffline
	if online {
		typ = EventUserOnline
	}
	data := r.encodePresence(typ, userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	audience := r.offlineAudience[userID]
	delete(r.offlineAudience, userID)
	notified := map[string]struct{}{}
	for conversationID := range audience {
		for _, sessionID := range r.members.sessionsIn(conversationID) {
			if _, ok := notified[sessionID]; ok {
				continue
			}
			notified[sessionID] = struct{}{}
			peer := r.registry.get(sessionID)
			if peer == nil || peer.UserID == userID {
				continue
			}
			r.sendLocked(peer, typ, data)
		}
	}
}

func (r *Router) encodePresence(typ EventType, userID string) []byte {
	env, _ := NewEnvelope(typ, "", PresencePayload{UserID: userID})
	data, _ := json.Marshal(env)
	return data
}

// sendLocked queues data on the session without blocking. Callers hold at
// least a read lock, which excludes the write lock under which evicted
// sessions close their send channel.
func (r *Router) sendLocked(s *Session, typ EventType, data []byte) {
	select {
	case s.Send <- data:
		metrics.EventsSentTotal.WithLabelValues(string(typ)).Inc()
	default:
		metrics.EventsDroppedTotal.Inc()
		r.log.Warn().Str("session", s.ID).Str("type", string(typ)).Msg("send buffer full, event dropped")
	}
}

// SessionCount reports live sessions, for health reporting.
func (r *Router) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry.count()
}
