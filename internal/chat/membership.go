package chat

// Memberships tracks which sessions are joined to which conversations.
// Joining is explicit (JOIN_CONVERSATION), independent of the participant
// list held by the persistence layer. Owned by the Router, accessed only
// under its lock.
type Memberships struct {
	sessionConvs map[string]map[string]struct{} // session id -> set(conversation id)
	convSessions map[string]map[string]struct{} // conversation id -> set(session id)
}

func NewMemberships() *Memberships {
	return &Memberships{
		sessionConvs: map[string]map[string]struct{}{},
		convSessions: map[string]map[string]struct{}{},
	}
}

// join reports whether membership was newly created; joining twice is a no-op.
func (m *Memberships) join(sessionID, conversationID string) bool {
	if _, ok := m.sessionConvs[sessionID]; !ok {
		m.sessionConvs[sessionID] = map[string]struct{}{}
	}
	if _, ok := m.sessionConvs[sessionID][conversationID]; ok {
		return false
	}
	m.sessionConvs[sessionID][conversationID] = struct{}{}
	if _, ok := m.convSessions[conversationID]; !ok {
		m.convSessions[conversationID] = map[string]struct{}{}
	}
	m.convSessions[conversationID][sessionID] = struct{}{}
	return true
}

// leave reports whether membership existed; leaving a non-joined conversation
// is a no-op.
func (m *Memberships) leave(sessionID, conversationID string) bool {
	convs, ok := m.sessionConvs[sessionID]
	if !ok {
		return false
	}
	if _, ok := convs[conversationID]; !ok {
		return false
	}
	delete(convs, conversationID)
	if len(convs) == 0 {
		delete(m.sessionConvs, sessionID)
	}
	if sessions, ok := m.convSessions[conversationID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.convSessions, conversationID)
		}
	}
	return true
}

func (m *Memberships) isMember(sessionID, conversationID string) bool {
	_, ok := m.sessionConvs[sessionID][conversationID]
	return ok
}

func (m *Memberships) sessionsIn(conversationID string) []string {
	ids := make([]string, 0, len(m.convSessions[conversationID]))
	for id := range m.convSessions[conversationID] {
		ids = append(ids, id)
	}
	return ids
}

func (m *Memberships) conversationsOf(sessionID string) []string {
	ids := make([]string, 0, len(m.sessionConvs[sessionID]))
	for id := range m.sessionConvs[sessionID] {
		ids = append(ids, id)
	}
	return ids
}

// removeSession drops every membership the session holds and returns the
// conversations it was joined to.
func (m *Memberships) removeSession(sessionID string) []string {
	convs := m.conversationsOf(sessionID)
	for _, conversationID := range convs {
		m.leave(sessionID, conversationID)
	}
	return convs
}
