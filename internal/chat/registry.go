package chat

// Registry maps live sessions by id and by user. It is owned by the Router;
// nothing else mutates it, and all access happens under the Router's lock.
type Registry struct {
	sessions map[string]*Session            // session id -> session
	byUser   map[string]map[string]*Session // user id -> session id -> session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: map[string]*Session{},
		byUser:   map[string]map[string]*Session{},
	}
}

func (r *Registry) add(s *Session) {
	r.sessions[s.ID] = s
	if _, ok := r.byUser[s.UserID]; !ok {
		r.byUser[s.UserID] = map[string]*Session{}
	}
	r.byUser[s.UserID][s.ID] = s
}

// remove reports whether the session was present, so eviction from both the
// read and write pump stays idempotent.
func (r *Registry) remove(s *Session) bool {
	if _, ok := r.sessions[s.ID]; !ok {
		return false
	}
	delete(r.sessions, s.ID)
	if userSessions, ok := r.byUser[s.UserID]; ok {
		delete(userSessions, s.ID)
		if len(userSessions) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
	return true
}

func (r *Registry) get(sessionID string) *Session {
	return r.sessions[sessionID]
}

func (r *Registry) userSessionCount(userID string) int {
	return len(r.byUser[userID])
}

func (r *Registry) count() int {
	return len(r.sessions)
}
