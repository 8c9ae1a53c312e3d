package client

import (
	"sync"

	"github.com/atrium-crm/chatcore/internal/chat"
)

// PresenceMirror is the client-side view of who is online, fed by
// USER_ONLINE / USER_OFFLINE pushes.
type PresenceMirror struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	onChange func(userID string, online bool)
}

func NewPresenceMirror() *PresenceMirror {
	return &PresenceMirror{online: map[string]struct{}{}}
}

func (p *PresenceMirror) OnChange(fn func(userID string, online bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *PresenceMirror) Apply(env chat.Envelope) {
	payload, err := env.Payload()
	if err != nil {
		return
	}
	pp, ok := payload.(chat.PresencePayload)
	if !ok || pp.UserID == "" {
		return
	}
	online := env.Type == chat.EventUserOnline

	p.mu.Lock()
	_, was := p.online[pp.UserID]
	if online {
		p.online[pp.UserID] = struct{}{}
	} else {
		delete(p.online, pp.UserID)
	}
	fn := p.onChange
	p.mu.Unlock()

	if fn != nil && was != online {
		fn(pp.UserID, online)
	}
}

func (p *PresenceMirror) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}
