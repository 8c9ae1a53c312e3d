package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Presence tracks binary online/offline per user, derived from live session
// counts. The offline transition is delayed by a grace period so a page
// reload does not flicker OFFLINE/ONLINE at every peer.
type Presence struct {
	mu       sync.Mutex
	counts   map[string]int         // user id -> live session count
	pending  map[string]*time.Timer // user id -> offline grace timer
	grace    time.Duration
	onChange func(userID string, online bool)
	log      zerolog.Logger
}

func NewPresence(grace time.Duration, log zerolog.Logger) *Presence {
	return &Presence{
		counts:  map[string]int{},
		pending: map[string]*time.Timer{},
		grace:   grace,
		log:     log.With().Str("component", "presence").Logger(),
	}
}

// OnChange registers the transition subscriber. Must be set before sessions
// connect; the callback runs without the presence lock held.
func (p *Presence) OnChange(fn func(userID string, online bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// MarkOnline records a new session for the user. The first session emits
// USER_ONLINE immediately; reconnecting within the offline grace window
// cancels the pending OFFLINE without re-announcing.
func (p *Presence) MarkOnline(userID string) {
	p.mu.Lock()
	p.counts[userID]++
	first := p.counts[userID] == 1
	if t, ok := p.pending[userID]; ok {
		t.Stop()
		delete(p.pending, userID)
		first = false
	}
	fn := p.onChange
	p.mu.Unlock()

	if first {
		p.log.Debug().Str("user", userID).Msg("user online")
		if fn != nil {
			fn(userID, true)
		}
	}
}

// MarkOffline records a session going away. When the last session for the
// user disconnects, OFFLINE is announced after the grace period, unless a
// session reconnects in the meantime.
func (p *Presence) MarkOffline(userID string) {
	p.mu.Lock()
	if p.counts[userID] == 0 {
		p.mu.Unlock()
		return
	}
	p.counts[userID]--
	if p.counts[userID] > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.counts, userID)
	if p.grace <= 0 {
		fn := p.onChange
		p.mu.Unlock()
		p.log.Debug().Str("user", userID).Msg("user offline")
		if fn != nil {
			fn(userID, false)
		}
		return
	}
	if t, ok := p.pending[userID]; ok {
		t.Stop()
	}
	p.pending[userID] = time.AfterFunc(p.grace, func() { p.fireOffline(userID) })
	p.mu.Unlock()
}

func (p *Presence) fireOffline(userID string) {
	p.mu.Lock()
	if _, ok := p.pending[userID]; !ok {
		// Cancelled by a reconnect that raced the timer.
		p.mu.Unlock()
		return
	}
	delete(p.pending, userID)
	if p.counts[userID] > 0 {
		p.mu.Unlock()
		return
	}
	fn := p.onChange
	p.mu.Unlock()

	p.log.Debug().Str("user", userID).Msg("user offline")
	if fn != nil {
		fn(userID, false)
	}
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0 || p.pending[userID] != nil
}
