package client

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atrium-crm/chatcore/internal/chat"
)

// Typing converts raw keystrokes into rate-limited TYPING/STOP_TYPING
// signals and mirrors the typing state of remote users.
//
// Local side, per conversation: the first keystroke emits TYPING and arms a
// 2s inactivity timer; further keystrokes only reset the timer. The episode
// ends with exactly one STOP_TYPING: on expiry, on the input going empty, or
// on Close.
type Typing struct {
	mu         sync.Mutex
	send       func(chat.Envelope) error
	selfID     string
	inactivity time.Duration

	local  map[string]*time.Timer            // conversation id -> inactivity timer
	remote map[string]map[string]*time.Timer // conversation id -> user id -> expiry timer

	// onRemote fires when a conversation's remote typing set changes.
	onRemote func(conversationID string)
	closed   bool
	log      zerolog.Logger
}

func NewTyping(selfID string, inactivity time.Duration, send func(chat.Envelope) error, log zerolog.Logger) *Typing {
	if inactivity <= 0 {
		inactivity = 2 * time.Second
	}
	return &Typing{
		send:       send,
		selfID:     selfID,
		inactivity: inactivity,
		local:      map[string]*time.Timer{},
		remote:     map[string]map[string]*time.Timer{},
		log:        log.With().Str("component", "typing").Logger(),
	}
}

func (t *Typing) OnRemoteChange(fn func(conversationID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRemote = fn
}

// Keystroke feeds the current input value of a conversation's composer.
func (t *Typing) Keystroke(conversationID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if text == "" {
		t.stopLocked(conversationID)
		return
	}
	if timer, ok := t.local[conversationID]; ok {
		// Already typing: just push the deadline, no second TYPING.
		timer.Reset(t.inactivity)
		return
	}
	t.local[conversationID] = time.AfterFunc(t.inactivity, func() { t.expireLocal(conversationID) })
	t.emit(chat.EventTyping, conversationID)
}

func (t *Typing) expireLocal(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.local[conversationID]; !ok {
		return // stopped explicitly before the timer fired
	}
	delete(t.local, conversationID)
	t.emit(chat.EventStopTyping, conversationID)
}

func (t *Typing) stopLocked(conversationID string) {
	timer, ok := t.local[conversationID]
	if !ok {
		return
	}
	timer.Stop()
	delete(t.local, conversationID)
	t.emit(chat.EventStopTyping, conversationID)
}

func (t *Typing) emit(typ chat.EventType, conversationID string) {
	env, err := chat.NewEnvelope(typ, conversationID, nil)
	if err != nil {
		t.log.Error().Err(err).Msg("encode typing event")
		return
	}
	if err := t.send(env); err != nil {
		// Typing signals are droppable; the peer's safety TTL cleans up.
		t.log.Debug().Err(err).Str("conversation", conversationID).Msg("typing signal not sent")
	}
}

// HandleEvent applies USER_TYPING / USER_STOPPED_TYPING pushes. The local
// user's own id is ignored; the router should exclude the origin, but a
// misrouted event must not show "you are typing".
func (t *Typing) HandleEvent(env chat.Envelope) {
	payload, err := env.Payload()
	if err != nil {
		t.log.Debug().Err(err).Msg("dropping typing push")
		return
	}
	p, ok := payload.(chat.TypingPayload)
	if !ok || p.UserID == t.selfID || env.ConversationID == "" {
		return
	}
	switch env.Type {
	case chat.EventUserTyping:
		t.addRemote(env.ConversationID, p.UserID)
	case chat.EventUserStoppedTyping:
		t.removeRemote(env.ConversationID, p.UserID)
	}
}

func (t *Typing) addRemote(conversationID, userID string) {
	t.mu.Lock()
	users, ok := t.remote[conversationID]
	if !ok {
		users = map[string]*time.Timer{}
		t.remote[conversationID] = users
	}
	// Safety TTL: a lost USER_STOPPED_TYPING must not leave a stuck
	// indicator.
	ttl := 3 * t.inactivity
	if timer, ok := users[userID]; ok {
		timer.Reset(ttl)
		t.mu.Unlock()
		return
	}
	users[userID] = time.AfterFunc(ttl, func() { t.removeRemote(conversationID, userID) })
	fn := t.onRemote
	t.mu.Unlock()
	if fn != nil {
		fn(conversationID)
	}
}

func (t *Typing) removeRemote(conversationID, userID string) {
	t.mu.Lock()
	users, ok := t.remote[conversationID]
	if !ok {
		t.mu.Unlock()
		return
	}
	timer, ok := users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.remote, conversationID)
	}
	fn := t.onRemote
	t.mu.Unlock()
	if fn != nil {
		fn(conversationID)
	}
}

// TypingUsers returns who is currently typing in a conversation, sorted for
// stable rendering.
func (t *Typing) TypingUsers(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := make([]string, 0, len(t.remote[conversationID]))
	for userID := range t.remote[conversationID] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// ClearRemote wipes all remote typing state, e.g. after a disconnect, so no
// indicator survives a window where stop events may have been missed.
func (t *Typing) ClearRemote() {
	t.mu.Lock()
	changed := make([]string, 0, len(t.remote))
	for conversationID, users := range t.remote {
		for _, timer := range users {
			timer.Stop()
		}
		changed = append(changed, conversationID)
	}
	t.remote = map[string]map[string]*time.Timer{}
	fn := t.onRemote
	t.mu.Unlock()
	if fn != nil {
		for _, conversationID := range changed {
			fn(conversationID)
		}
	}
}

// Close ends every active typing episode synchronously, so peers never keep
// a stuck "typing…" after this client goes away.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for conversationID, timer := range t.local {
		timer.Stop()
		t.emit(chat.EventStopTyping, conversationID)
	}
	t.local = map[string]*time.Timer{}
	for _, users := range t.remote {
		for _, timer := range users {
			timer.Stop()
		}
	}
	t.remote = map[string]map[string]*time.Timer{}
}
