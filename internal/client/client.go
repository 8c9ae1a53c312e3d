// Package client is the Go side of the messaging dashboard: socket
// lifecycle, typing coordination, presence mirror and the conversation
// reconciliation engine. The UI renders from this package's derived state,
// never from raw events.
package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/atrium-crm/chatcore/internal/chat"
	"github.com/atrium-crm/chatcore/internal/store"
)

type Options struct {
	SelfID string
	WSURL  string // ws://host/ws/chat?token=<accessToken>

	Fetcher Fetcher
	NameFor func(userID string) string

	TypingInactivity time.Duration
	PollConnected    time.Duration
	PollDisconnected time.Duration

	Logger zerolog.Logger
}

// Client wires the transport, typing coordinator, presence mirror and
// reconciliation engine together.
type Client struct {
	selfID    string
	transport *Transport
	typing    *Typing
	engine    *Engine
	presence  *PresenceMirror
	fetcher   Fetcher
	log       zerolog.Logger
}

func New(opts Options) *Client {
	c := &Client{
		selfID:   opts.SelfID,
		engine:   NewEngine(opts.SelfID, opts.NameFor),
		presence: NewPresenceMirror(),
		fetcher:  opts.Fetcher,
		log:      opts.Logger.With().Str("component", "client").Logger(),
	}
	c.transport = NewTransport(TransportOptions{
		URL:              opts.WSURL,
		OnMessage:        c.handleEvent,
		OnStateChange:    c.stateChanged,
		Refresh:          c.Refresh,
		PollConnected:    opts.PollConnected,
		PollDisconnected: opts.PollDisconnected,
		Logger:           opts.Logger,
	})
	c.typing = NewTyping(opts.SelfID, opts.TypingInactivity, c.transport.Send, opts.Logger)
	return c
}

// Start connects the socket and primes the first snapshot.
func (c *Client) Start() {
	c.transport.Connect()
	go c.Refresh()
}

// Close tears everything down: typing episodes end synchronously, then the
// socket and its timers go away.
func (c *Client) Close() {
	c.typing.Close()
	c.transport.Close()
}

// Refresh refetches the snapshot and re-joins every conversation in it.
// Called by the polling fallback and after each reconnect; join is
// idempotent server-side, so repeating it is harmless.
func (c *Client) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := c.fetcher.FetchSnapshot(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("snapshot fetch failed")
		return
	}
	c.engine.ApplySnapshot(snap.Conversations, snap.Unread)
	for _, conversationID := range c.engine.ConversationIDs() {
		env, err := chat.NewEnvelope(chat.EventJoinConversation, conversationID, nil)
		if err != nil {
			continue
		}
		if err := c.transport.Send(env); err != nil {
			// Disconnected; the post-reconnect refresh re-joins.
			return
		}
	}
}

func (c *Client) handleEvent(env chat.Envelope) {
	switch env.Type {
	case chat.EventNewMessage:
		payload, err := env.Payload()
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping message push")
			return
		}
		if p, ok := payload.(chat.MessagePayload); ok {
			c.engine.ApplyNewMessage(messageFromPayload(p))
		}
	case chat.EventMessageRead:
		payload, err := env.Payload()
		if err != nil {
			return
		}
		if p, ok := payload.(chat.ReadPayload); ok {
			c.engine.ApplyRead(env.ConversationID, p.UserID)
		}
	case chat.EventUserTyping, chat.EventUserStoppedTyping:
		c.typing.HandleEvent(env)
	case chat.EventUserOnline, chat.EventUserOffline:
		c.presence.Apply(env)
	default:
		c.log.Debug().Str("type", string(env.Type)).Msg("ignoring unknown push")
	}
}

func (c *Client) stateChanged(connected bool) {
	if connected {
		// Pushes may have been missed while down; resync immediately.
		go c.Refresh()
		return
	}
	// Stop events can be lost across a disconnect; drop all indicators.
	c.typing.ClearRemote()
}

// Keystroke feeds composer input into the typing coordinator.
func (c *Client) Keystroke(conversationID, text string) {
	c.typing.Keystroke(conversationID, text)
}

// Conversations returns the render-ready conversation list.
func (c *Client) Conversations() []Conversation {
	return c.engine.Snapshot()
}

func (c *Client) TypingUsers(conversationID string) []string {
	return c.typing.TypingUsers(conversationID)
}

func (c *Client) IsOnline(userID string) bool {
	return c.presence.IsOnline(userID)
}

// Connected reports the socket state, for the "reconnecting" banner.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// ForceReconnect is the manual recovery action behind the banner.
func (c *Client) ForceReconnect() {
	c.transport.ForceReconnect()
}

func messageFromPayload(p chat.MessagePayload) store.Message {
	return store.Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Content:        p.Content,
		CreatedAt:      p.CreatedAt,
	}
}
