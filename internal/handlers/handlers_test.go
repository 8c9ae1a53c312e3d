package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrium-crm/chatcore/internal/auth"
	"github.com/atrium-crm/chatcore/internal/chat"
	"github.com/atrium-crm/chatcore/internal/store"
)

type idleConn struct{ done chan struct{} }

func newIdleConn() *idleConn { return &idleConn{done: make(chan struct{})} }

func (c *idleConn) ReadMessage() (int, []byte, error) {
	<-c.done
	return 0, nil, io.EOF
}
func (c *idleConn) WriteMessage(int, []byte) error { return nil }
func (c *idleConn) Close() error                   { return nil }

type fixture struct {
	app    *fiber.App
	router *chat.Router
	store  *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	router := chat.NewRouter(chat.NewRegistry(), chat.NewMemberships(), chat.NewPresence(0, zerolog.Nop()), zerolog.Nop())
	verifier := auth.NewStaticVerifier(map[string]string{"tok-alice": "alice"})

	app := fiber.New()
	New(router, st, verifier, zerolog.Nop()).Register(app)
	return &fixture{app: app, router: router, store: st}
}

func (f *fixture) seedConversation(t *testing.T, participants ...string) store.Conversation {
	t.Helper()
	conv, err := f.store.CreateConversation(context.Background(), store.TypePrivate, "", participants)
	require.NoError(t, err)
	return conv
}

func recvOfType(t *testing.T, s *chat.Session, typ chat.EventType) chat.Envelope {
	t.Helper()
	for i := 0; i < 16; i++ {
		select {
		case data := <-s.Send:
			var env chat.Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			if env.Type == typ {
				return env
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event received", typ)
		}
	}
	t.Fatalf("no %s event received", typ)
	return chat.Envelope{}
}

func TestWebSocketConnectRefusedWithBadToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/ws/chat?token=wrong", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	resp, err := f.app.Test(httptest.NewRequest("GET", "/ws/chat?token=tok-alice", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestListConversationsSnapshot(t *testing.T) {
	f := newFixture(t)
	conv := f.seedConversation(t, "alice", "bob")
	_, err := f.store.CreateMessage(context.Background(), conv.ID, "alice", "bonjour")
	require.NoError(t, err)

	resp, err := f.app.Test(httptest.NewRequest("GET", "/api/conversations?userId=bob", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Conversations []store.Conversation `json:"conversations"`
		Unread        map[string]int       `json:"unread"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Conversations, 1)
	assert.Equal(t, conv.ID, body.Conversations[0].ID)
	require.NotNil(t, body.Conversations[0].LastMessage)
	assert.Equal(t, 1, body.Unread[conv.ID])
}

func TestListConversationsRequiresUser(t *testing.T) {
	f := newFixture(t)
	resp, err := f.app.Test(httptest.NewRequest("GET", "/api/conversations", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

// The full send/receive path: the write is persisted, joined sessions get the
// push, and the peer's next unread fetch reflects the message.
func TestCreateMessagePersistsAndFansOut(t *testing.T) {
	f := newFixture(t)
	conv := f.seedConversation(t, "alice", "bob")

	bob := f.router.Connect("bob", newIdleConn())
	f.router.HandleEvent(bob, chat.Envelope{Type: chat.EventJoinConversation, ConversationID: conv.ID})

	payload, err := json.Marshal(map[string]string{
		"conversationId": conv.ID,
		"senderId":       "alice",
		"content":        "on signe demain",
	})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/messages", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	env := recvOfType(t, bob, chat.EventNewMessage)
	decoded, err := env.Payload()
	require.NoError(t, err)
	msg, ok := decoded.(chat.MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "on signe demain", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)

	counts, err := f.store.UnreadCounts(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[conv.ID])
}

func TestCreateMessageValidation(t *testing.T) {
	f := newFixture(t)
	conv := f.seedConversation(t, "alice", "bob")

	cases := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"missing content", map[string]string{"conversationId": conv.ID, "senderId": "alice"}, fiber.StatusBadRequest},
		{"unknown conversation", map[string]string{"conversationId": "nope", "senderId": "alice", "content": "x"}, fiber.StatusNotFound},
		{"not a participant", map[string]string{"conversationId": conv.ID, "senderId": "mallory", "content": "x"}, fiber.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := json.Marshal(tc.body)
			require.NoError(t, err)
			req := httptest.NewRequest("POST", "/api/messages", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")
			resp, err := f.app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestMarkReadClearsAndNotifies(t *testing.T) {
	f := newFixture(t)
	conv := f.seedConversation(t, "alice", "bob")
	_, err := f.store.CreateMessage(context.Background(), conv.ID, "alice", "bonjour")
	require.NoError(t, err)

	alice := f.router.Connect("alice", newIdleConn())
	f.router.HandleEvent(alice, chat.Envelope{Type: chat.EventJoinConversation, ConversationID: conv.ID})

	resp, err := f.app.Test(httptest.NewRequest("POST", "/api/conversations/"+conv.ID+"/read?userId=bob", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	counts, err := f.store.UnreadCounts(context.Background(), "bob")
	require.NoError(t, err)
	assert.Zero(t, counts[conv.ID])

	env := recvOfType(t, alice, chat.EventMessageRead)
	decoded, err := env.Payload()
	require.NoError(t, err)
	assert.Equal(t, chat.ReadPayload{UserID: "bob"}, decoded)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := f.app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
