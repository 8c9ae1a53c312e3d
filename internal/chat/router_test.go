package chat

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	frames    chan []byte
	failWrite bool
	writes    [][]byte
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.frames
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite {
		return errors.New("broken pipe")
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func newTestRouter(grace time.Duration) *Router {
	return NewRouter(NewRegistry(), NewMemberships(), NewPresence(grace, zerolog.Nop()), zerolog.Nop())
}

func clientEnv(typ EventType, conversationID string) Envelope {
	return Envelope{Type: typ, ConversationID: conversationID, Timestamp: time.Now().UTC()}
}

func recvEvent(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case data, ok := <-s.Send:
		require.True(t, ok, "send channel closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Envelope{}
	}
}

func recvEventOfType(t *testing.T, s *Session, typ EventType) Envelope {
	t.Helper()
	for i := 0; i < 16; i++ {
		env := recvEvent(t, s)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s event received", typ)
	return Envelope{}
}

func assertNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case data, ok := <-s.Send:
		if ok {
			t.Fatalf("unexpected event: %s", data)
		}
	default:
	}
}

func drain(s *Session) {
	for {
		select {
		case <-s.Send:
		default:
			return
		}
	}
}

func TestBroadcastReachesMembersOnly(t *testing.T) {
	r := newTestRouter(0)
	alice := r.Connect("alice", newFakeConn())
	bob := r.Connect("bob", newFakeConn())

	r.HandleEvent(bob, clientEnv(EventJoinConversation, "c1"))
	r.NotifyNewMessage(MessagePayload{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "salut", CreatedAt: time.Now()})

	env := recvEventOfType(t, bob, EventNewMessage)
	assert.Equal(t, "c1", env.ConversationID)
	assertNoEvent(t, alice)

	// After joining, alice receives the next broadcast too.
	r.HandleEvent(alice, clientEnv(EventJoinConversation, "c1"))
	drain(alice)
	drain(bob)
	r.NotifyNewMessage(MessagePayload{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "re", CreatedAt: time.Now()})
	recvEventOfType(t, alice, EventNewMessage)
	recvEventOfType(t, bob, EventNewMessage)

	// After leaving, bob stops receiving.
	r.HandleEvent(bob, clientEnv(EventLeaveConversation, "c1"))
	drain(bob)
	r.NotifyNewMessage(MessagePayload{ID: "m3", ConversationID: "c1", SenderID: "alice", Content: "encore", CreatedAt: time.Now()})
	recvEventOfType(t, alice, EventNewMessage)
	assertNoEvent(t, bob)
}

func TestDoubleJoinSingleDelivery(t *testing.T) {
	r := newTestRouter(0)
	bob := r.Connect("bob", newFakeConn())

	r.HandleEvent(bob, clientEnv(EventJoinConversation, "c1"))
	r.HandleEvent(bob, clientEnv(EventJoinConversation, "c1"))
	r.NotifyNewMessage(MessagePayload{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: time.Now()})

	recvEventOfType(t, bob, EventNewMessage)
	assertNoEvent(t, bob)
}

func TestLeaveNotJoinedIsSilent(t *testing.T) {
	r := newTestRouter(0)
	bob := r.Connect("bob", newFakeConn())

	r.HandleEvent(bob, clientEnv(EventLeaveConversation, "c1"))
	assertNoEvent(t, bob)
	assert.Equal(t, 1, r.SessionCount(), "benign no-op must not tear the session down")
}

func TestTypingRelayExcludesOriginUser(t *testing.T) {
	r := newTestRouter(0)
	aliceTab1 := r.Connect("alice", newFakeConn())
	aliceTab2 := r.Connect("alice", newFakeConn())
	bob := r.Connect("bob", newFakeConn())

	for _, s := range []*Session{aliceTab1, aliceTab2, bob} {
		r.HandleEvent(s, clientEnv(EventJoinConversation, "c1"))
	}
	drain(aliceTab1)
	drain(aliceTab2)
	drain(bob)

	r.HandleEvent(aliceTab1, clientEnv(EventTyping, "c1"))
	env := recvEventOfType(t, bob, EventUserTyping)
	payload, err := env.Payload()
	require.NoError(t, err)
	assert.Equal(t, TypingPayload{UserID: "alice"}, payload)
	assertNoEvent(t, aliceTab1)
	assertNoEvent(t, aliceTab2)

	r.HandleEvent(aliceTab1, clientEnv(EventStopTyping, "c1"))
	recvEventOfType(t, bob, EventUserStoppedTyping)
}

func TestTypingFromNonMemberDropped(t *testing.T) {
	r := newTestRouter(0)
	alice := r.Connect("alice", newFakeConn())
	bob := r.Connect("bob", newFakeConn())
	r.HandleEvent(bob, clientEnv(EventJoinConversation, "c1"))

	r.HandleEvent(alice, clientEnv(EventTyping, "c1"))
	assertNoEvent(t, bob)
	assert.Equal(t, 2, r.SessionCount())
}

func TestJoinExchangesPresence(t *testing.T) {
	r := newTestRouter(0)
	bob := r.Connect("bob", newFakeConn())
	r.HandleEvent(bob, clientEnv(EventJoinConversation, "c1"))
	assertNoEvent(t, bob)

	alice := r.Connect("alice", newFakeConn())
	r.HandleEvent(alice, clientEnv(EventJoinConversation, "c1"))

	env := recvEventOfType(t, bob, EventUserOnline)
	payload, err := env.Payload()
	require.NoError(t, err)
	assert.Equal(t, PresencePayload{UserID: "alice"}, payload)

	env = recvEventOfType(t, alice, EventUserOnline)
	payload, err = env.Payload()
	require.NoError(t, err)
	assert.Equal(t, PresencePayload{UserID: "bob"}, payload)
}

func TestOfflineBroadcastScopedToSharedConversations(t *testing.T) {
	r := newTestRouter(0)
	alice := r.Connect("alice", newFakeConn())
	bob := r.Connect("bob", newFakeConn())
	carol := r.Connect("carol", newFakeConn())

	r.HandleEvent(alice, clientEnv(EventJoinConversation, "c1"))
	r.HandleEvent(bob, clientEnv(EventJoinConversation, "c1"))
	r.HandleEvent(carol, clientEnv(EventJoinConversation, "c2"))
	drain(alice)
	drain(bob)
	drain(carol)

	r.Disconnect(alice)

	env := recvEventOfType(t, bob, EventUserOffline)
	payload, err := env.Payload()
	require.NoError(t, err)
	assert.Equal(t, PresencePayload{UserID: "alice"}, payload)
	assertNoEvent(t, carol)
}

func TestMultiTabDisconnectKeepsUserOnline(t *testing.T) {
	r := newTestRouter(0)
	aliceTab1 := r.Connect("alice", newFakeConn())
	aliceTab2 := r.Connect("alice", newFakeConn())
	bob := r.Connect("bob", newFakeConn())

	r.HandleEvent(aliceTab1, clientEnv(EventJoinConversation, "c1"))
	r.HandleEvent(aliceTab2, clientEnv(EventJoinConversation, "c1"))
	r.HandleEvent(bob, clientEnv(EventJoinConversation, "c1"))
	drain(bob)

	r.Disconnect(aliceTab1)
	assertNoEvent(t, bob)

	r.Disconnect(aliceTab2)
	recvEventOfType(t, bob, EventUserOffline)
}

func TestWriteFailureEvictsOnlyThatSession(t *testing.T) {
	r := newTestRouter(0)
	broken := newFakeConn()
	broken.failWrite = true
	bob := r.Connect("bob", broken)
	carol := r.Connect("carol", newFakeConn())

	r.HandleEvent(bob, clientEnv(EventJoinConversation, "c1"))
	r.HandleEvent(carol, clientEnv(EventJoinConversation, "c1"))
	drain(carol)

	go bob.WritePump(r)
	r.NotifyNewMessage(MessagePayload{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: time.Now()})

	recvEventOfType(t, carol, EventNewMessage)
	require.Eventually(t, func() bool { return r.SessionCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestReadPumpDropsMalformedFrames(t *testing.T) {
	r := newTestRouter(0)
	conn := newFakeConn()
	alice := r.Connect("alice", conn)

	done := make(chan struct{})
	go func() {
		alice.ReadPump(r)
		close(done)
	}()

	conn.frames <- []byte(`{garbage`)
	join, err := json.Marshal(clientEnv(EventJoinConversation, "c1"))
	require.NoError(t, err)
	conn.frames <- join

	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.members.isMember(alice.ID, "c1")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.SessionCount(), "malformed frame must not tear the connection down")

	close(conn.frames)
	<-done
	assert.Equal(t, 0, r.SessionCount())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := newTestRouter(0)
	alice := r.Connect("alice", newFakeConn())
	r.Disconnect(alice)
	r.Disconnect(alice)
	assert.Equal(t, 0, r.SessionCount())
}
