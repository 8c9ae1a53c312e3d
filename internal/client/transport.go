package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/atrium-crm/chatcore/internal/chat"
)

var ErrNotConnected = errors.New("client: transport not connected")

// TransportOptions configures the socket lifecycle. OnMessage and Refresh
// must not block; they run on the transport's goroutines.
type TransportOptions struct {
	URL           string // ws://host/ws/chat?token=<accessToken>
	OnMessage     func(chat.Envelope)
	OnStateChange func(connected bool)

	// Refresh is the polling fallback: invalidate and refetch the snapshot.
	// It fires every PollDisconnected while the socket is down and every
	// PollConnected while it is up, so missed pushes are eventually repaired.
	Refresh          func()
	PollConnected    time.Duration
	PollDisconnected time.Duration

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	Logger zerolog.Logger
}

// Transport owns one websocket to the chat server: dial, read, reconnect
// with backoff, and the polling timer. Push is the low-latency path, polling
// the correctness backstop.
type Transport struct {
	opts TransportOptions

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	gen       int
	closed    bool
	done      chan struct{}
}

func NewTransport(opts TransportOptions) *Transport {
	if opts.PollConnected <= 0 {
		opts.PollConnected = 30 * time.Second
	}
	if opts.PollDisconnected <= 0 {
		opts.PollDisconnected = 5 * time.Second
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Transport{
		opts: opts,
		done: make(chan struct{}),
	}
}

// Connect starts the dial/read loop and the polling timer.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.runLoop(gen)
	go t.pollLoop(gen)
}

func (t *Transport) runLoop(gen int) {
	backoff := t.opts.ReconnectMin
	for {
		if t.stale(gen) {
			return
		}
		conn, resp, err := websocket.DefaultDialer.Dial(t.opts.URL, nil)
		if err != nil {
			if resp != nil {
				t.opts.Logger.Warn().Int("status", resp.StatusCode).Err(err).Msg("dial refused")
			} else {
				t.opts.Logger.Warn().Err(err).Msg("dial failed")
			}
			if !t.wait(backoff) {
				return
			}
			backoff = min(backoff*2, t.opts.ReconnectMax)
			continue
		}

		t.mu.Lock()
		if t.closed || gen != t.gen {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.connected = true
		t.mu.Unlock()

		t.opts.Logger.Info().Msg("transport connected")
		t.notifyState(true)
		backoff = t.opts.ReconnectMin

		t.readLoop(conn)

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.connected = false
		closed := t.closed || gen != t.gen
		t.mu.Unlock()

		if closed {
			return
		}
		t.opts.Logger.Warn().Msg("transport disconnected, will reconnect")
		t.notifyState(false)
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return
		}
		var env chat.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.opts.Logger.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		if t.opts.OnMessage != nil {
			t.opts.OnMessage(env)
		}
	}
}

func (t *Transport) pollLoop(gen int) {
	for {
		interval := t.opts.PollDisconnected
		if t.Connected() {
			interval = t.opts.PollConnected
		}
		if !t.wait(interval) {
			return
		}
		if t.stale(gen) {
			return
		}
		if t.opts.Refresh != nil {
			t.opts.Refresh()
		}
	}
}

// wait sleeps for d unless the transport is torn down first.
func (t *Transport) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return false
	case <-timer.C:
		return true
	}
}

func (t *Transport) stale(gen int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed || gen != t.gen
}

func (t *Transport) notifyState(connected bool) {
	if t.opts.OnStateChange != nil {
		t.opts.OnStateChange(connected)
	}
}

// Send writes one event. Fails fast while disconnected; the caller decides
// whether the event is droppable (typing) or must be retried (nothing else —
// messages go through REST, not the socket).
func (t *Transport) Send(env chat.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || !t.connected {
		return ErrNotConnected
	}
	return t.conn.WriteJSON(env)
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// ForceReconnect drops the current socket so the run loop redials
// immediately. Exposed to the UI as the manual recovery action.
func (t *Transport) ForceReconnect() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close tears the transport down for good. Late timer or reconnect callbacks
// cannot revive it: the generation moves on and done is closed.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.gen++
	conn := t.conn
	t.conn = nil
	t.connected = false
	close(t.done)
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
