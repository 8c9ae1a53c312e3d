package chat

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// ConnLike is the slice of the websocket connection the session needs.
// Tests substitute scripted fakes.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Session is one authenticated live socket. A user may hold several
// concurrent sessions (multi-tab); each gets its own Session record.
type Session struct {
	ID          string
	UserID      string
	ConnectedAt time.Time
	Conn        ConnLike
	Send        chan []byte
}

func NewSession(userID string, conn ConnLike) *Session {
	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		Conn:        conn,
		Send:        make(chan []byte, 16),
	}
}

// ReadPump drains inbound frames until the socket errors, handing decoded
// events to the router. Malformed frames are dropped without tearing the
// connection down.
func (s *Session) ReadPump(r *Router) {
	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			r.Disconnect(s)
			return
		}
		env, err := DecodeClientEvent(data)
		if err != nil {
			r.log.Debug().Str("session", s.ID).Err(err).Msg("dropping malformed event")
			continue
		}
		r.HandleEvent(s, env)
	}
}

// WritePump serializes socket writes for the session. A write failure evicts
// the session; broadcasts to other sessions are unaffected.
func (s *Session) WritePump(r *Router) {
	for data := range s.Send {
		if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			r.log.Debug().Str("session", s.ID).Err(err).Msg("session write failed")
			r.Disconnect(s)
			return
		}
	}
	_ = s.Conn.Close()
}
