package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/atrium-crm/chatcore/internal/auth"
	"github.com/atrium-crm/chatcore/internal/chat"
	"github.com/atrium-crm/chatcore/internal/metrics"
	"github.com/atrium-crm/chatcore/internal/store"
)

type Handler struct {
	router   *chat.Router
	store    store.Store
	verifier auth.Verifier
	log      zerolog.Logger
}

func New(router *chat.Router, st store.Store, verifier auth.Verifier, log zerolog.Logger) *Handler {
	return &Handler{
		router:   router,
		store:    st,
		verifier: verifier,
		log:      log.With().Str("component", "handlers").Logger(),
	}
}

func (h *Handler) Register(app *fiber.App) {
	app.Get("/ws/chat", h.wsGuard, websocket.New(h.WSConnect))
	app.Get("/api/conversations", h.ListConversations)
	app.Post("/api/messages", h.CreateMessage)
	app.Post("/api/conversations/:id/read", h.MarkRead)
	app.Get("/healthz", h.Health)
}

// wsGuard verifies the access token before the upgrade, so a bad token is
// refused with 401 instead of an accepted-then-dropped socket.
func (h *Handler) wsGuard(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID, err := h.verifier.Verify(c.Query("token"))
	if err != nil {
		metrics.AuthFailuresTotal.Inc()
		h.log.Warn().Err(err).Msg("websocket connect refused")
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	c.Locals("userID", userID)
	return c.Next()
}

// WSConnect GET /ws/chat?token=<accessToken>
func (h *Handler) WSConnect(c *websocket.Conn) {
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		_ = c.Close()
		return
	}
	session := h.router.Connect(userID, c)
	go session.WritePump(h.router)
	session.ReadPump(h.router)
}

// ListConversations GET /api/conversations?userId=
func (h *Handler) ListConversations(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing userId"})
	}
	convs, err := h.store.ListConversations(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("list conversations")
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	unread, err := h.store.UnreadCounts(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("unread counts")
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{"conversations": convs, "unread": unread})
}

type createMessageRequest struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
}

// CreateMessage POST /api/messages
//
// The persistence write always happens; the socket fan-out afterwards only
// reaches currently joined sessions. Offline participants see the message on
// their next fetch.
func (h *Handler) CreateMessage(c *fiber.Ctx) error {
	var req createMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.ConversationID == "" || req.SenderID == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "conversationId, senderId and content are required"})
	}
	msg, err := h.store.CreateMessage(c.Context(), req.ConversationID, req.SenderID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return c.SendStatus(fiber.StatusNotFound)
		case errors.Is(err, store.ErrNotParticipant):
			return c.SendStatus(fiber.StatusForbidden)
		default:
			h.log.Error().Err(err).Msg("create message")
			return c.SendStatus(fiber.StatusInternalServerError)
		}
	}
	h.router.NotifyNewMessage(chat.MessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkRead POST /api/conversations/:id/read?userId=
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	userID := strings.TrimSpace(c.Query("userId"))
	if conversationID == "" || userID == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if err := h.store.MarkRead(c.Context(), userID, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		h.log.Error().Err(err).Msg("mark read")
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	h.router.NotifyRead(conversationID, userID)
	return c.SendStatus(fiber.StatusNoContent)
}

// Health GET /healthz
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "sessions": h.router.SessionCount()})
}
