package handler

import (
	"meddoc-assistant-be/internal/pkg/logger"
	internalWS "meddoc-assistant-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// DeliveryHandler exposes the websocket endpoint a client opens to watch a
// chat session. Message updates produced by the reveal loop stream over this
// connection.
type DeliveryHandler struct {
	hub    *internalWS.Hub
	logger logger.ILogger
}

func NewDeliveryHandler(hub *internalWS.Hub, log logger.ILogger) *DeliveryHandler {
	return &DeliveryHandler{
		hub:    hub,
		logger: log,
	}
}

// ServeWs handles websocket requests from the peer.
func (h *DeliveryHandler) ServeWs(c *fiber.Ctx) error {
	// The session to watch comes as a query param; the dashboard only ever
	// watches the session it is rendering.
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing session_id query parameter"})
	}

	// Upgrade via Fiber WebSocket Middleware
	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(c *websocket.Conn) {
			h.logger.Info("DeliveryHandler", "Starting WebSocket session", map[string]interface{}{"session_id": sessionID})
			internalWS.ServeWs(h.hub, c, sessionID)
			h.logger.Info("DeliveryHandler", "WebSocket session ended", map[string]interface{}{"session_id": sessionID})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}

// RegisterRoutes registers the delivery watch route.
func (h *DeliveryHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws", h.ServeWs)
}
