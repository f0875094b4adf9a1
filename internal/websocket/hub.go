package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Hub fans message updates out to websocket clients watching a chat session.
// Clients subscribe to a session id; every delivery-state change on a message
// in that session is pushed to them as it happens, so the frontend can render
// the reveal animation without polling.
type Hub struct {
	// Instance identity, used to drop our own frames coming back over Redis.
	id string

	// Watching clients map: session id -> list of clients (multi-tab)
	clients map[string][]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Lock for safe map access
	mu sync.RWMutex

	// Redis connection for cross-instance communication
	rdb *redis.Client

	// Dedicated Logger
	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		id:         uuid.NewString(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		logger:     log,
	}
}

func (h *Hub) Run() {
	// Start Redis subscriber if Redis is available
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"session_id": client.SessionID})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.SessionID]; ok {
				for i, c := range clients {
					if c == client {
						// Remove from slice
						h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.SessionID]) == 0 {
					delete(h.clients, client.SessionID)
					h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"session_id": client.SessionID})
				}
			}
			h.mu.Unlock()
		}
	}
}

// MessageUpdated pushes the current state of a message to every client
// watching its session. Implements the delivery listener hook of the
// message lifecycle controller, so reveal ticks arrive here.
func (h *Hub) MessageUpdated(sessionID string, msg entity.Message) {
	// 1. Serialize
	data, _ := json.Marshal(map[string]interface{}{
		"type":       "message_update",
		"session_id": sessionID,
		"data":       msg,
	})

	// 2. Deliver to watchers on this instance
	h.deliverLocal(sessionID, data)

	// 3. Publish to Redis so other instances holding a watcher can deliver.
	// Frames carry our instance id; the subscriber skips them so local
	// watchers are not served twice.
	if h.rdb != nil {
		payload := map[string]interface{}{
			"origin":            h.id,
			"target_session_id": sessionID,
			"message":           json.RawMessage(data),
		}
		jsonPayload, _ := json.Marshal(payload)
		h.rdb.Publish(context.Background(), "assistant_events", jsonPayload)
	}
}

// deliverLocal pushes one frame to every local watcher of the session. A
// client whose Send buffer is full gets handed to the unregister loop, which
// owns the single close of the channel. Sends happen under the read lock and
// the close under the write lock, so a frame can never hit a closed channel.
func (h *Hub) deliverLocal(sessionID string, data []byte) {
	var stalled []*Client

	h.mu.RLock()
	for _, client := range h.clients[sessionID] {
		select {
		case client.Send <- data:
		default:
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stalled {
		h.logger.Warn("Hub", "Client Send buffer full, dropping client", map[string]interface{}{"session_id": sessionID})
		h.unregister <- client
	}
}

func (h *Hub) subscribeToRedis() {
	// Every instance subscribes to "assistant_events". When a message update
	// arrives, check whether the target session is watched locally; if yes,
	// forward it, otherwise drop it.
	ctx := context.Background()
	pubsub := h.rdb.Subscribe(ctx, "assistant_events")
	defer pubsub.Close()

	ch := pubsub.Channel()

	for msg := range ch {
		h.handleRedisFrame([]byte(msg.Payload))
	}
}

func (h *Hub) handleRedisFrame(raw []byte) {
	var payload struct {
		Origin          string          `json:"origin"`
		TargetSessionID string          `json:"target_session_id"`
		Message         json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("Redis msg parse error: %v", err)
		return
	}
	if payload.Origin == h.id {
		// Our own frame; local watchers were already served.
		return
	}

	h.deliverLocal(payload.TargetSessionID, payload.Message)
}
