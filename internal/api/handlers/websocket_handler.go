package handlers

import (
	"sync"

	"github.com/gofiber/websocket/v2"

	"github.com/sop-forge/backend/internal/pipeline"
	"github.com/sop-forge/backend/pkg/logger"
)

// eventBuffer bounds per-client queues; a client that cannot keep up loses
// older events rather than stalling the pipeline.
const eventBuffer = 64

// WebSocketHandler streams pipeline progress events to connected clients.
type WebSocketHandler struct {
	mu      sync.Mutex
	clients map[chan pipeline.Event]struct{}
}

func NewWebSocketHandler(orchestrator *pipeline.Orchestrator) *WebSocketHandler {
	h := &WebSocketHandler{
		clients: make(map[chan pipeline.Event]struct{}),
	}
	orchestrator.Subscribe(h.broadcast)
	return h
}

func (h *WebSocketHandler) broadcast(event pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Drop the oldest event to make room for the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

func (h *WebSocketHandler) subscribe() chan pipeline.Event {
	ch := make(chan pipeline.Event, eventBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *WebSocketHandler) unsubscribe(ch chan pipeline.Event) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// HandleConnection pushes run progress as JSON until the client
// disconnects. Incoming messages are ignored; the socket is one-way.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ch := h.subscribe()
	done := make(chan struct{})

	defer func() {
		h.unsubscribe(ch)
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// Reader exists only to observe the close frame.
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-ch:
			if err := c.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
