package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// Websocket hub
// =============================================================================

// subscriberBuffer bounds how many events a slow client may lag behind
// before it is dropped.
const subscriberBuffer = 16

// writeTimeout bounds a single frame write toward a client.
const writeTimeout = 5 * time.Second

// subscriber is one connected client.
type subscriber struct {
	userID string
	ch     chan []byte
}

// Hub broadcasts lifecycle events to websocket subscribers. A
// subscriber only receives events for its own user; events without a
// user go to everyone.
type Hub struct {
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger.With(zap.String("component", "events_hub")),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Emit implements Emitter. Slow subscribers are disconnected rather
// than ever blocking the caller.
func (h *Hub) Emit(_ context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode event failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		if sub.userID != "" && event.UserID != "" && sub.userID != event.UserID {
			continue
		}
		select {
		case sub.ch <- data:
		default:
			close(sub.ch)
			delete(h.subscribers, sub)
			h.logger.Warn("dropping slow event subscriber", zap.String("user_id", sub.userID))
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close disconnects all subscribers and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, sub)
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects. The caller supplies the authenticated user via
// UserIDFromContext middleware or the user_id query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "hub shutting down")

	userID := r.URL.Query().Get("user_id")
	sub, err := h.subscribe(userID)
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "hub closed")
		return
	}
	defer h.unsubscribe(sub)

	// Reads are discarded; the stream is one-way. CloseRead also gives
	// us a context that ends when the client goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			if err := writeFrame(ctx, conn, data); err != nil {
				return
			}
		}
	}
}

func (h *Hub) subscribe(userID string) (*subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, context.Canceled
	}
	sub := &subscriber{
		userID: userID,
		ch:     make(chan []byte, subscriberBuffer),
	}
	h.subscribers[sub] = struct{}{}
	return sub, nil
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, sub)
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
