package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/internal/domain"
)

// Broadcaster fans execution results out to connected websocket clients.
// Delivery is best-effort: a slow or dead client is dropped, never awaited.
type Broadcaster struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		clients:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   logger,
	}
}

// PublishResult sends one execution result to every connected client.
func (b *Broadcaster) PublishResult(res domain.ExecutionResult) {
	msg, err := json.Marshal(res)
	if err != nil {
		b.logger.Error("failed to marshal execution result", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			b.logger.Debug("dropping websocket client", zap.Error(err))
			conn.Close()
			delete(b.clients, conn)
		}
	}
}

// Handler accepts websocket subscriptions for the execution stream.
func (b *Broadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		b.mu.Lock()
		b.clients[conn] = struct{}{}
		b.mu.Unlock()

		// read loop drains control frames and detects disconnects
		go func() {
			defer func() {
				b.mu.Lock()
				delete(b.clients, conn)
				b.mu.Unlock()
				conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
