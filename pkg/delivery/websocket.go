package delivery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// Envelope is the JSON frame written to websocket clients.
type Envelope struct {
	ID             string `json:"id"`
	Channel        string `json:"channel"`
	SubscriptionID string `json:"subscription_id"`
	Data           string `json:"data"` // base64 payload
	ContentType    string `json:"content_type,omitempty"`
	Timestamp      int64  `json:"timestamp"` // unix millis
}

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

type hubConn struct {
	conn Conn
	mu   sync.Mutex
}

// Hub tracks websocket clients attached to subscriptions.
type Hub struct {
	writeTimeout time.Duration
	logger       *logging.ColoredLogger

	mu    sync.RWMutex
	conns map[string]map[*hubConn]struct{}
}

// NewHub creates a hub. writeTimeout bounds every frame write.
func NewHub(writeTimeout time.Duration, logger *logging.ColoredLogger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{
		writeTimeout: writeTimeout,
		logger:       logger,
		conns:        make(map[string]map[*hubConn]struct{}),
	}
}

// Attach registers conn for subscriptionID. The returned function detaches it
// and may be called more than once.
func (h *Hub) Attach(subscriptionID string, conn Conn) (detach func()) {
	hc := &hubConn{conn: conn}

	h.mu.Lock()
	set, ok := h.conns[subscriptionID]
	if !ok {
		set = make(map[*hubConn]struct{})
		h.conns[subscriptionID] = set
	}
	set[hc] = struct{}{}
	h.mu.Unlock()

	h.logger.ComponentDebug(logging.ComponentDelivery, "Websocket attached",
		zap.String("subscription_id", subscriptionID))

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(subscriptionID, hc) })
	}
}

func (h *Hub) remove(subscriptionID string, hc *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[subscriptionID]; ok {
		delete(set, hc)
		if len(set) == 0 {
			delete(h.conns, subscriptionID)
		}
	}
}

// Count returns the number of clients attached to subscriptionID.
func (h *Hub) Count(subscriptionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[subscriptionID])
}

// Broadcast writes msg to every client attached to its subscription and
// returns how many writes succeeded. Clients whose write fails are closed
// and dropped.
func (h *Hub) Broadcast(msg *channel.Message) (int, error) {
	frame, err := json.Marshal(Envelope{
		ID:             msg.ID,
		Channel:        msg.Channel,
		SubscriptionID: msg.SubscriptionID,
		Data:           base64.StdEncoding.EncodeToString(msg.Payload),
		ContentType:    msg.ContentType,
		Timestamp:      msg.Timestamp.UnixMilli(),
	})
	if err != nil {
		return 0, fmt.Errorf("encode envelope: %w", err)
	}

	h.mu.RLock()
	targets := make([]*hubConn, 0, len(h.conns[msg.SubscriptionID]))
	for hc := range h.conns[msg.SubscriptionID] {
		targets = append(targets, hc)
	}
	h.mu.RUnlock()

	sent := 0
	for _, hc := range targets {
		hc.mu.Lock()
		_ = hc.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		err := hc.conn.WriteMessage(websocket.TextMessage, frame)
		hc.mu.Unlock()
		if err != nil {
			h.logger.ComponentWarn(logging.ComponentDelivery, "Dropping websocket client",
				zap.String("subscription_id", msg.SubscriptionID),
				zap.Error(err))
			_ = hc.conn.Close()
			h.remove(msg.SubscriptionID, hc)
			continue
		}
		sent++
	}
	return sent, nil
}

// WebSocketHandler forwards messages to the hub.
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates a handler writing to hub.
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleMessage fails when no client is attached to the message's
// subscription, so the transport logs undelivered notifications.
func (w *WebSocketHandler) HandleMessage(_ context.Context, msg *channel.Message) error {
	n, err := w.hub.Broadcast(msg)
	if err != nil {
		return apperrors.NewChannelError(msg.Channel, apperrors.OpDeliver, err)
	}
	if n == 0 {
		return apperrors.NewChannelError(msg.Channel, apperrors.OpDeliver,
			fmt.Errorf("no websocket attached for subscription %s", msg.SubscriptionID))
	}
	return nil
}
