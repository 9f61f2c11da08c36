package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 4 << 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscriptionWebsocketHandler attaches the caller to a websocket
// subscription's delivery hub until either side closes. Client frames are
// ignored apart from keeping the connection alive.
func (g *Gateway) subscriptionWebsocketHandler(w http.ResponseWriter, r *http.Request) {
	if g.hub == nil {
		g.writeError(w, r, apperrors.NewServiceError("websocket", "websocket delivery not enabled", nil))
		return
	}

	id := chi.URLParam(r, "id")
	sub, err := g.service.Get(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if sub.Type != channel.TypeWebSocket {
		g.writeError(w, r, apperrors.NewValidationError("channel_type", "subscription is not a websocket subscription", string(sub.Type)))
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "subscription ws: upgrade failed",
			zap.String("subscription_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	detach := g.hub.Attach(id, conn)
	defer detach()

	g.logger.ComponentInfo(logging.ComponentGateway, "subscription ws: client attached",
		zap.String("subscription_id", id),
		zap.String("client_ip", getClientIP(r)))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			case <-done:
				return
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	g.logger.ComponentInfo(logging.ComponentGateway, "subscription ws: client detached",
		zap.String("subscription_id", id))
}
