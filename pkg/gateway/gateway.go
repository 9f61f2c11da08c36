// Package gateway exposes the subscription service and channel registry over
// HTTP, including a websocket endpoint that attaches clients to the delivery
// hub.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/config"
	"github.com/DeBrosOfficial/subchannel/pkg/delivery"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
	"github.com/DeBrosOfficial/subchannel/pkg/subscription"
)

// Gateway serves the HTTP API of one node
type Gateway struct {
	logger   *logging.ColoredLogger
	cfg      config.HTTPGatewayConfig
	nodeID   string
	service  *subscription.Service
	registry *channel.Registry
	hub      *delivery.Hub
	router   chi.Router
	server   *http.Server

	rateLimiter *RateLimiter
	stopCleanup chan struct{}

	addr      net.Addr
	startedAt time.Time
}

// New creates a gateway over service. hub may be nil when websocket delivery
// is not offered.
func New(cfg config.HTTPGatewayConfig, nodeID string, service *subscription.Service, hub *delivery.Hub, logger *logging.ColoredLogger) *Gateway {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	g := &Gateway{
		logger:    logger,
		cfg:       cfg,
		nodeID:    nodeID,
		service:   service,
		registry:  service.Registry(),
		hub:       hub,
		startedAt: time.Now(),
	}
	if cfg.RateLimitPerMinute > 0 {
		g.rateLimiter = NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst, cfg.TrustedCIDRs)
	}
	g.router = g.routes()
	return g
}

// Router returns the chi router for testing or extension
func (g *Gateway) Router() chi.Router {
	return g.router
}

// Start listens on the configured address and serves in the background.
// It returns once the listener is bound.
func (g *Gateway) Start() error {
	listener, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.cfg.ListenAddr, err)
	}

	g.addr = listener.Addr()
	g.server = &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.ComponentInfo(logging.ComponentGateway, "HTTP gateway listening",
		zap.String("node_id", g.nodeID),
		zap.String("listen_addr", listener.Addr().String()),
	)

	if g.rateLimiter != nil {
		g.stopCleanup = make(chan struct{})
		go g.rateLimiter.cleanupLoop(g.stopCleanup, time.Minute, 10*time.Minute)
	}

	go func() {
		if err := g.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			g.logger.ComponentError(logging.ComponentGateway, "HTTP gateway server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	return g.addr
}

// Stop gracefully stops the server
func (g *Gateway) Stop(ctx context.Context) error {
	if g == nil || g.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.ShutdownTimeout)
	defer cancel()

	if g.stopCleanup != nil {
		close(g.stopCleanup)
		g.stopCleanup = nil
	}

	g.logger.ComponentInfo(logging.ComponentGateway, "HTTP gateway shutting down")
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.ComponentError(logging.ComponentGateway, "HTTP gateway shutdown error", zap.Error(err))
		return err
	}
	g.logger.ComponentInfo(logging.ComponentGateway, "HTTP gateway shutdown complete")
	return nil
}
