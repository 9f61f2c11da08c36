package gateway

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// healthResponse is the JSON structure used by healthHandler
type healthResponse struct {
	Status          string    `json:"status"`
	Node            string    `json:"node,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	Uptime          string    `json:"uptime"`
	Channels        int       `json:"channels"`
	DeliveryEnabled bool      `json:"delivery_enabled"`
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		Node:            g.nodeID,
		StartedAt:       g.startedAt,
		Uptime:          time.Since(g.startedAt).String(),
		Channels:        g.registry.Size(),
		DeliveryEnabled: g.registry.Enabled(),
	})
}

func (g *Gateway) registryStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  g.registry.Enabled(),
		"channels": g.registry.Size(),
	})
}

// setEnabledHandler handles PUT /v1/registry/enabled {enabled}
func (g *Gateway) setEnabledHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	if body.Enabled == nil {
		g.writeError(w, r, apperrors.NewValidationError("enabled", "is required", nil))
		return
	}

	g.registry.SetEnabled(*body.Enabled)
	g.logger.ComponentInfo(logging.ComponentGateway, "Delivery toggled via API",
		zap.Bool("enabled", *body.Enabled),
		zap.String("client_ip", getClientIP(r)))
	writeJSON(w, http.StatusOK, map[string]any{"enabled": *body.Enabled})
}
