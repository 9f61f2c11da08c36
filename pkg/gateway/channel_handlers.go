package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
)

func (g *Gateway) listChannelsHandler(w http.ResponseWriter, r *http.Request) {
	channels := g.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"count":    len(channels),
	})
}

func (g *Gateway) getChannelHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stats, ok := g.registry.Stats(name)
	if !ok {
		g.writeError(w, r, apperrors.NewNotFoundError("channel", name))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// publishHandler handles POST /v1/channels/{name}/publish {payload_base64, content_type}
func (g *Gateway) publishHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body payloadRequest
	if err := decodeJSON(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	payload, err := body.decode()
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	sent, err := g.service.Publish(r.Context(), name, payload, body.ContentType)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": name, "sent": sent})
}
