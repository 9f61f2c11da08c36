package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/subscription"
)

// subscriptionRequest is the client-supplied part of a subscription.
type subscriptionRequest struct {
	ID          string            `json:"id"`
	ChannelType string            `json:"channel_type"`
	Endpoint    string            `json:"endpoint"`
	RoutingKey  string            `json:"routing_key"`
	Criteria    string            `json:"criteria"`
	Headers     map[string]string `json:"headers"`
}

func (req subscriptionRequest) toSubscription() *subscription.ActiveSubscription {
	return &subscription.ActiveSubscription{
		ID:         req.ID,
		Type:       channel.ChannelType(req.ChannelType),
		Endpoint:   req.Endpoint,
		RoutingKey: req.RoutingKey,
		Criteria:   req.Criteria,
		Headers:    req.Headers,
	}
}

func (g *Gateway) listSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	subs, err := g.service.List(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*subscription.ActiveSubscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

func (g *Gateway) createSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	sub, err := g.service.Activate(r.Context(), req.toSubscription())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (g *Gateway) getSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := g.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (g *Gateway) updateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	// The path wins over any id in the body.
	req.ID = chi.URLParam(r, "id")

	sub, err := g.service.Update(r.Context(), req.toSubscription())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (g *Gateway) deleteSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	if err := g.service.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		g.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// notifyHandler handles POST /v1/subscriptions/{id}/notify {payload_base64, content_type}
func (g *Gateway) notifyHandler(w http.ResponseWriter, r *http.Request) {
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

	msg, err := g.service.Notify(r.Context(), chi.URLParam(r, "id"), payload, body.ContentType)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": msg.ID,
		"channel":    msg.Channel,
	})
}
