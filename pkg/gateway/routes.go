package gateway

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(g.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	timeout := middleware.Timeout(g.cfg.RequestTimeout)

	r.Get("/health", g.healthHandler)

	r.Route("/v1/channels", func(r chi.Router) {
		r.Use(timeout)
		r.Get("/", g.listChannelsHandler)
		r.Get("/{name}", g.getChannelHandler)
		r.With(g.rateLimitMiddleware).Post("/{name}/publish", g.publishHandler)
	})

	r.Route("/v1/subscriptions", func(r chi.Router) {
		// Long-lived websocket connections stay outside the request timeout.
		r.Get("/{id}/ws", g.subscriptionWebsocketHandler)

		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Get("/", g.listSubscriptionsHandler)
			r.Post("/", g.createSubscriptionHandler)
			r.Get("/{id}", g.getSubscriptionHandler)
			r.Put("/{id}", g.updateSubscriptionHandler)
			r.Delete("/{id}", g.deleteSubscriptionHandler)
			r.With(g.rateLimitMiddleware).Post("/{id}/notify", g.notifyHandler)
		})
	})

	r.Route("/v1/registry", func(r chi.Router) {
		r.Use(timeout)
		r.Get("/", g.registryStatusHandler)
		r.Put("/enabled", g.setEnabledHandler)
	})

	return r
}
