// Package delivery builds the message handlers attached to delivery channels.
// A handler is shared by every subscription on its channel and routes each
// message by the endpoint and subscription id it carries.
package delivery

import (
	"net/http"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/config"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// Factory implements channel.HandlerFactory.
type Factory struct {
	cfg    config.DeliveryConfig
	hub    *Hub
	client *http.Client
	logger *logging.ColoredLogger
}

// NewFactory creates a handler factory. hub may be nil, in which case
// websocket channels get no handler.
func NewFactory(cfg config.DeliveryConfig, hub *Hub, logger *logging.ColoredLogger) *Factory {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Factory{
		cfg:    cfg,
		hub:    hub,
		client: &http.Client{Timeout: cfg.RestHookTimeout},
		logger: logger,
	}
}

// CreateDeliveryHandler returns the handler for channels of type t, or none
// when messages of that type are only carried by the transport.
func (f *Factory) CreateDeliveryHandler(t channel.ChannelType) (channel.Optional[channel.MessageHandler], error) {
	switch t {
	case channel.TypeRestHook:
		return channel.Some[channel.MessageHandler](NewRestHookHandler(f.client, f.cfg.RestHookHeaders, f.logger)), nil
	case channel.TypeWebSocket:
		if f.hub == nil {
			return channel.None[channel.MessageHandler](), nil
		}
		return channel.Some[channel.MessageHandler](NewWebSocketHandler(f.hub)), nil
	case channel.TypeEmail:
		if f.cfg.SMTP.Host == "" {
			return channel.None[channel.MessageHandler](), nil
		}
		return channel.Some[channel.MessageHandler](NewEmailHandler(f.cfg.SMTP, f.logger)), nil
	case channel.TypeSMS, channel.TypeMessage:
		return channel.None[channel.MessageHandler](), nil
	default:
		return channel.None[channel.MessageHandler](), apperrors.NewValidationError("channel_type", "unknown channel type", string(t))
	}
}
