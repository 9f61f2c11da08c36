package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

const defaultContentType = "application/fhir+json"

// RestHookHandler POSTs each message payload to the message endpoint.
type RestHookHandler struct {
	client  *http.Client
	headers map[string]string
	logger  *logging.ColoredLogger
}

// NewRestHookHandler creates a rest-hook handler. headers are added to every
// request before the per-message headers.
func NewRestHookHandler(client *http.Client, headers map[string]string, logger *logging.ColoredLogger) *RestHookHandler {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RestHookHandler{client: client, headers: headers, logger: logger}
}

func (h *RestHookHandler) HandleMessage(ctx context.Context, msg *channel.Message) error {
	if msg.Endpoint == "" {
		return apperrors.NewChannelError(msg.Channel, apperrors.OpDeliver, fmt.Errorf("message %s has no endpoint", msg.ID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Endpoint, bytes.NewReader(msg.Payload))
	if err != nil {
		return apperrors.NewChannelError(msg.Channel, apperrors.OpDeliver, fmt.Errorf("build request: %w", err))
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	for k, v := range msg.Headers {
		req.Header.Set(k, v)
	}
	if msg.SubscriptionID != "" {
		req.Header.Set("X-Subscription-ID", msg.SubscriptionID)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return apperrors.NewChannelError(msg.Channel, apperrors.OpDeliver, fmt.Errorf("post to %s: %w", msg.Endpoint, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.NewChannelError(msg.Channel, apperrors.OpDeliver,
			fmt.Errorf("endpoint %s returned %d", msg.Endpoint, resp.StatusCode))
	}

	h.logger.ComponentDebug(logging.ComponentDelivery, "Rest hook delivered",
		zap.String("channel", msg.Channel),
		zap.String("subscription_id", msg.SubscriptionID),
		zap.Int("status", resp.StatusCode))
	return nil
}
