// Package subscription keeps the set of active subscriptions, persists them
// and drives the channel registry as they are activated, updated and removed.
package subscription

import (
	"net/url"
	"strings"
	"time"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
)

// ActiveSubscription is a subscription whose notifications are being
// delivered.
type ActiveSubscription struct {
	ID         string              `json:"id"`
	Type       channel.ChannelType `json:"channel_type"`
	Endpoint   string              `json:"endpoint,omitempty"`
	RoutingKey string              `json:"routing_key,omitempty"`
	Criteria   string              `json:"criteria,omitempty"`
	Headers    map[string]string   `json:"headers,omitempty"`
	Channel    string              `json:"channel_name"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

var _ channel.Subscription = (*ActiveSubscription)(nil)

func (s *ActiveSubscription) SubscriptionID() string           { return s.ID }
func (s *ActiveSubscription) ChannelName() string              { return s.Channel }
func (s *ActiveSubscription) ChannelType() channel.ChannelType { return s.Type }

// Clone returns a deep copy.
func (s *ActiveSubscription) Clone() *ActiveSubscription {
	c := *s
	if s.Headers != nil {
		c.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// Validate checks the fields a client supplies.
func (s *ActiveSubscription) Validate() error {
	if !s.Type.Valid() {
		return apperrors.NewValidationError("channel_type", "unknown channel type", string(s.Type))
	}
	if strings.ContainsAny(s.RoutingKey, " \t\r\n") {
		return apperrors.NewValidationError("routing_key", "must not contain whitespace", s.RoutingKey)
	}

	switch s.Type {
	case channel.TypeRestHook:
		u, err := url.Parse(s.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperrors.NewValidationError("endpoint", "rest-hook endpoint must be an http(s) URL", s.Endpoint)
		}
	case channel.TypeEmail:
		if !strings.Contains(s.Endpoint, "@") {
			return apperrors.NewValidationError("endpoint", "email endpoint must contain an address", s.Endpoint)
		}
	case channel.TypeSMS:
		if s.Endpoint == "" {
			return apperrors.NewValidationError("endpoint", "sms endpoint is required", s.Endpoint)
		}
	}
	return nil
}

// NameFactory derives channel names. Subscriptions with the same type and
// routing key share a name and therefore a channel.
type NameFactory struct {
	Prefix string
}

// Name returns Prefix+type, or Prefix+type+"."+routingKey when a routing key
// is set.
func (f NameFactory) Name(t channel.ChannelType, routingKey string) string {
	if routingKey == "" {
		return f.Prefix + string(t)
	}
	return f.Prefix + string(t) + "." + routingKey
}
