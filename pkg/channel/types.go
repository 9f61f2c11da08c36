package channel

import (
	"context"
	"time"
)

// ChannelType discriminates how messages on a channel are delivered.
type ChannelType string

const (
	TypeRestHook  ChannelType = "rest-hook"
	TypeWebSocket ChannelType = "websocket"
	TypeEmail     ChannelType = "email"
	TypeSMS       ChannelType = "sms"
	TypeMessage   ChannelType = "message"
)

// Valid reports whether t is one of the known channel types.
func (t ChannelType) Valid() bool {
	switch t {
	case TypeRestHook, TypeWebSocket, TypeEmail, TypeSMS, TypeMessage:
		return true
	}
	return false
}

// Message is one event notification flowing through a delivery channel.
type Message struct {
	ID             string            `json:"id"`
	Channel        string            `json:"channel"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Endpoint       string            `json:"endpoint,omitempty"`
	ContentType    string            `json:"content_type,omitempty"`
	Payload        []byte            `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// MessageHandler processes messages arriving on a channel. A returned error
// is logged by the transport and does not stop delivery to other handlers.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(ctx context.Context, msg *Message) error

// HandleMessage calls f(ctx, msg).
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// HandlerID identifies one handler registration on a delivery channel.
type HandlerID string

// DeliveryChannel is a physically-backed transport that carries messages to
// the handlers subscribed to it. Implementations must be safe for concurrent
// use. After Close returns no handler may be invoked again.
type DeliveryChannel interface {
	Subscribe(h MessageHandler) (HandlerID, error)
	Unsubscribe(id HandlerID) error
	Send(ctx context.Context, msg *Message) error
	Close() error
}

// DeliveryCounter is implemented by channels that count handler outcomes.
type DeliveryCounter interface {
	DeliveryCounts() (delivered, failed int64)
}

// Subscription is the view of an active subscription the registry needs.
type Subscription interface {
	SubscriptionID() string
	ChannelName() string
	ChannelType() ChannelType
}

// Registration is a minimal Subscription value.
type Registration struct {
	ID   string
	Name string
	Type ChannelType
}

func (r Registration) SubscriptionID() string   { return r.ID }
func (r Registration) ChannelName() string      { return r.Name }
func (r Registration) ChannelType() ChannelType { return r.Type }
