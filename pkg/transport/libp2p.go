package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// LibP2PFactory builds channels on gossipsub topics named
// <namespace>.<channel name>. Messages are JSON encoded.
type LibP2PFactory struct {
	PubSub    *pubsub.PubSub
	Namespace string
	Logger    *logging.ColoredLogger
}

// TopicName returns the gossipsub topic used for a channel name.
func (f *LibP2PFactory) TopicName(name string) string {
	if f.Namespace == "" {
		return name
	}
	return fmt.Sprintf("%s.%s", f.Namespace, name)
}

// NewDeliveryChannel joins the topic and starts reading from it.
func (f *LibP2PFactory) NewDeliveryChannel(_ context.Context, name string) (channel.DeliveryChannel, error) {
	if f.PubSub == nil {
		return nil, fmt.Errorf("pubsub not initialized")
	}

	topicName := f.TopicName(name)
	topic, err := f.PubSub.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %s: %w", topicName, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topicName, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &libp2pChannel{
		dispatcher: newDispatcher(name, f.Logger),
		topicName:  topicName,
		topic:      topic,
		sub:        sub,
		ctx:        ctx,
		cancel:     cancel,
		stopped:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type libp2pChannel struct {
	*dispatcher

	topicName string
	topic     *pubsub.Topic
	sub       *pubsub.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	once      sync.Once
	closeErr  error
}

func (c *libp2pChannel) readLoop() {
	defer close(c.stopped)
	for {
		msg, err := c.sub.Next(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				return
			}
			continue
		}

		var m channel.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			c.logger.ComponentWarn(logging.ComponentTransport, "Dropping undecodable message",
				zap.String("topic", c.topicName),
				zap.String("from", msg.ReceivedFrom.String()),
				zap.Error(err))
			continue
		}
		c.dispatch(c.ctx, &m)
	}
}

func (c *libp2pChannel) Send(ctx context.Context, msg *channel.Message) error {
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := c.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close cancels the subscription, waits for the read loop and leaves the
// topic. The pubsub router drops the subscription asynchronously, so leaving
// the topic is retried briefly.
func (c *libp2pChannel) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.sub.Cancel()
		<-c.stopped

		var err error
		for attempt := 0; attempt < 5; attempt++ {
			if err = c.topic.Close(); err == nil || !strings.Contains(err.Error(), "outstanding") {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if err != nil {
			c.closeErr = fmt.Errorf("failed to close topic %s: %w", c.topicName, err)
		}
	})
	return c.closeErr
}
