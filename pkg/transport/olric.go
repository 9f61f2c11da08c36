package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	olriclib "github.com/olric-data/olric"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// OlricFactory builds channels on Olric's pub/sub so that every node
// connected to the same cluster shares them.
type OlricFactory struct {
	Client    olriclib.Client
	Namespace string
	Logger    *logging.ColoredLogger
}

// TopicName returns the Olric pub/sub channel used for a channel name.
func (f *OlricFactory) TopicName(name string) string {
	if f.Namespace == "" {
		return name
	}
	return fmt.Sprintf("%s.%s", f.Namespace, name)
}

// NewDeliveryChannel subscribes to the channel's Olric topic.
func (f *OlricFactory) NewDeliveryChannel(ctx context.Context, name string) (channel.DeliveryChannel, error) {
	if f.Client == nil {
		return nil, fmt.Errorf("olric client not initialized")
	}

	ps, err := f.Client.NewPubSub()
	if err != nil {
		return nil, fmt.Errorf("failed to create olric pubsub: %w", err)
	}

	topic := f.TopicName(name)
	lifetime, cancel := context.WithCancel(context.Background())
	rps := ps.Subscribe(lifetime, topic)

	// Wait for the subscription to be confirmed so construction fails loudly.
	if _, err := rps.Receive(ctx); err != nil {
		cancel()
		_ = rps.Close()
		return nil, fmt.Errorf("failed to subscribe to olric topic %s: %w", topic, err)
	}

	c := &olricChannel{
		dispatcher: newDispatcher(name, f.Logger),
		topic:      topic,
		ps:         ps,
		rps:        rps,
		ctx:        lifetime,
		cancel:     cancel,
		stopped:    make(chan struct{}),
	}
	go c.readLoop(rps.Channel())
	return c, nil
}

type olricChannel struct {
	*dispatcher

	topic    string
	ps       *olriclib.PubSub
	rps      *redis.PubSub
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  chan struct{}
	once     sync.Once
	closeErr error
}

func (c *olricChannel) readLoop(in <-chan *redis.Message) {
	defer close(c.stopped)
	for {
		select {
		case <-c.ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			var msg channel.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				c.logger.ComponentWarn(logging.ComponentTransport, "Dropping undecodable message",
					zap.String("topic", c.topic),
					zap.Error(err))
				continue
			}
			c.dispatch(c.ctx, &msg)
		}
	}
}

func (c *olricChannel) Send(ctx context.Context, msg *channel.Message) error {
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if _, err := c.ps.Publish(ctx, c.topic, data); err != nil {
		return fmt.Errorf("failed to publish to olric topic %s: %w", c.topic, err)
	}
	return nil
}

func (c *olricChannel) Close() error {
	c.once.Do(func() {
		c.cancel()
		if err := c.rps.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close olric subscription %s: %w", c.topic, err)
		}
		<-c.stopped
	})
	return c.closeErr
}
