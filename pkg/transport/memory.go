package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// ErrChannelClosed is returned when sending on a closed channel.
var ErrChannelClosed = errors.New("delivery channel closed")

// MemoryFactory builds in-process channels backed by a buffered Go channel
// and one dispatch goroutine each.
type MemoryFactory struct {
	BufferSize int
	Logger     *logging.ColoredLogger
}

// NewDeliveryChannel implements channel.ChannelFactory.
func (f *MemoryFactory) NewDeliveryChannel(_ context.Context, name string) (channel.DeliveryChannel, error) {
	return newMemoryChannel(name, f.BufferSize, f.Logger), nil
}

type memoryChannel struct {
	*dispatcher

	queue   chan *channel.Message
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

func newMemoryChannel(name string, buffer int, logger *logging.ColoredLogger) *memoryChannel {
	if buffer < 0 {
		buffer = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &memoryChannel{
		dispatcher: newDispatcher(name, logger),
		queue:      make(chan *channel.Message, buffer),
		ctx:        ctx,
		cancel:     cancel,
		stopped:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *memoryChannel) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.queue:
			if c.ctx.Err() != nil {
				return
			}
			c.dispatch(c.ctx, msg)
		}
	}
}

func (c *memoryChannel) Send(ctx context.Context, msg *channel.Message) error {
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	select {
	case <-c.ctx.Done():
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.queue <- msg:
		return nil
	}
}

// Close stops the dispatch goroutine and waits for it, so no handler runs
// after Close returns. Queued messages are dropped.
func (c *memoryChannel) Close() error {
	c.once.Do(c.cancel)
	<-c.stopped
	return nil
}
