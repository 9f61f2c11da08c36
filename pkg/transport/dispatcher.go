package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// dispatcher holds the handlers subscribed to one channel and fans messages
// out to all of them. A failing handler never stops the others.
type dispatcher struct {
	name   string
	logger *logging.ColoredLogger

	mu       sync.RWMutex
	handlers map[channel.HandlerID]channel.MessageHandler

	delivered atomic.Int64
	failed    atomic.Int64
}

func newDispatcher(name string, logger *logging.ColoredLogger) *dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &dispatcher{
		name:     name,
		logger:   logger,
		handlers: make(map[channel.HandlerID]channel.MessageHandler),
	}
}

func (d *dispatcher) Subscribe(h channel.MessageHandler) (channel.HandlerID, error) {
	if h == nil {
		return "", fmt.Errorf("nil handler for channel %s", d.name)
	}
	id := channel.HandlerID(uuid.NewString())
	d.mu.Lock()
	d.handlers[id] = h
	d.mu.Unlock()
	return id, nil
}

func (d *dispatcher) Unsubscribe(id channel.HandlerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[id]; !ok {
		return fmt.Errorf("handler %s not subscribed to channel %s", id, d.name)
	}
	delete(d.handlers, id)
	return nil
}

func (d *dispatcher) handlerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// DeliveryCounts reports how many handler calls succeeded and failed.
func (d *dispatcher) DeliveryCounts() (delivered, failed int64) {
	return d.delivered.Load(), d.failed.Load()
}

func (d *dispatcher) dispatch(ctx context.Context, msg *channel.Message) {
	d.mu.RLock()
	handlers := make([]channel.MessageHandler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h.HandleMessage(ctx, msg); err != nil {
			d.failed.Add(1)
			d.logger.ComponentWarn(logging.ComponentTransport, "Message handler failed",
				zap.String("channel", d.name),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		d.delivered.Add(1)
	}
}
