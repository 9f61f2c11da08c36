package channel

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHandleClosed is returned by operations on a handle after Close.
var ErrHandleClosed = errors.New("channel handle closed")

// Handle owns one open delivery channel and the handlers attached to it.
// Its lifecycle is one way: once closed it is never reopened; the registry
// builds a fresh Handle for the next use of the same name.
type Handle struct {
	name     string
	channel  DeliveryChannel
	openedAt time.Time

	mu       sync.RWMutex
	handlers []HandlerID
	closed   bool
}

func newHandle(name string, ch DeliveryChannel) *Handle {
	return &Handle{
		name:     name,
		channel:  ch,
		openedAt: time.Now(),
	}
}

// Name returns the channel name this handle serves.
func (h *Handle) Name() string { return h.name }

// OpenedAt returns when the handle was constructed.
func (h *Handle) OpenedAt() time.Time { return h.openedAt }

// AddHandler subscribes mh to the underlying channel.
func (h *Handle) AddHandler(mh MessageHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHandleClosed
	}
	id, err := h.channel.Subscribe(mh)
	if err != nil {
		return err
	}
	h.handlers = append(h.handlers, id)
	return nil
}

// HandlerCount returns the number of attached handlers.
func (h *Handle) HandlerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// DeliveryCounts returns the handler outcomes reported by the channel, or
// zeros when the channel does not count them.
func (h *Handle) DeliveryCounts() (delivered, failed int64) {
	if c, ok := h.channel.(DeliveryCounter); ok {
		return c.DeliveryCounts()
	}
	return 0, 0
}

// Send pushes msg into the channel.
func (h *Handle) Send(ctx context.Context, msg *Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHandleClosed
	}
	if msg.Channel == "" {
		msg.Channel = h.name
	}
	return h.channel.Send(ctx, msg)
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close detaches every handler and releases the channel. Only the first call
// does any work; later calls return nil.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	for _, id := range h.handlers {
		if err := h.channel.Unsubscribe(id); err != nil {
			errs = append(errs, err)
		}
	}
	h.handlers = nil

	if err := h.channel.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
