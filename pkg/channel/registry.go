package channel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/config"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// Registry multiplexes subscriptions onto shared delivery channels. A channel
// is opened the first time a subscription needs its name and closed when the
// last subscription using it is removed.
//
// Add and Remove for the same name are serialised by a striped mutex; the
// cache and reference-count table are only written while that stripe is held.
type Registry struct {
	channels ChannelFactory
	handlers HandlerFactory
	logger   *logging.ColoredLogger

	enabled atomic.Bool
	locks   *stripedMutex
	cache   *cache
	refs    *refCountTable
}

// ChannelStats describes one open channel.
type ChannelStats struct {
	Name          string    `json:"name"`
	References    int       `json:"references"`
	Subscriptions []string  `json:"subscriptions"`
	Handlers      int       `json:"handlers"`
	Delivered     int64     `json:"delivered"`
	Failed        int64     `json:"failed"`
	OpenedAt      time.Time `json:"opened_at"`
}

// NewRegistry creates a registry backed by the given factories. A channel
// factory is required; a nil handlers factory attaches no handlers.
func NewRegistry(cfg config.RegistryConfig, channels ChannelFactory, handlers HandlerFactory, logger *logging.ColoredLogger) (*Registry, error) {
	if channels == nil {
		return nil, apperrors.NewValidationError("channels", "channel factory is required", nil)
	}
	if handlers == nil {
		handlers = NoHandlers
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	stripes := cfg.LockStripes
	if stripes < 1 {
		stripes = 1
	}

	r := &Registry{
		channels: channels,
		handlers: handlers,
		logger:   logger,
		locks:    newStripedMutex(stripes),
		cache:    newCache(),
		refs:     newRefCountTable(),
	}
	r.enabled.Store(cfg.SubscriptionMatchingEnabled)
	return r, nil
}

// SetEnabled switches channel-backed delivery on or off. Channels that are
// already open stay open; only later Add calls are affected.
func (r *Registry) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
	r.logger.ComponentInfo(logging.ComponentRegistry, "Subscription matching toggled", zap.Bool("enabled", enabled))
}

// Enabled reports whether Add currently opens channels.
func (r *Registry) Enabled() bool {
	return r.enabled.Load()
}

// Add records sub against its channel, opening the channel if this is the
// first reference to its name. When delivery is disabled Add does nothing.
// A factory failure leaves neither a cache entry nor a reference behind.
func (r *Registry) Add(ctx context.Context, sub Subscription) error {
	if !r.enabled.Load() {
		return nil
	}

	name := sub.ChannelName()
	id := sub.SubscriptionID()

	unlock := r.locks.lock(name)
	defer unlock()

	if _, ok := r.cache.get(name); ok {
		if n := r.refs.increment(name, id); n > 1 {
			r.logger.ComponentDebug(logging.ComponentRegistry, "Subscription recorded more than once against channel",
				zap.String("channel", name),
				zap.String("subscription_id", id),
				zap.Int("occurrences", n))
		}
		return nil
	}

	handle, err := r.open(ctx, name, sub.ChannelType())
	if err != nil {
		r.logger.ComponentError(logging.ComponentRegistry, "Failed to open delivery channel",
			zap.String("channel", name),
			zap.String("subscription_id", id),
			zap.Error(err))
		return err
	}

	r.cache.put(name, handle)
	r.refs.increment(name, id)

	r.logger.ComponentInfo(logging.ComponentRegistry, "Opened delivery channel",
		zap.String("channel", name),
		zap.String("type", string(sub.ChannelType())),
		zap.Int("handlers", handle.HandlerCount()))
	return nil
}

// open builds a handle for name. Anything allocated before a failure is
// released again.
func (r *Registry) open(ctx context.Context, name string, t ChannelType) (*Handle, error) {
	ch, err := r.channels.NewDeliveryChannel(ctx, name)
	if err != nil {
		return nil, apperrors.NewChannelError(name, apperrors.OpConstruct, err)
	}
	if ch == nil {
		return nil, apperrors.NewChannelError(name, apperrors.OpConstruct, errors.New("channel factory returned nil"))
	}

	handler, err := r.handlers.CreateDeliveryHandler(t)
	if err != nil {
		_ = ch.Close()
		return nil, apperrors.NewChannelError(name, apperrors.OpConstruct, fmt.Errorf("create %s handler: %w", t, err))
	}

	handle := newHandle(name, ch)
	if mh, ok := handler.Get(); ok && mh != nil {
		if err := handle.AddHandler(mh); err != nil {
			_ = handle.Close()
			return nil, apperrors.NewChannelError(name, apperrors.OpConstruct, fmt.Errorf("attach %s handler: %w", t, err))
		}
	}
	return handle, nil
}

// Remove drops one occurrence of sub from its channel. When no occurrences
// remain the channel is evicted and closed. Removing a subscription that was
// never added only logs a warning. A close failure is returned, but the
// channel is evicted regardless so the next Add builds a fresh one.
func (r *Registry) Remove(ctx context.Context, sub Subscription) error {
	name := sub.ChannelName()
	id := sub.SubscriptionID()

	unlock := r.locks.lock(name)
	defer unlock()

	remaining, found := r.refs.decrement(name, id)
	if !found {
		r.logger.ComponentWarn(logging.ComponentRegistry, "Request to remove subscription that was not added",
			zap.String("channel", name),
			zap.String("subscription_id", id))
	}
	if remaining > 0 {
		return nil
	}

	handle, ok := r.cache.get(name)
	if !ok {
		return nil
	}

	// Evict before closing so Get never hands out a closed handle.
	r.cache.remove(name)
	if err := handle.Close(); err != nil {
		r.logger.ComponentError(logging.ComponentRegistry, "Failed to close delivery channel",
			zap.String("channel", name),
			zap.Error(err))
		return apperrors.NewChannelError(name, apperrors.OpClose, err)
	}

	r.logger.ComponentInfo(logging.ComponentRegistry, "Closed delivery channel", zap.String("channel", name))
	return nil
}

// Get returns the open handle for name. A missing handle means the channel
// is not currently deliverable.
func (r *Registry) Get(name string) (*Handle, bool) {
	h, ok := r.cache.get(name)
	if !ok || h.Closed() {
		return nil, false
	}
	return h, true
}

// Size returns the number of open channels.
func (r *Registry) Size() int {
	return r.cache.len()
}

// References returns the number of recorded references for name.
func (r *Registry) References(name string) int {
	return r.refs.count(name)
}

// Snapshot describes every open channel. Each entry is read under its own
// stripe, so the list as a whole is not a single point in time.
func (r *Registry) Snapshot() []ChannelStats {
	names := r.cache.names()
	stats := make([]ChannelStats, 0, len(names))
	for _, name := range names {
		if s, ok := r.Stats(name); ok {
			stats = append(stats, s)
		}
	}
	return stats
}

// Stats describes the open channel name.
func (r *Registry) Stats(name string) (ChannelStats, bool) {
	unlock := r.locks.lock(name)
	defer unlock()

	h, ok := r.cache.get(name)
	if !ok {
		return ChannelStats{}, false
	}
	delivered, failed := h.DeliveryCounts()
	return ChannelStats{
		Name:          name,
		References:    r.refs.count(name),
		Subscriptions: r.refs.subscribers(name),
		Handlers:      h.HandlerCount(),
		Delivered:     delivered,
		Failed:        failed,
		OpenedAt:      h.OpenedAt(),
	}, true
}

// Close closes every open channel and forgets all references. It is meant
// for shutdown; Add calls racing with it may open new channels.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, name := range r.cache.names() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		unlock := r.locks.lock(name)
		h, ok := r.cache.get(name)
		r.cache.remove(name)
		r.refs.drop(name)
		unlock()

		if !ok {
			continue
		}
		if err := h.Close(); err != nil {
			errs = append(errs, apperrors.NewChannelError(name, apperrors.OpClose, err))
		}
	}

	r.logger.ComponentInfo(logging.ComponentRegistry, "Registry closed", zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}
