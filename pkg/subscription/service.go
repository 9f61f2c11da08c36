package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

const serviceLockStripes = 64

// Service activates and deactivates subscriptions, keeping the store and
// the channel registry in step. Changes to one subscription ID are
// serialised, so its stored record and its channel reference always agree.
type Service struct {
	store    Store
	registry *channel.Registry
	names    NameFactory
	logger   *logging.ColoredLogger
	locks    *idLocks
	now      func() time.Time
}

// NewService creates a subscription service.
func NewService(store Store, registry *channel.Registry, names NameFactory, logger *logging.ColoredLogger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		store:    store,
		registry: registry,
		names:    names,
		logger:   logger,
		locks:    newIDLocks(serviceLockStripes),
		now:      time.Now,
	}
}

// Registry returns the registry the service drives.
func (s *Service) Registry() *channel.Registry {
	return s.registry
}

// Activate persists sub and registers it against its channel. An empty ID is
// assigned. If the channel cannot be opened the stored record is removed
// again.
func (s *Service) Activate(ctx context.Context, sub *ActiveSubscription) (*ActiveSubscription, error) {
	sub = sub.Clone()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(sub.ID)
	defer unlock()

	if _, err := s.store.Get(ctx, sub.ID); err == nil {
		return nil, apperrors.NewConflictError("subscription", "id", sub.ID)
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	now := s.now().UTC()
	sub.Channel = s.names.Name(sub.Type, sub.RoutingKey)
	sub.CreatedAt = now
	sub.UpdatedAt = now

	if err := s.store.Save(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.registry.Add(ctx, sub); err != nil {
		if derr := s.store.Delete(ctx, sub.ID); derr != nil {
			s.logger.ComponentError(logging.ComponentRegistry, "Failed to roll back subscription",
				zap.String("subscription_id", sub.ID),
				zap.Error(derr))
		}
		return nil, err
	}

	s.logger.ComponentInfo(logging.ComponentRegistry, "Subscription activated",
		zap.String("subscription_id", sub.ID),
		zap.String("channel", sub.Channel),
		zap.String("type", string(sub.Type)))
	return sub, nil
}

// Deactivate deletes the subscription and releases its channel reference.
// A close failure of the channel is returned after the record is gone.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.registry.Remove(ctx, sub); err != nil {
		return err
	}

	s.logger.ComponentInfo(logging.ComponentRegistry, "Subscription deactivated",
		zap.String("subscription_id", id),
		zap.String("channel", sub.Channel))
	return nil
}

// Update replaces the stored subscription with sub. The new registration is
// added before the old one is removed, so a channel shared by both versions
// stays open throughout.
func (s *Service) Update(ctx context.Context, sub *ActiveSubscription) (*ActiveSubscription, error) {
	unlock := s.locks.lock(sub.ID)
	defer unlock()

	old, err := s.store.Get(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	updated := sub.Clone()
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	updated.Channel = s.names.Name(updated.Type, updated.RoutingKey)
	updated.CreatedAt = old.CreatedAt
	updated.UpdatedAt = s.now().UTC()

	if err := s.registry.Add(ctx, updated); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, updated); err != nil {
		if rerr := s.registry.Remove(ctx, updated); rerr != nil {
			s.logger.ComponentError(logging.ComponentRegistry, "Failed to roll back channel reference",
				zap.String("subscription_id", updated.ID),
				zap.Error(rerr))
		}
		return nil, err
	}
	if err := s.registry.Remove(ctx, old); err != nil {
		s.logger.ComponentWarn(logging.ComponentRegistry, "Previous channel did not close cleanly",
			zap.String("subscription_id", old.ID),
			zap.String("channel", old.Channel),
			zap.Error(err))
	}

	s.logger.ComponentInfo(logging.ComponentRegistry, "Subscription updated",
		zap.String("subscription_id", updated.ID),
		zap.String("old_channel", old.Channel),
		zap.String("channel", updated.Channel))
	return updated, nil
}

// Reload registers every stored subscription. It is run once at startup and
// returns how many were registered.
func (s *Service) Reload(ctx context.Context) (int, error) {
	subs, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	n := 0
	for _, sub := range subs {
		if err := s.reload(ctx, sub); err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		n++
	}

	s.logger.ComponentInfo(logging.ComponentRegistry, "Subscriptions reloaded",
		zap.Int("registered", n),
		zap.Int("failed", len(errs)),
		zap.Int("channels", s.registry.Size()))
	return n, errors.Join(errs...)
}

func (s *Service) reload(ctx context.Context, sub *ActiveSubscription) error {
	unlock := s.locks.lock(sub.ID)
	defer unlock()

	// Names are derived again in case the configured prefix changed.
	if name := s.names.Name(sub.Type, sub.RoutingKey); name != sub.Channel {
		sub.Channel = name
		if err := s.store.Save(ctx, sub); err != nil {
			return err
		}
	}
	return s.registry.Add(ctx, sub)
}

// Get returns one subscription.
func (s *Service) Get(ctx context.Context, id string) (*ActiveSubscription, error) {
	return s.store.Get(ctx, id)
}

// List returns every subscription.
func (s *Service) List(ctx context.Context) ([]*ActiveSubscription, error) {
	return s.store.List(ctx)
}

// Notify sends payload to one subscription through its channel.
func (s *Service) Notify(ctx context.Context, id string, payload []byte, contentType string) (*channel.Message, error) {
	if !s.registry.Enabled() {
		return nil, apperrors.ErrDisabled
	}
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	h, ok := s.registry.Get(sub.Channel)
	if !ok {
		return nil, apperrors.NewNotFoundError("channel", sub.Channel)
	}

	msg := s.message(sub, payload, contentType)
	if err := h.Send(ctx, msg); err != nil {
		return nil, apperrors.NewChannelError(sub.Channel, apperrors.OpDeliver, err)
	}
	return msg, nil
}

// Publish sends payload once for every subscription recorded against the
// channel name and returns how many messages were sent.
func (s *Service) Publish(ctx context.Context, name string, payload []byte, contentType string) (int, error) {
	if !s.registry.Enabled() {
		return 0, apperrors.ErrDisabled
	}
	h, ok := s.registry.Get(name)
	if !ok {
		return 0, apperrors.NewNotFoundError("channel", name)
	}
	stats, ok := s.registry.Stats(name)
	if !ok {
		return 0, apperrors.NewNotFoundError("channel", name)
	}

	sent := 0
	for _, id := range stats.Subscriptions {
		sub, err := s.store.Get(ctx, id)
		if err != nil {
			s.logger.ComponentWarn(logging.ComponentRegistry, "Skipping subscription without record",
				zap.String("channel", name),
				zap.String("subscription_id", id),
				zap.Error(err))
			continue
		}
		if err := h.Send(ctx, s.message(sub, payload, contentType)); err != nil {
			return sent, apperrors.NewChannelError(name, apperrors.OpDeliver, err)
		}
		sent++
	}
	return sent, nil
}

func (s *Service) message(sub *ActiveSubscription, payload []byte, contentType string) *channel.Message {
	return &channel.Message{
		ID:             uuid.NewString(),
		Channel:        sub.Channel,
		SubscriptionID: sub.ID,
		Endpoint:       sub.Endpoint,
		ContentType:    contentType,
		Payload:        payload,
		Headers:        sub.Headers,
		Timestamp:      s.now().UTC(),
	}
}
