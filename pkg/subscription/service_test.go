package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/config"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/transport"
)

type inbox struct {
	mu   sync.Mutex
	msgs []*channel.Message
	got  chan struct{}
}

func (i *inbox) HandleMessage(_ context.Context, msg *channel.Message) error {
	i.mu.Lock()
	i.msgs = append(i.msgs, msg)
	i.mu.Unlock()
	i.got <- struct{}{}
	return nil
}

func (i *inbox) wait(t *testing.T, n int) []*channel.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		i.mu.Lock()
		if len(i.msgs) >= n {
			out := append([]*channel.Message(nil), i.msgs...)
			i.mu.Unlock()
			return out
		}
		i.mu.Unlock()
		select {
		case <-i.got:
		case <-timeout:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

type fixture struct {
	svc      *Service
	store    *SQLStore
	registry *channel.Registry
	inbox    *inbox
}

func newFixture(t *testing.T, channels channel.ChannelFactory) *fixture {
	t.Helper()
	if channels == nil {
		channels = &transport.MemoryFactory{BufferSize: 16}
	}
	box := &inbox{got: make(chan struct{}, 64)}
	handlers := channel.HandlerFactoryFunc(func(channel.ChannelType) (channel.Optional[channel.MessageHandler], error) {
		return channel.Some[channel.MessageHandler](box), nil
	})
	reg, err := channel.NewRegistry(config.RegistryConfig{SubscriptionMatchingEnabled: true, LockStripes: 8}, channels, handlers, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	store := newTestStore(t)
	return &fixture{
		svc:      NewService(store, reg, NameFactory{Prefix: "subscription-delivery-"}, nil),
		store:    store,
		registry: reg,
		inbox:    box,
	}
}

func TestService_ActivateSharesChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	a, err := f.svc.Activate(ctx, &ActiveSubscription{Type: channel.TypeEmail, Endpoint: "a@example.org"})
	if err != nil {
		t.Fatalf("Activate a: %v", err)
	}
	b, err := f.svc.Activate(ctx, &ActiveSubscription{Type: channel.TypeEmail, Endpoint: "b@example.org"})
	if err != nil {
		t.Fatalf("Activate b: %v", err)
	}

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct generated ids, got %q and %q", a.ID, b.ID)
	}
	if a.Channel != "subscription-delivery-email" || b.Channel != a.Channel {
		t.Fatalf("unexpected channel names %q, %q", a.Channel, b.Channel)
	}
	if f.registry.Size() != 1 || f.registry.References(a.Channel) != 2 {
		t.Fatalf("size=%d refs=%d", f.registry.Size(), f.registry.References(a.Channel))
	}

	if err := f.svc.Deactivate(ctx, a.ID); err != nil {
		t.Fatalf("Deactivate a: %v", err)
	}
	if _, ok := f.registry.Get(a.Channel); !ok {
		t.Fatal("channel closed while b still uses it")
	}
	if err := f.svc.Deactivate(ctx, b.ID); err != nil {
		t.Fatalf("Deactivate b: %v", err)
	}
	if f.registry.Size() != 0 {
		t.Fatalf("expected no channels, got %d", f.registry.Size())
	}
	if err := f.svc.Deactivate(ctx, b.ID); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_ActivateConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	sub := &ActiveSubscription{ID: "fixed", Type: channel.TypeMessage}
	if _, err := f.svc.Activate(ctx, sub); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := f.svc.Activate(ctx, sub); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.registry.References("subscription-delivery-message") != 1 {
		t.Fatal("conflicting activate recorded a reference")
	}
}

func TestService_ActivateRollsBackOnChannelFailure(t *testing.T) {
	ctx := context.Background()
	failing := channel.ChannelFactoryFunc(func(context.Context, string) (channel.DeliveryChannel, error) {
		return nil, errors.New("broker unreachable")
	})
	f := newFixture(t, failing)

	_, err := f.svc.Activate(ctx, &ActiveSubscription{ID: "s1", Type: channel.TypeMessage})
	if _, ok := apperrors.IsChannel(err); !ok {
		t.Fatalf("expected channel error, got %v", err)
	}
	if _, err := f.store.Get(ctx, "s1"); !apperrors.IsNotFound(err) {
		t.Fatalf("expected record rolled back, got %v", err)
	}
	if f.registry.Size() != 0 || f.registry.References("subscription-delivery-message") != 0 {
		t.Fatal("failed activate left registry state")
	}
}

func TestService_UpdateMovesChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	sub, err := f.svc.Activate(ctx, &ActiveSubscription{ID: "s1", Type: channel.TypeRestHook, Endpoint: "http://localhost:1/a"})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// Same channel: the reference survives the add-then-remove sequence.
	sub.Endpoint = "http://localhost:1/b"
	same, err := f.svc.Update(ctx, sub)
	if err != nil {
		t.Fatalf("Update same channel: %v", err)
	}
	if f.registry.References(same.Channel) != 1 || f.registry.Size() != 1 {
		t.Fatalf("refs=%d size=%d", f.registry.References(same.Channel), f.registry.Size())
	}
	if !same.CreatedAt.Equal(sub.CreatedAt) {
		t.Fatal("update changed created_at")
	}

	// New routing key: old channel closes, new one opens.
	sub.RoutingKey = "lab"
	moved, err := f.svc.Update(ctx, sub)
	if err != nil {
		t.Fatalf("Update new channel: %v", err)
	}
	if moved.Channel != "subscription-delivery-rest-hook.lab" {
		t.Fatalf("unexpected channel %q", moved.Channel)
	}
	if _, ok := f.registry.Get("subscription-delivery-rest-hook"); ok {
		t.Fatal("old channel still open")
	}
	if f.registry.References(moved.Channel) != 1 || f.registry.Size() != 1 {
		t.Fatalf("refs=%d size=%d", f.registry.References(moved.Channel), f.registry.Size())
	}

	stored, err := f.store.Get(ctx, "s1")
	if err != nil || stored.Channel != moved.Channel {
		t.Fatalf("store not updated: %+v, %v", stored, err)
	}
}

func TestService_ReloadAndPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	for _, id := range []string{"s1", "s2"} {
		sub := &ActiveSubscription{ID: id, Type: channel.TypeEmail, Endpoint: id + "@example.org", Channel: "stale-name"}
		if err := f.store.Save(ctx, sub); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	n, err := f.svc.Reload(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Reload = %d, %v", n, err)
	}
	name := "subscription-delivery-email"
	if f.registry.References(name) != 2 {
		t.Fatalf("expected 2 references, got %d", f.registry.References(name))
	}

	sent, err := f.svc.Publish(ctx, name, []byte("Patient/1 changed"), "text/plain")
	if err != nil || sent != 2 {
		t.Fatalf("Publish = %d, %v", sent, err)
	}
	msgs := f.inbox.wait(t, 2)
	endpoints := map[string]bool{}
	for _, m := range msgs {
		endpoints[m.Endpoint] = true
		if m.Channel != name || string(m.Payload) != "Patient/1 changed" {
			t.Fatalf("unexpected message %+v", m)
		}
	}
	if !endpoints["s1@example.org"] || !endpoints["s2@example.org"] {
		t.Fatalf("missing endpoints %v", endpoints)
	}

	if _, err := f.svc.Publish(ctx, "nope", nil, ""); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown channel, got %v", err)
	}
}

func TestService_NotifyAndDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	sub, err := f.svc.Activate(ctx, &ActiveSubscription{ID: "s1", Type: channel.TypeWebSocket})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	msg, err := f.svc.Notify(ctx, sub.ID, []byte("{}"), "application/json")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	got := f.inbox.wait(t, 1)
	if got[0].ID != msg.ID || got[0].SubscriptionID != "s1" {
		t.Fatalf("unexpected delivery %+v", got[0])
	}

	f.registry.SetEnabled(false)
	if _, err := f.svc.Notify(ctx, sub.ID, nil, ""); !errors.Is(err, apperrors.ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	// Disabled activation persists but opens nothing.
	other, err := f.svc.Activate(ctx, &ActiveSubscription{Type: channel.TypeSMS, Endpoint: "+15550100"})
	if err != nil {
		t.Fatalf("Activate while disabled: %v", err)
	}
	if _, ok := f.registry.Get(other.Channel); ok {
		t.Fatal("channel opened while delivery disabled")
	}
	if _, err := f.store.Get(ctx, other.ID); err != nil {
		t.Fatalf("expected record stored, got %v", err)
	}
}

// slowStore widens the gap between reading and writing a record.
type slowStore struct {
	Store
}

func (s slowStore) Get(ctx context.Context, id string) (*ActiveSubscription, error) {
	time.Sleep(time.Millisecond)
	return s.Store.Get(ctx, id)
}

// assertRegistryMatchesStore checks that every open channel reference
// belongs to a stored subscription and vice versa.
func assertRegistryMatchesStore(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	stored, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := make(map[string]string, len(stored))
	for _, sub := range stored {
		want[sub.ID] = sub.Channel
	}

	refs := 0
	for _, st := range f.registry.Snapshot() {
		for _, id := range st.Subscriptions {
			if want[id] != st.Name {
				t.Fatalf("channel %s holds subscription %s, stored channel is %q", st.Name, id, want[id])
			}
		}
		refs += st.References
	}
	if refs != len(stored) {
		t.Fatalf("expected %d channel references, got %d", len(stored), refs)
	}
}

func TestService_ConcurrentActivateSameID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.svc = NewService(slowStore{f.store}, f.registry, NameFactory{Prefix: "p-"}, nil)

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Activate(ctx, &ActiveSubscription{
				ID:         "dup",
				Type:       channel.TypeMessage,
				RoutingKey: fmt.Sprintf("key-%d", i),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !apperrors.IsConflict(err):
			t.Fatalf("expected conflict, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one activation, got %d", succeeded)
	}
	if f.registry.Size() != 1 {
		t.Fatalf("expected one open channel, got %d", f.registry.Size())
	}
	assertRegistryMatchesStore(t, f)

	if err := f.svc.Deactivate(ctx, "dup"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if f.registry.Size() != 0 {
		t.Fatalf("channel left open after deactivate: %+v", f.registry.Snapshot())
	}
}

func TestService_ConcurrentUpdateAndDeactivate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.svc = NewService(slowStore{f.store}, f.registry, NameFactory{Prefix: "p-"}, nil)

	for round := 0; round < 20; round++ {
		id := fmt.Sprintf("sub-%d", round)
		if _, err := f.svc.Activate(ctx, &ActiveSubscription{ID: id, Type: channel.TypeMessage, RoutingKey: "before"}); err != nil {
			t.Fatalf("Activate: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.Update(ctx, &ActiveSubscription{ID: id, Type: channel.TypeMessage, RoutingKey: "after"})
			if err != nil && !apperrors.IsNotFound(err) {
				t.Errorf("Update: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := f.svc.Deactivate(ctx, id); err != nil && !apperrors.IsNotFound(err) {
				t.Errorf("Deactivate: %v", err)
			}
		}()
		wg.Wait()

		assertRegistryMatchesStore(t, f)
		if _, err := f.store.Get(ctx, id); err == nil {
			if err := f.svc.Deactivate(ctx, id); err != nil {
				t.Fatalf("Deactivate: %v", err)
			}
		}
		if f.registry.Size() != 0 {
			t.Fatalf("round %d: channels left open: %+v", round, f.registry.Snapshot())
		}
	}
}
