package transport

import (
	"context"
	"testing"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
)

func createTestFactory(t *testing.T, ns string) *LibP2PFactory {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		cancel()
		t.Fatalf("failed to create libp2p host: %v", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		t.Fatalf("failed to create gossipsub: %v", err)
	}

	t.Cleanup(func() {
		h.Close()
		cancel()
	})
	return &LibP2PFactory{PubSub: ps, Namespace: ns}
}

func TestLibP2PChannel_DeliversLocally(t *testing.T) {
	f := createTestFactory(t, "test-ns")
	ctx := context.Background()

	ch, err := f.NewDeliveryChannel(ctx, "subscription-delivery-email")
	if err != nil {
		t.Fatalf("NewDeliveryChannel: %v", err)
	}

	c := newCollector()
	if _, err := ch.Subscribe(c); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := ch.Send(ctx, &channel.Message{ID: "m1", Payload: []byte(`{"resourceType":"Patient"}`)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, c, 1)

	c.mu.Lock()
	got := c.got[0]
	c.mu.Unlock()
	if got.ID != "m1" || string(got.Payload) != `{"resourceType":"Patient"}` {
		t.Fatalf("unexpected message %+v", got)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Send(ctx, &channel.Message{ID: "m2"}); err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

func TestLibP2PChannel_RejoinAfterClose(t *testing.T) {
	f := createTestFactory(t, "test-ns")
	ctx := context.Background()

	first, err := f.NewDeliveryChannel(ctx, "rest-hook")
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := f.NewDeliveryChannel(ctx, "rest-hook")
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	defer second.Close()
}
