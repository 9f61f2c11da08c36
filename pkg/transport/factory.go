// Package transport provides the delivery channel backends the registry opens:
// an in-process bus, gossipsub topics over libp2p and Olric pub/sub.
package transport

import (
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	olriclib "github.com/olric-data/olric"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/config"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// Dependencies carries the live clients the networked transports need.
type Dependencies struct {
	PubSub *pubsub.PubSub
	Olric  olriclib.Client
}

// NewFactory returns the channel factory selected by cfg.Kind.
func NewFactory(cfg config.TransportConfig, deps Dependencies, logger *logging.ColoredLogger) (channel.ChannelFactory, error) {
	switch cfg.Kind {
	case config.TransportMemory, "":
		return &MemoryFactory{BufferSize: cfg.BufferSize, Logger: logger}, nil
	case config.TransportLibP2P:
		if deps.PubSub == nil {
			return nil, fmt.Errorf("transport %s requires a pubsub router", cfg.Kind)
		}
		return &LibP2PFactory{PubSub: deps.PubSub, Namespace: cfg.Namespace, Logger: logger}, nil
	case config.TransportOlric:
		if deps.Olric == nil {
			return nil, fmt.Errorf("transport %s requires an olric client", cfg.Kind)
		}
		return &OlricFactory{Client: deps.Olric, Namespace: cfg.Namespace, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
}
