// Package node assembles a delivery node: the subscription store, the
// channel transport, the delivery handlers, the shared channel registry and
// the HTTP gateway in front of them.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"

	libp2ppubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/config"
	"github.com/DeBrosOfficial/subchannel/pkg/delivery"
	"github.com/DeBrosOfficial/subchannel/pkg/gateway"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
	"github.com/DeBrosOfficial/subchannel/pkg/olric"
	"github.com/DeBrosOfficial/subchannel/pkg/subscription"
	"github.com/DeBrosOfficial/subchannel/pkg/transport"
)

// Node represents a running delivery node
type Node struct {
	config *config.Config
	logger *logging.ColoredLogger

	host   host.Host
	pubsub *libp2ppubsub.PubSub
	olric  *olric.Client

	store    *subscription.SQLStore
	hub      *delivery.Hub
	registry *channel.Registry
	service  *subscription.Service
	gateway  *gateway.Gateway

	peerCancel   context.CancelFunc
	peerLoopDone chan struct{}

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// NewNode creates a node from cfg. A nil logger is built from cfg.Logging.
func NewNode(cfg *config.Config, logger *logging.ColoredLogger) (*Node, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		var err error
		logger, err = logging.NewFromConfig(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	return &Node{
		config: cfg,
		logger: logger,
	}, nil
}

// Start opens the store, connects the transport, registers every stored
// subscription and starts the gateway. On failure everything already started
// is stopped again.
func (n *Node) Start(ctx context.Context) error {
	n.logger.ComponentInfo(logging.ComponentNode, "Starting delivery node",
		zap.String("node_id", n.config.Node.ID),
		zap.String("data_dir", n.config.Node.DataDir),
		zap.String("transport", n.config.Transport.Kind),
		zap.String("store", n.config.Store.Driver))

	if err := n.start(ctx); err != nil {
		if serr := n.Stop(context.Background()); serr != nil {
			n.logger.ComponentWarn(logging.ComponentNode, "Cleanup after failed start reported errors", zap.Error(serr))
		}
		return err
	}

	n.logger.ComponentInfo(logging.ComponentNode, "Delivery node started",
		zap.Int("channels", n.registry.Size()),
		zap.Bool("delivery_enabled", n.registry.Enabled()))
	return nil
}

func (n *Node) start(ctx context.Context) error {
	if n.config.Node.DataDir != "" {
		if err := os.MkdirAll(os.ExpandEnv(n.config.Node.DataDir), 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := subscription.OpenSQLStore(ctx, n.config.Store, n.logger)
	if err != nil {
		return fmt.Errorf("failed to open subscription store: %w", err)
	}
	n.store = store

	var deps transport.Dependencies
	switch n.config.Transport.Kind {
	case config.TransportLibP2P:
		if err := n.startLibP2P(ctx); err != nil {
			return fmt.Errorf("failed to start LibP2P: %w", err)
		}
		deps.PubSub = n.pubsub
	case config.TransportOlric:
		client, err := olric.Connect(ctx, olric.Config{
			Servers: n.config.Transport.OlricServers,
			Timeout: n.config.Transport.OlricTimeout,
		}, n.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to Olric: %w", err)
		}
		n.olric = client
		deps.Olric = client.GetClient()
	}

	channels, err := transport.NewFactory(n.config.Transport, deps, n.logger)
	if err != nil {
		return err
	}

	n.hub = delivery.NewHub(n.config.Delivery.WebSocketWrite, n.logger)
	handlers := delivery.NewFactory(n.config.Delivery, n.hub, n.logger)
	registry, err := channel.NewRegistry(n.config.Registry, channels, handlers, n.logger)
	if err != nil {
		return fmt.Errorf("failed to create channel registry: %w", err)
	}
	n.registry = registry
	n.service = subscription.NewService(n.store, n.registry,
		subscription.NameFactory{Prefix: n.config.Registry.ChannelPrefix}, n.logger)

	// A subscription whose channel cannot be opened must not keep the rest
	// of the node down.
	if _, err := n.service.Reload(ctx); err != nil {
		n.logger.ComponentWarn(logging.ComponentNode, "Some subscriptions could not be registered", zap.Error(err))
	}

	if n.config.HTTPGateway.Enabled {
		gw := gateway.New(n.config.HTTPGateway, n.nodeID(), n.service, n.hub, n.logger)
		if err := gw.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP gateway: %w", err)
		}
		n.gateway = gw
	}

	if n.config.Node.MonitorInterval > 0 {
		n.startMonitoring(n.config.Node.MonitorInterval)
	}
	return nil
}

// Stop shuts the node down in reverse start order and joins every error.
func (n *Node) Stop(ctx context.Context) error {
	n.logger.ComponentInfo(logging.ComponentNode, "Stopping delivery node")

	var errs []error
	if n.monitorCancel != nil {
		n.monitorCancel()
		<-n.monitorDone
		n.monitorCancel = nil
	}
	if n.gateway != nil {
		if err := n.gateway.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway: %w", err))
		}
		n.gateway = nil
	}
	if n.registry != nil {
		if err := n.registry.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("registry: %w", err))
		}
	}
	if n.peerCancel != nil {
		n.peerCancel()
		<-n.peerLoopDone
		n.peerCancel = nil
	}
	if n.olric != nil {
		if err := n.olric.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("olric: %w", err))
		}
		n.olric = nil
	}
	if n.host != nil {
		if err := n.host.Close(); err != nil {
			errs = append(errs, fmt.Errorf("libp2p host: %w", err))
		}
		n.host = nil
		n.pubsub = nil
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		n.store = nil
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	n.logger.ComponentInfo(logging.ComponentNode, "Delivery node stopped")
	return nil
}

// Service returns the subscription service, or nil before Start.
func (n *Node) Service() *subscription.Service {
	return n.service
}

// Registry returns the channel registry, or nil before Start.
func (n *Node) Registry() *channel.Registry {
	return n.registry
}

// Gateway returns the running gateway, or nil when it is disabled.
func (n *Node) Gateway() *gateway.Gateway {
	return n.gateway
}

func (n *Node) nodeID() string {
	if n.config.Node.ID != "" {
		return n.config.Node.ID
	}
	if id := n.PeerID(); id != "" {
		return id
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "node"
}
