package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/config"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
	"github.com/DeBrosOfficial/subchannel/pkg/node"
)

func parseFlags() (configPath string, fv NodeFlagValues) {
	flag.StringVar(&configPath, "config", "", "Path to config YAML file (overrides defaults)")
	flag.StringVar(&fv.DataDir, "data", "", "Data directory")
	flag.StringVar(&fv.NodeID, "id", "", "Node identifier")
	flag.StringVar(&fv.Bootstrap, "bootstrap", "", "Peer multiaddr to keep connected (libp2p transport)")
	flag.StringVar(&fv.Transport, "transport", "", "Channel transport: memory, libp2p or olric")
	flag.StringVar(&fv.HTTPListen, "listen", "", "HTTP gateway listen address, e.g. :8080")
	flag.StringVar(&fv.StoreDSN, "store-dsn", "", "Subscription store DSN")
	flag.Parse()
	return configPath, fv
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// writePeerInfo saves the full /p2p multiaddr so other nodes can use this one
// as a bootstrap peer.
func writePeerInfo(cfg *config.Config, peerID string, logger *logging.ColoredLogger) {
	if peerID == "" || len(cfg.Node.ListenAddresses) == 0 {
		return
	}
	addr := fmt.Sprintf("%s/p2p/%s", cfg.Node.ListenAddresses[0], peerID)
	path := filepath.Join(os.ExpandEnv(cfg.Node.DataDir), "peer.info")
	if err := os.WriteFile(path, []byte(addr), 0644); err != nil {
		logger.ComponentWarn(logging.ComponentNode, "Failed to save peer info", zap.Error(err))
		return
	}
	logger.ComponentInfo(logging.ComponentNode, "Peer info saved",
		zap.String("path", path),
		zap.String("multiaddr", addr))
}

func main() {
	configPath, fv := parseFlags()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	bootLogger, err := logging.NewDefaultLogger(logging.ComponentNode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	MapFlagsAndEnvToConfig(cfg, fv, bootLogger)

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "Configuration has %d error(s):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		os.Exit(1)
	}

	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.ComponentInfo(logging.ComponentNode, "Node configuration summary",
		zap.String("config", configPath),
		zap.String("node_id", cfg.Node.ID),
		zap.String("transport", cfg.Transport.Kind),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Strings("bootstrap_peers", cfg.Node.BootstrapPeers),
		zap.Bool("delivery_enabled", cfg.Registry.SubscriptionMatchingEnabled),
		zap.Bool("http_gateway", cfg.HTTPGateway.Enabled),
		zap.String("http_listen", cfg.HTTPGateway.ListenAddr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.NewNode(cfg, logger)
	if err != nil {
		logger.ComponentError(logging.ComponentNode, "Failed to create node", zap.Error(err))
		os.Exit(1)
	}
	if err := n.Start(ctx); err != nil {
		logger.ComponentError(logging.ComponentNode, "Failed to start node", zap.Error(err))
		os.Exit(1)
	}
	writePeerInfo(cfg, n.PeerID(), logger)

	<-ctx.Done()
	logger.ComponentInfo(logging.ComponentNode, "Shutting down node...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPGateway.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := n.Stop(shutdownCtx); err != nil {
		logger.ComponentError(logging.ComponentNode, "Node stopped with errors", zap.Error(err))
		os.Exit(1)
	}
	logger.ComponentInfo(logging.ComponentNode, "Node shutdown complete")
}
