package main

import (
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/config"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// NodeFlagValues holds parsed CLI flag values in a structured form.
type NodeFlagValues struct {
	DataDir    string
	NodeID     string
	Bootstrap  string
	Transport  string
	HTTPListen string
	StoreDSN   string
}

// isTruthyEnv returns true if the environment variable is set to a common truthy value
func isTruthyEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// applyEnvOverrides reads SUBCHANNEL_* variables on top of the file config.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("SUBCHANNEL_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("SUBCHANNEL_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("SUBCHANNEL_TRANSPORT"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("SUBCHANNEL_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("SUBCHANNEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SUBCHANNEL_DELIVERY_ENABLED"); v != "" {
		cfg.Registry.SubscriptionMatchingEnabled = isTruthyEnv("SUBCHANNEL_DELIVERY_ENABLED")
	}
}

// MapFlagsAndEnvToConfig applies environment overrides and CLI flags to cfg.
// Precedence: flags > env > config file > defaults.
func MapFlagsAndEnvToConfig(cfg *config.Config, fv NodeFlagValues, logger *logging.ColoredLogger) {
	applyEnvOverrides(cfg)

	if fv.DataDir != "" {
		cfg.Node.DataDir = fv.DataDir
	}
	if fv.NodeID != "" {
		cfg.Node.ID = fv.NodeID
	}
	if fv.Transport != "" {
		cfg.Transport.Kind = fv.Transport
	}
	if fv.HTTPListen != "" {
		cfg.HTTPGateway.ListenAddr = fv.HTTPListen
		cfg.HTTPGateway.Enabled = true
	}
	if fv.StoreDSN != "" {
		cfg.Store.DSN = fv.StoreDSN
	}
	if fv.Bootstrap != "" {
		cfg.Node.BootstrapPeers = []string{fv.Bootstrap}
		logger.ComponentInfo(logging.ComponentNode, "Using command line bootstrap peer", zap.String("peer", fv.Bootstrap))
	}
}
