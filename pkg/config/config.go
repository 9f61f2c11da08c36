package config

import (
	"time"

	"github.com/multiformats/go-multiaddr"
)

// Config represents the main configuration for a delivery node
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Registry    RegistryConfig    `yaml:"registry"`
	Transport   TransportConfig   `yaml:"transport"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Store       StoreConfig       `yaml:"store"`
	Logging     LoggingConfig     `yaml:"logging"`
	HTTPGateway HTTPGatewayConfig `yaml:"http_gateway"`
}

// NodeConfig contains node-specific configuration
type NodeConfig struct {
	ID              string   `yaml:"id"`               // Informational, logged at startup
	ListenAddresses []string `yaml:"listen_addresses"` // LibP2P listen addresses
	BootstrapPeers  []string `yaml:"bootstrap_peers"`  // Full /p2p multiaddrs to keep connected
	DataDir         string   `yaml:"data_dir"`         // Holds the libp2p identity

	// MonitorInterval is how often peer, channel and host usage is logged.
	// Zero disables monitoring.
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

// RegistryConfig controls the shared delivery channel registry
type RegistryConfig struct {
	// SubscriptionMatchingEnabled gates channel creation entirely; when false
	// activating a subscription records nothing and opens nothing.
	SubscriptionMatchingEnabled bool `yaml:"subscription_matching_enabled"`
	// LockStripes is the number of per-name mutexes; rounded up to a power of two.
	LockStripes int `yaml:"lock_stripes"`
	// ChannelPrefix is prepended to every derived channel name.
	ChannelPrefix string `yaml:"channel_prefix"`
}

// Transport kinds
const (
	TransportMemory = "memory"
	TransportLibP2P = "libp2p"
	TransportOlric  = "olric"
)

// TransportConfig selects and configures the delivery channel backend
type TransportConfig struct {
	Kind         string        `yaml:"kind"`          // memory, libp2p, olric
	Namespace    string        `yaml:"namespace"`     // Prefix for topic names on shared transports
	BufferSize   int           `yaml:"buffer_size"`   // In-memory channel buffer
	OlricServers []string      `yaml:"olric_servers"` // Olric cluster addresses
	OlricTimeout time.Duration `yaml:"olric_timeout"` // Olric connect timeout
}

// DeliveryConfig configures the message handlers attached to channels
type DeliveryConfig struct {
	RestHookTimeout time.Duration     `yaml:"rest_hook_timeout"`
	RestHookHeaders map[string]string `yaml:"rest_hook_headers"`
	WebSocketWrite  time.Duration     `yaml:"websocket_write_timeout"`
	SMTP            SMTPConfig        `yaml:"smtp"`
}

// SMTPConfig enables email delivery when Host is set
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Store drivers
const (
	DriverRQLite  = "rqlite"
	DriverSQLite3 = "sqlite3"
)

// StoreConfig selects the database that persists active subscriptions
type StoreConfig struct {
	Driver string `yaml:"driver"` // rqlite, sqlite3
	DSN    string `yaml:"dsn"`    // e.g. http://localhost:5001 or file:subs.db
}

// HTTPGatewayConfig contains the HTTP API configuration
type HTTPGatewayConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listen_addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Publish and notify requests are limited per client IP. A zero rate
	// disables limiting.
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
	TrustedCIDRs       []string `yaml:"trusted_cidrs"` // Exempt from rate limiting
}

// ParseMultiaddrs converts listen addresses to multiaddr objects
func (c *Config) ParseMultiaddrs() ([]multiaddr.Multiaddr, error) {
	var addrs []multiaddr.Multiaddr
	for _, addr := range c.Node.ListenAddresses {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, ma)
	}
	return addrs, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ListenAddresses: []string{"/ip4/0.0.0.0/tcp/4001"},
			BootstrapPeers:  []string{},
			DataDir:         "./data",
			MonitorInterval: time.Minute,
		},
		Registry: RegistryConfig{
			SubscriptionMatchingEnabled: true,
			LockStripes:                 64,
			ChannelPrefix:               "subscription-delivery-",
		},
		Transport: TransportConfig{
			Kind:         TransportMemory,
			Namespace:    "default",
			BufferSize:   256,
			OlricServers: []string{"localhost:3320"},
			OlricTimeout: 10 * time.Second,
		},
		Delivery: DeliveryConfig{
			RestHookTimeout: 10 * time.Second,
			RestHookHeaders: map[string]string{},
			WebSocketWrite:  30 * time.Second,
			SMTP: SMTPConfig{
				Port: 587,
			},
		},
		Store: StoreConfig{
			Driver: DriverSQLite3,
			DSN:    "file:./data/subscriptions.db?_busy_timeout=5000",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		HTTPGateway: HTTPGatewayConfig{
			Enabled:         true,
			ListenAddr:      ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,

			RateLimitPerMinute: 600,
			RateLimitBurst:     50,
			TrustedCIDRs:       []string{"127.0.0.0/8", "::1/128"},
		},
	}
}
