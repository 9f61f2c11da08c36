package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "node.bootstrap_peers[0]"
	Message string // e.g., "invalid multiaddr"
	Hint    string // e.g., "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs validation of the entire config.
// It aggregates all errors so the caller can print every issue at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNode()...)
	errs = append(errs, c.validateRegistry()...)
	errs = append(errs, c.validateTransport()...)
	errs = append(errs, c.validateDelivery()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateGateway()...)

	return errs
}

func (c *Config) validateNode() []error {
	var errs []error
	nc := c.Node

	// Listen addresses only matter when libp2p carries the channels.
	if c.Transport.Kind == TransportLibP2P && len(nc.ListenAddresses) == 0 {
		errs = append(errs, ValidationError{
			Path:    "node.listen_addresses",
			Message: "must not be empty when transport.kind is libp2p",
		})
	}

	seen := make(map[string]bool)
	for i, addr := range nc.ListenAddresses {
		path := fmt.Sprintf("node.listen_addresses[%d]", i)

		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>",
			})
			continue
		}

		tcpAddr, err := manet.ToNetAddr(ma)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("cannot convert multiaddr to network address: %v", err),
				Hint:    "ensure multiaddr contains /tcp/<port>",
			})
			continue
		}

		if tcp, ok := tcpAddr.(*net.TCPAddr); ok && (tcp.Port < 1 || tcp.Port > 65535) {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid TCP port %d", tcp.Port),
				Hint:    "port must be between 1 and 65535",
			})
		}

		if seen[addr] {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "duplicate listen address",
			})
		}
		seen[addr] = true
	}

	for i, peer := range nc.BootstrapPeers {
		path := fmt.Sprintf("node.bootstrap_peers[%d]", i)
		ma, err := multiaddr.NewMultiaddr(peer)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
			continue
		}
		if _, err := ma.ValueForProtocol(multiaddr.P_P2P); err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "missing /p2p/<peerID> component",
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
		}
	}

	if nc.MonitorInterval < 0 {
		errs = append(errs, ValidationError{
			Path:    "node.monitor_interval",
			Message: "must be >= 0",
			Hint:    "use 0 to disable monitoring",
		})
	}

	if c.Transport.Kind == TransportLibP2P && nc.DataDir == "" {
		errs = append(errs, ValidationError{
			Path:    "node.data_dir",
			Message: "must not be empty when transport.kind is libp2p",
			Hint:    "the node identity key is stored there",
		})
	}

	return errs
}

func (c *Config) validateRegistry() []error {
	var errs []error
	rc := c.Registry

	if rc.LockStripes < 1 {
		errs = append(errs, ValidationError{
			Path:    "registry.lock_stripes",
			Message: fmt.Sprintf("must be >= 1; got %d", rc.LockStripes),
		})
	} else if rc.LockStripes > 1<<16 {
		errs = append(errs, ValidationError{
			Path:    "registry.lock_stripes",
			Message: fmt.Sprintf("must be <= 65536; got %d", rc.LockStripes),
		})
	}

	return errs
}

func (c *Config) validateTransport() []error {
	var errs []error
	tc := c.Transport

	switch tc.Kind {
	case TransportMemory:
		if tc.BufferSize < 0 {
			errs = append(errs, ValidationError{
				Path:    "transport.buffer_size",
				Message: fmt.Sprintf("must be >= 0; got %d", tc.BufferSize),
			})
		}
	case TransportLibP2P:
		if tc.Namespace == "" {
			errs = append(errs, ValidationError{
				Path:    "transport.namespace",
				Message: "must not be empty for libp2p",
				Hint:    "topics are joined as <namespace>.<channel>",
			})
		}
	case TransportOlric:
		if len(tc.OlricServers) == 0 {
			errs = append(errs, ValidationError{
				Path:    "transport.olric_servers",
				Message: "must not be empty for olric",
			})
		}
		for i, addr := range tc.OlricServers {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("transport.olric_servers[%d]", i),
					Message: fmt.Sprintf("invalid address: %v", err),
					Hint:    "expected host:port",
				})
			}
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "transport.kind",
			Message: fmt.Sprintf("unknown transport %q", tc.Kind),
			Hint:    "expected memory, libp2p or olric",
		})
	}

	return errs
}

func (c *Config) validateDelivery() []error {
	var errs []error
	dc := c.Delivery

	if dc.RestHookTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "delivery.rest_hook_timeout",
			Message: "must be > 0",
		})
	}
	if dc.SMTP.Host != "" {
		if dc.SMTP.Port < 1 || dc.SMTP.Port > 65535 {
			errs = append(errs, ValidationError{
				Path:    "delivery.smtp.port",
				Message: fmt.Sprintf("must be between 1 and 65535; got %d", dc.SMTP.Port),
			})
		}
		if !strings.Contains(dc.SMTP.From, "@") {
			errs = append(errs, ValidationError{
				Path:    "delivery.smtp.from",
				Message: "must be an email address when smtp.host is set",
			})
		}
	}

	return errs
}

func (c *Config) validateStore() []error {
	var errs []error
	sc := c.Store

	switch sc.Driver {
	case DriverRQLite:
		if !strings.HasPrefix(sc.DSN, "http://") && !strings.HasPrefix(sc.DSN, "https://") {
			errs = append(errs, ValidationError{
				Path:    "store.dsn",
				Message: "rqlite DSN must be an http(s) URL",
				Hint:    "e.g. http://localhost:5001",
			})
		}
	case DriverSQLite3:
		if sc.DSN == "" {
			errs = append(errs, ValidationError{
				Path:    "store.dsn",
				Message: "must not be empty",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "store.driver",
			Message: fmt.Sprintf("unknown driver %q", sc.Driver),
			Hint:    "expected rqlite or sqlite3",
		})
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	lc := c.Logging

	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", lc.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}

	switch lc.Format {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid value %q", lc.Format),
			Hint:    "allowed values: json, console",
		})
	}

	return errs
}

func (c *Config) validateGateway() []error {
	var errs []error
	gc := c.HTTPGateway

	if !gc.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(gc.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "http_gateway.listen_addr",
			Message: fmt.Sprintf("invalid address: %v", err),
			Hint:    "expected host:port or :port",
		})
	}
	if gc.RequestTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "http_gateway.request_timeout",
			Message: "must be > 0",
		})
	}
	if gc.RateLimitPerMinute < 0 {
		errs = append(errs, ValidationError{
			Path:    "http_gateway.rate_limit_per_minute",
			Message: fmt.Sprintf("must be >= 0; got %d", gc.RateLimitPerMinute),
		})
	}
	if gc.RateLimitPerMinute > 0 && gc.RateLimitBurst < 1 {
		errs = append(errs, ValidationError{
			Path:    "http_gateway.rate_limit_burst",
			Message: fmt.Sprintf("must be >= 1 when rate limiting is on; got %d", gc.RateLimitBurst),
		})
	}
	for i, cidr := range gc.TrustedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("http_gateway.trusted_cidrs[%d]", i),
				Message: fmt.Sprintf("invalid CIDR: %v", err),
				Hint:    "e.g. 10.0.0.0/8",
			})
		}
	}

	return errs
}
