package olric

import (
	"context"
	"fmt"
	"time"

	olriclib "github.com/olric-data/olric"
	"go.uber.org/zap"

	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

const (
	connectMaxAttempts    = 5
	connectInitialBackoff = 500 * time.Millisecond
	connectMaxBackoff     = 5 * time.Second

	healthDMap = "_subchannel_health"
)

// Client wraps an Olric cluster client whose pub/sub carries delivery channels
type Client struct {
	client  olriclib.Client
	servers []string
	logger  *logging.ColoredLogger
}

// Config holds configuration for the Olric client
type Config struct {
	// Servers is a list of Olric server addresses (e.g., ["localhost:3320"])
	// If empty, defaults to ["localhost:3320"]
	Servers []string

	// Timeout bounds the health check run after connecting.
	// If zero, defaults to 10 seconds
	Timeout time.Duration
}

// NewClient creates a new Olric client wrapper
func NewClient(cfg Config, logger *logging.ColoredLogger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	servers := cfg.Servers
	if len(servers) == 0 {
		servers = []string{"localhost:3320"}
	}

	client, err := olriclib.NewClusterClient(servers)
	if err != nil {
		return nil, fmt.Errorf("failed to create Olric cluster client: %w", err)
	}

	return &Client{
		client:  client,
		servers: servers,
		logger:  logger,
	}, nil
}

// retryPolicy bounds how often and how patiently Connect retries.
type retryPolicy struct {
	attempts   int
	initial    time.Duration
	maxBackoff time.Duration
}

var defaultRetryPolicy = retryPolicy{
	attempts:   connectMaxAttempts,
	initial:    connectInitialBackoff,
	maxBackoff: connectMaxBackoff,
}

// Connect creates a client and checks it is usable, retrying with
// exponential backoff. Only errors classed as retryable are retried; it also
// gives up early when ctx is cancelled.
func Connect(ctx context.Context, cfg Config, logger *logging.ColoredLogger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return connectWithRetry(ctx, defaultRetryPolicy, logger, func() (*Client, error) {
		client, err := NewClient(cfg, logger)
		if err != nil {
			return nil, apperrors.NewValidationError("servers", err.Error(), cfg.Servers)
		}
		hctx, cancel := context.WithTimeout(ctx, timeout)
		err = client.Health(hctx)
		cancel()
		if err != nil {
			_ = client.Close(context.Background())
			return nil, apperrors.NewServiceError("olric", "cluster health check failed", err)
		}
		return client, nil
	})
}

func connectWithRetry(ctx context.Context, policy retryPolicy, logger *logging.ColoredLogger, dial func() (*Client, error)) (*Client, error) {
	backoff := policy.initial
	var lastErr error
	for attempt := 1; attempt <= policy.attempts; attempt++ {
		client, err := dial()
		if err == nil {
			if attempt > 1 {
				logger.ComponentInfo(logging.ComponentTransport, "Olric client initialized after retries",
					zap.Int("attempts", attempt))
			}
			return client, nil
		}
		lastErr = err

		if !apperrors.ShouldRetry(err) {
			logger.ComponentError(logging.ComponentTransport, "Olric client init failed, not retrying",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}

		logger.ComponentWarn(logging.ComponentTransport, "Olric client init attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		if attempt == policy.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > policy.maxBackoff {
			backoff = policy.maxBackoff
		}
	}

	return nil, apperrors.Wrapf(lastErr, "failed to initialize Olric client after %d attempts", policy.attempts)
}

// Health checks the cluster answers with a put/get round trip.
func (c *Client) Health(ctx context.Context) error {
	dm, err := c.client.NewDMap(healthDMap)
	if err != nil {
		return fmt.Errorf("failed to create DMap for health check: %w", err)
	}

	testKey := fmt.Sprintf("_health_%d", time.Now().UnixNano())
	testValue := "ok"

	if err := dm.Put(ctx, testKey, testValue); err != nil {
		return fmt.Errorf("health check put failed: %w", err)
	}

	gr, err := dm.Get(ctx, testKey)
	if err != nil {
		return fmt.Errorf("health check get failed: %w", err)
	}

	val, err := gr.String()
	if err != nil {
		return fmt.Errorf("health check value decode failed: %w", err)
	}

	if val != testValue {
		return fmt.Errorf("health check value mismatch: expected %q, got %q", testValue, val)
	}

	_, _ = dm.Delete(ctx, testKey)
	return nil
}

// Servers returns the addresses the client was created with.
func (c *Client) Servers() []string {
	return c.servers
}

// Close closes the Olric client connection
func (c *Client) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Close(ctx)
}

// GetClient returns the underlying Olric client
func (c *Client) GetClient() olriclib.Client {
	return c.client
}
