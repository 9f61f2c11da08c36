package olric

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

var fastRetry = retryPolicy{attempts: 4, initial: time.Millisecond, maxBackoff: 2 * time.Millisecond}

func TestConnectWithRetry_RetriesUnavailableCluster(t *testing.T) {
	calls := 0
	want := &Client{}
	got, err := connectWithRetry(context.Background(), fastRetry, logging.NewNopLogger(), func() (*Client, error) {
		calls++
		if calls < 3 {
			return nil, apperrors.NewServiceError("olric", "cluster health check failed", errors.New("connection refused"))
		}
		return want, nil
	})
	if err != nil {
		t.Fatalf("connectWithRetry: %v", err)
	}
	if got != want {
		t.Fatal("expected the client from the successful attempt")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestConnectWithRetry_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	_, err := connectWithRetry(context.Background(), fastRetry, logging.NewNopLogger(), func() (*Client, error) {
		calls++
		return nil, apperrors.NewValidationError("servers", "bad address", nil)
	})
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestConnectWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := connectWithRetry(context.Background(), fastRetry, logging.NewNopLogger(), func() (*Client, error) {
		calls++
		return nil, apperrors.NewServiceError("olric", "", errors.New("timeout"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != fastRetry.attempts {
		t.Fatalf("expected %d attempts, got %d", fastRetry.attempts, calls)
	}
	if apperrors.GetErrorCode(err) != apperrors.CodeServiceUnavailable {
		t.Fatalf("expected service unavailable code, got %s", apperrors.GetErrorCode(err))
	}
}

func TestConnectWithRetry_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := retryPolicy{attempts: 3, initial: time.Hour, maxBackoff: time.Hour}
	_, err := connectWithRetry(ctx, slow, logging.NewNopLogger(), func() (*Client, error) {
		cancel()
		return nil, apperrors.NewServiceError("olric", "", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
