package gateway

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/chargehub/server/internal/utils/metrics"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

// ClientConfig controls the outbound call discipline.
type ClientConfig struct {
	CallTimeout time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultClientConfig returns the default outbound call configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		CallTimeout: 15 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Client owns retry/backoff and error classification for outbound gateway
// calls. 4xx-class gateway errors are never retried; 5xx and connection
// errors retry with exponential backoff inside a circuit breaker.
type Client struct {
	provider string
	cfg      ClientConfig
	breaker  *gobreaker.CircuitBreaker[any]
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewClient creates a gateway call client for a provider.
func NewClient(provider string, cfg ClientConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name: provider,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 60 * time.Second,
	})

	return &Client{
		provider: provider,
		cfg:      cfg,
		breaker:  breaker,
		metrics:  m,
		logger:   logger,
	}
}

// Do executes a gateway call with the retry/backoff discipline.
func (c *Client) Do(ctx context.Context, operation string, call func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, call(callCtx)
		})
		cancel()

		if err == nil {
			if c.metrics != nil {
				c.metrics.GatewayRequestsTotal.WithLabelValues(c.provider, operation, "ok").Inc()
			}
			return nil
		}
		lastErr = err

		if !retryable(err) {
			if c.metrics != nil {
				c.metrics.GatewayRequestsTotal.WithLabelValues(c.provider, operation, "error").Inc()
			}
			return err
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}

		if c.metrics != nil {
			c.metrics.GatewayRetriesTotal.WithLabelValues(c.provider, operation).Inc()
		}
		c.logger.Warn("gateway call retrying",
			zap.String("provider", c.provider),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		delay := c.cfg.BaseDelay << (attempt - 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if c.metrics != nil {
		c.metrics.GatewayRequestsTotal.WithLabelValues(c.provider, operation, "error").Inc()
	}
	return lastErr
}

// retryable reports whether a gateway error is worth retrying.
// Definite caller/data errors (4xx) and an open circuit are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	return false
}
