package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sherrors "github.com/chargehub/server/internal/shared/errors"
)

const (
	// MinKeyLength and MaxKeyLength bound client-supplied idempotency keys.
	MinKeyLength = 8
	MaxKeyLength = 255
)

// Config controls result caching and execution locking.
type Config struct {
	TTL     time.Duration
	LockTTL time.Duration
}

// Service caches the results of successful operations under
// tenant-scoped idempotency keys.
type Service struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewService creates an idempotency service.
func NewService(store Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Service{store: store, cfg: cfg, logger: logger}
}

// ValidateKey checks a client-supplied idempotency key.
func ValidateKey(key string) error {
	if len(key) < MinKeyLength || len(key) > MaxKeyLength {
		return sherrors.IdempotencyError(
			fmt.Sprintf("idempotency key must be between %d and %d characters", MinKeyLength, MaxKeyLength))
	}
	return nil
}

// cacheKey namespaces a key by tenant and operation scope.
func cacheKey(tenantID uuid.UUID, scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, scope, key)
}

// Process runs op at most once per (tenant, scope, key) within the cache TTL.
// A cached result short-circuits op entirely; only successful results are
// cached, so a failed operation may be retried with the same key. A second
// caller arriving while the first still executes is rejected rather than
// left to double-execute.
func Process[T any](ctx context.Context, svc *Service, tenantID uuid.UUID, scope, key string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ValidateKey(key); err != nil {
		return zero, err
	}

	ck := cacheKey(tenantID, scope, key)

	cached, err := svc.store.Get(ctx, ck)
	if err == nil {
		var result T
		if err := json.Unmarshal(cached, &result); err != nil {
			return zero, fmt.Errorf("decode cached idempotency result: %w", err)
		}
		return result, nil
	}
	if err != ErrKeyMiss {
		return zero, fmt.Errorf("idempotency lookup: %w", err)
	}

	acquired, err := svc.store.Lock(ctx, ck, svc.cfg.LockTTL)
	if err != nil {
		return zero, fmt.Errorf("idempotency lock: %w", err)
	}
	if !acquired {
		return zero, sherrors.Conflict("a request with this idempotency key is already in progress")
	}
	defer func() {
		if err := svc.store.Unlock(ctx, ck); err != nil {
			svc.logger.Warn("idempotency unlock failed", zap.String("key", ck), zap.Error(err))
		}
	}()

	// Re-check after taking the lock: another request may have completed
	// between our miss and the lock acquisition.
	cached, err = svc.store.Get(ctx, ck)
	if err == nil {
		var result T
		if err := json.Unmarshal(cached, &result); err != nil {
			return zero, fmt.Errorf("decode cached idempotency result: %w", err)
		}
		return result, nil
	}

	result, err := op(ctx)
	if err != nil {
		return zero, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		svc.logger.Warn("idempotency result not cacheable", zap.String("key", ck), zap.Error(err))
		return result, nil
	}
	if err := svc.store.Set(ctx, ck, encoded, svc.cfg.TTL); err != nil {
		svc.logger.Warn("idempotency cache write failed", zap.String("key", ck), zap.Error(err))
	}
	return result, nil
}
