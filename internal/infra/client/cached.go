package client

import (
	"context"
	"strings"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/infra/observability"
	"github.com/boddenberg/txn-risk-engine/internal/port"

	"go.uber.org/zap"
)

// CachedRates puts a TTL cache in front of a RateProvider and falls back to a
// secondary provider (usually the static table) when the primary fails.
type CachedRates struct {
	primary  port.RateProvider
	fallback port.RateProvider
	cache    port.Cache[*domain.RateTable]
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewCachedRates creates a caching provider. fallback may be nil.
func NewCachedRates(
	primary port.RateProvider,
	fallback port.RateProvider,
	cache port.Cache[*domain.RateTable],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *CachedRates {
	return &CachedRates{
		primary:  primary,
		fallback: fallback,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}
}

func (c *CachedRates) Rates(ctx context.Context, base string) (*domain.RateTable, error) {
	key := strings.ToUpper(base)
	if t, ok := c.cache.Get(key); ok {
		c.metrics.IncrCacheHit("rates")
		return t, nil
	}
	c.metrics.IncrCacheMiss("rates")

	t, err := c.primary.Rates(ctx, key)
	if err == nil {
		c.cache.Set(key, t)
		return t, nil
	}

	c.metrics.IncrExternalError("rates")
	if c.fallback == nil {
		return nil, err
	}
	c.logger.Warn("rates provider failed, using fallback table",
		zap.String("base", key),
		zap.Error(err),
	)
	ft, ferr := c.fallback.Rates(ctx, key)
	if ferr != nil {
		return nil, err
	}
	return ft, nil
}
