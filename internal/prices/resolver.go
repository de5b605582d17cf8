// Package prices resolves store reference prices for item identifiers.
package prices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"goflare.io/pricekeeper/internal/cache/ttl"
	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/utils"
)

// KeyPrefix namespaces reference prices in the shared cache.
const KeyPrefix = "price:"

// Key returns the cache key for an item price in a currency.
func Key(id Identifier, currency string) string {
	return KeyPrefix + id.String() + ":" + currency
}

// Resolver resolves reference prices. A confirmed "no price" is cached as
// 0.0; a failed lookup is never cached.
type Resolver struct {
	cache   *ttl.Cache
	source  Source
	delay   time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
	tracer  trace.Tracer
	sf      singleflight.Group
}

// NewResolver creates a Resolver that waits delay before every upstream call.
// Calls from concurrent callers are spaced at least delay apart.
func NewResolver(cache *ttl.Cache, source Source, delay time.Duration, logger *zap.Logger) *Resolver {
	r := &Resolver{
		cache:  cache,
		source: source,
		delay:  delay,
		logger: logger,
		tracer: otel.Tracer("goflare.io/pricekeeper/prices"),
	}
	if delay > 0 {
		r.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return r
}

// Resolve returns the reference price of rawID in currency. Errors wrap
// models.ErrInvalidIdentifier or models.ErrUpstreamUnavailable.
func (r *Resolver) Resolve(ctx context.Context, rawID, currency string) (float64, error) {
	ctx, span := r.tracer.Start(ctx, "prices.Resolve",
		trace.WithAttributes(attribute.String("item", rawID), attribute.String("currency", currency)))
	defer span.End()

	id, err := ParseIdentifier(rawID)
	if err != nil {
		span.SetStatus(codes.Error, "invalid identifier")
		r.logger.Warn("Invalid item identifier", zap.String("item", rawID))
		return 0, err
	}
	currency = utils.NormalizeCurrency(currency)
	key := Key(id, currency)

	if price, found := r.cache.GetFloat64(key); found {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		r.logger.Debug("Using cached reference price",
			zap.String("item", id.String()), zap.String("currency", currency), zap.Float64("price", price))
		return price, nil
	}

	// The shared fetch is detached from the first caller's cancellation;
	// each caller stops waiting on its own ctx instead.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.sf.DoChan(key, func() (any, error) {
		if price, found := r.cache.GetFloat64(key); found {
			return price, nil
		}
		return r.fetch(fetchCtx, id, currency, key)
	})

	select {
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return 0, err
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "upstream unresolved")
			return 0, res.Err
		}
		return res.Val.(float64), nil
	}
}

func (r *Resolver) fetch(ctx context.Context, id Identifier, currency, key string) (float64, error) {
	if err := r.wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}

	price, err := r.source.Price(ctx, id, currency)
	if err != nil {
		if !errors.Is(err, models.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
		}
		r.logger.Warn("Failed to fetch reference price",
			zap.String("item", id.String()), zap.String("currency", currency), zap.Error(err))
		return 0, err
	}
	if price < 0 {
		price = 0
	}

	r.cache.Set(key, price)
	r.logger.Debug("Fetched reference price",
		zap.String("item", id.String()), zap.String("currency", currency), zap.Float64("price", price))
	return price, nil
}

// wait applies the fixed inter-request delay on top of the limiter's
// reservation, so the n-th queued call starts n*delay from now.
func (r *Resolver) wait(ctx context.Context) error {
	if r.limiter == nil {
		return ctx.Err()
	}
	res := r.limiter.Reserve()
	timer := time.NewTimer(r.delay + res.Delay())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invalidate drops every cached price.
func (r *Resolver) Invalidate() int {
	return r.cache.DeletePrefix(KeyPrefix)
}
