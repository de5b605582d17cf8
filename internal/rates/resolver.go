// Package rates resolves reference-currency -> target-currency multipliers.
// Resolution never fails: confirmed upstream values are cached, anything else
// degrades to a static fallback table that is never cached.
package rates

import (
	"context"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/pricekeeper/internal/cache/ttl"
	"goflare.io/pricekeeper/internal/utils"
)

// KeyPrefix namespaces currency rates in the shared cache.
const KeyPrefix = "rate:"

// Key returns the cache key for a currency rate.
func Key(currency string) string {
	return KeyPrefix + currency
}

// Resolver resolves currency multipliers relative to the reference currency.
type Resolver struct {
	cache     *ttl.Cache
	source    Source
	reference string
	fallback  map[string]float64
	logger    *zap.Logger
	tracer    trace.Tracer
	sf        singleflight.Group
}

// NewResolver creates a Resolver. The fallback table is copied.
func NewResolver(cache *ttl.Cache, source Source, reference string, fallback map[string]float64, logger *zap.Logger) *Resolver {
	table := make(map[string]float64, len(fallback))
	for code, rate := range fallback {
		table[utils.NormalizeCurrency(code)] = rate
	}
	return &Resolver{
		cache:     cache,
		source:    source,
		reference: utils.NormalizeCurrency(reference),
		fallback:  table,
		logger:    logger,
		tracer:    otel.Tracer("goflare.io/pricekeeper/rates"),
	}
}

// Resolve returns units of currency per one reference-currency unit.
func (r *Resolver) Resolve(ctx context.Context, currency string) float64 {
	currency = utils.NormalizeCurrency(currency)
	if currency == r.reference {
		return 1.0
	}

	ctx, span := r.tracer.Start(ctx, "rates.Resolve", trace.WithAttributes(attribute.String("currency", currency)))
	defer span.End()

	if rate, found := r.cache.GetFloat64(Key(currency)); found {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		r.logger.Debug("Using cached rate", zap.String("currency", currency), zap.Float64("rate", rate))
		return rate
	}

	// The shared fetch is detached from the first caller's cancellation;
	// each caller stops waiting on its own ctx instead.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.sf.DoChan(currency, func() (any, error) {
		// A concurrent caller may have filled the slot while we waited.
		if rate, found := r.cache.GetFloat64(Key(currency)); found {
			return rate, nil
		}
		return r.fetch(fetchCtx, currency), nil
	})

	select {
	case <-ctx.Done():
		r.logger.Warn("Gave up waiting for currency rate", zap.String("currency", currency), zap.Error(ctx.Err()))
		return r.fallbackRate(currency)
	case res := <-ch:
		return res.Val.(float64)
	}
}

func (r *Resolver) fetch(ctx context.Context, currency string) float64 {
	table, err := r.source.Rates(ctx)
	if err != nil {
		r.logger.Warn("Failed to fetch currency rates", zap.String("currency", currency), zap.Error(err))
		return r.fallbackRate(currency)
	}

	for code, rate := range table {
		if rate > 0 && code != r.reference {
			r.cache.Set(Key(code), rate)
		}
	}

	rate, ok := table[currency]
	if !ok || rate <= 0 {
		r.logger.Warn("Upstream rate missing or non-positive",
			zap.String("currency", currency), zap.Float64("rate", rate), zap.Bool("present", ok))
		return r.fallbackRate(currency)
	}

	r.logger.Info("Fetched currency rate",
		zap.String("reference", r.reference), zap.String("currency", currency), zap.Float64("rate", rate))
	return rate
}

func (r *Resolver) fallbackRate(currency string) float64 {
	rate, ok := r.fallback[currency]
	if !ok || rate <= 0 {
		r.logger.Warn("No fallback rate, using identity", zap.String("currency", currency))
		return 1.0
	}
	r.logger.Warn("Using fallback rate", zap.String("currency", currency), zap.Float64("rate", rate))
	return rate
}

// Multiplier converts an amount in from into to: amount * Multiplier(from, to).
func (r *Resolver) Multiplier(ctx context.Context, from, to string) float64 {
	from = utils.NormalizeCurrency(from)
	to = utils.NormalizeCurrency(to)
	if from == to {
		return 1.0
	}
	return r.Resolve(ctx, to) / r.Resolve(ctx, from)
}

// Refresh drops every cached rate and resolves each currency again.
func (r *Resolver) Refresh(ctx context.Context, currencies []string) map[string]float64 {
	dropped := r.cache.DeletePrefix(KeyPrefix)
	r.logger.Info("Dropped cached rates", zap.Int("count", dropped))

	out := make(map[string]float64, len(currencies)+1)
	out[r.reference] = 1.0
	for _, currency := range currencies {
		out[utils.NormalizeCurrency(currency)] = r.Resolve(ctx, currency)
	}
	return out
}

// Fallback returns a copy of the fallback table.
func (r *Resolver) Fallback() map[string]float64 {
	return maps.Clone(r.fallback)
}
