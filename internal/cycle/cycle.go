// Package cycle runs the per-lot pricing state machine over a batch of lots.
//
// Each lot moves Pending -> RateResolved -> PriceResolved -> Computed and ends
// Published, Unchanged or Failed. A failure is recorded on the lot and never
// stops the batch.
package cycle

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
	"golang.org/x/sync/errgroup"

	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/pricing"
	"goflare.io/pricekeeper/internal/utils"
)

// LotStore is the external lot manager.
type LotStore interface {
	ListLots(ctx context.Context) ([]models.Lot, error)
	GetLot(ctx context.Context, lotID string) (models.Lot, error)
	PublishPrice(ctx context.Context, lotID string, price float64) error
}

// RateResolver converts between currencies. It never fails.
type RateResolver interface {
	Multiplier(ctx context.Context, from, to string) float64
}

// PriceResolver looks up reference prices.
type PriceResolver interface {
	Resolve(ctx context.Context, rawID, currency string) (float64, error)
}

// Settings 週期的運行參數
type Settings struct {
	ReferenceCurrency string
	TargetCurrency    string
	Epsilon           float64
	Workers           int
}

// Cycle drives lots through rate, price and calculator.
type Cycle struct {
	store    LotStore
	rates    RateResolver
	prices   PriceResolver
	calc     *pricing.Calculator
	settings Settings
	metrics  *models.CycleMetrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a Cycle.
func New(store LotStore, rates RateResolver, prices PriceResolver, calc *pricing.Calculator, settings Settings, logger *zap.Logger) *Cycle {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	settings.ReferenceCurrency = utils.NormalizeCurrency(settings.ReferenceCurrency)
	settings.TargetCurrency = utils.NormalizeCurrency(settings.TargetCurrency)
	return &Cycle{
		store:    store,
		rates:    rates,
		prices:   prices,
		calc:     calc,
		settings: settings,
		metrics:  models.NewCycleMetrics(),
		logger:   logger,
		tracer:   otel.Tracer("goflare.io/pricekeeper/cycle"),
	}
}

// Metrics returns the cumulative counters.
func (c *Cycle) Metrics() *models.CycleMetrics {
	return c.metrics
}

// Run processes every listed lot once. The error is non-nil only when the
// lots cannot be listed or ctx was cancelled; in the latter case the report
// holds the lots that finished before cancellation.
func (c *Cycle) Run(ctx context.Context) (*models.Report, error) {
	ctx, span := c.tracer.Start(ctx, "cycle.Run")
	defer span.End()

	report := &models.Report{StartedAt: time.Now()}
	c.metrics.Runs.Inc()

	lots, err := c.store.ListLots(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list lots")
		return nil, fmt.Errorf("list lots: %w", err)
	}
	span.SetAttributes(attribute.Int("lots", len(lots)))

	results := make([]*models.PricingResult, len(lots))
	// an in-flight lot finishes even if ctx is cancelled meanwhile
	lotCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.settings.Workers)
	for i, lot := range lots {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := c.Process(lotCtx, lot)
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res != nil {
			report.Add(*res)
		}
	}
	report.Duration = time.Since(report.StartedAt)

	c.logger.Info("Update cycle finished",
		zap.Int("lots", len(lots)),
		zap.Int("published", report.Published),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return report, err
	}
	return report, nil
}

// RefreshLot runs a single lot through the state machine on demand.
func (c *Cycle) RefreshLot(ctx context.Context, lotID string) (models.PricingResult, error) {
	lot, err := c.store.GetLot(ctx, lotID)
	if err != nil {
		return models.PricingResult{LotID: lotID}, fmt.Errorf("get lot %s: %w", lotID, err)
	}
	return c.Process(ctx, lot), nil
}

// Process prices one lot and publishes the result when it changed.
func (c *Cycle) Process(ctx context.Context, lot models.Lot) models.PricingResult {
	ctx, span := c.tracer.Start(ctx, "cycle.Process", trace.WithAttributes(
		attribute.String("lot_id", lot.ID),
		attribute.String("item", lot.ItemID),
	))
	defer span.End()

	res := c.process(ctx, lot)
	switch res.Outcome {
	case models.OutcomePublished:
		c.metrics.Published.Inc()
	case models.OutcomeUnchanged:
		c.metrics.Unchanged.Inc()
	case models.OutcomeFailed:
		c.metrics.Failed.Inc()
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Reason))
	}
	return res
}

func (c *Cycle) process(ctx context.Context, lot models.Lot) models.PricingResult {
	res := models.PricingResult{LotID: lot.ID}
	currency := utils.NormalizeCurrency(lot.ReferenceCurrency)
	if currency == "" {
		currency = c.settings.ReferenceCurrency
	}
	fields := []zap.Field{zap.String("lot_id", lot.ID), zap.String("item", lot.ItemID), zap.String("currency", currency)}

	// Pending -> RateResolved
	res.Multiplier = c.rates.Multiplier(ctx, currency, c.settings.TargetCurrency)

	// RateResolved -> PriceResolved
	ref, err := c.prices.Resolve(ctx, lot.ItemID, currency)
	if err != nil {
		res.Reason = models.ReasonUpstreamUnresolved
		if errors.Is(err, models.ErrInvalidIdentifier) {
			res.Reason = models.ReasonInvalidIdentifier
		}
		return c.fail(res, err, fields)
	}
	res.ReferencePrice = ref

	// PriceResolved -> Computed
	proposed, err := c.calc.Compute(ref, res.Multiplier, lot.MinPrice, lot.MaxPrice, c.settings.TargetCurrency)
	if err != nil {
		res.Reason = models.ReasonInvalidBounds
		return c.fail(res, err, fields)
	}
	res.ProposedPrice = &proposed

	// Computed -> Published | Unchanged
	if !pricing.Changed(proposed, lot.CurrentPrice, c.settings.Epsilon) {
		res.Outcome = models.OutcomeUnchanged
		c.logger.Debug("Lot price unchanged", append(fields, zap.Float64("price", proposed))...)
		return res
	}
	if err := c.store.PublishPrice(ctx, lot.ID, proposed); err != nil {
		if !errors.Is(err, models.ErrPublishFailure) {
			err = fmt.Errorf("%w: %w", models.ErrPublishFailure, err)
		}
		res.Outcome = models.OutcomeFailed
		res.Reason = models.ReasonPublishFailed
		res.Err = err
		c.logger.Error("Failed to publish lot price", append(fields, zap.Float64("price", proposed), zap.Error(err))...)
		return res
	}
	res.Outcome = models.OutcomePublished
	c.logger.Info("Published lot price", append(fields,
		zap.Float64("old_price", lot.CurrentPrice),
		zap.Float64("price", proposed))...)
	return res
}

func (c *Cycle) fail(res models.PricingResult, err error, fields []zap.Field) models.PricingResult {
	res.Outcome = models.OutcomeFailed
	res.Err = err
	c.logger.Warn("Lot pricing failed", append(fields, zap.String("reason", string(res.Reason)), zap.Error(err))...)
	return res
}
