package cycle_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"

	"goflare.io/pricekeeper/internal/cache/ttl"
	"goflare.io/pricekeeper/internal/cycle"
	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/prices"
	"goflare.io/pricekeeper/internal/pricing"
	"goflare.io/pricekeeper/internal/rates"
)

type fakeStore struct {
	mu         sync.Mutex
	lots       []models.Lot
	published  map[string]float64
	listErr    error
	publishErr map[string]error
}

func newFakeStore(lots ...models.Lot) *fakeStore {
	return &fakeStore{lots: lots, published: map[string]float64{}, publishErr: map[string]error{}}
}

func (s *fakeStore) ListLots(ctx context.Context) ([]models.Lot, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.lots, nil
}

func (s *fakeStore) GetLot(ctx context.Context, lotID string) (models.Lot, error) {
	for _, lot := range s.lots {
		if lot.ID == lotID {
			return lot, nil
		}
	}
	return models.Lot{}, models.ErrLotNotFound
}

func (s *fakeStore) PublishPrice(ctx context.Context, lotID string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.publishErr[lotID]; err != nil {
		return err
	}
	s.published[lotID] = price
	return nil
}

type rateSource struct {
	calls atomic.Int64
	rates map[string]float64
}

func (r *rateSource) Rates(ctx context.Context) (map[string]float64, error) {
	r.calls.Inc()
	return r.rates, nil
}

type priceSource struct {
	calls  atomic.Int64
	prices map[uint64]float64
	onCall func(id prices.Identifier)
}

func (p *priceSource) Price(ctx context.Context, id prices.Identifier, currency string) (float64, error) {
	p.calls.Inc()
	if p.onCall != nil {
		p.onCall(id)
	}
	price, ok := p.prices[id.ID]
	if !ok {
		return 0, models.ErrUpstreamUnavailable
	}
	return price, nil
}

func (p *priceSource) Name(ctx context.Context, id prices.Identifier) (string, error) {
	return "", errors.New("unused")
}

type fixture struct {
	rates  *rateSource
	prices *priceSource
	store  *fakeStore
	cycle  *cycle.Cycle
}

func newFixture(t *testing.T, workers int, lots ...models.Lot) *fixture {
	t.Helper()
	return newDelayedFixture(t, workers, 0, lots...)
}

func newDelayedFixture(t *testing.T, workers int, delay time.Duration, lots ...models.Lot) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cache := ttl.New(time.Hour, logger)
	f := &fixture{
		rates:  &rateSource{rates: map[string]float64{"UAH": 40}},
		prices: &priceSource{prices: map[uint64]float64{730: 30, 440: 50, 570: 100}},
		store:  newFakeStore(lots...),
	}
	rr := rates.NewResolver(cache, f.rates, "USD", map[string]float64{"UAH": 41}, logger)
	pr := prices.NewResolver(cache, f.prices, delay, logger)
	calc := pricing.NewCalculator(nil, pricing.Markup{})
	f.cycle = cycle.New(f.store, rr, pr, calc, cycle.Settings{
		ReferenceCurrency: "USD",
		TargetCurrency:    "UAH",
		Epsilon:           0.005,
		Workers:           workers,
	}, logger)
	return f
}

func lot(id, item string, current float64) models.Lot {
	return models.Lot{ID: id, ItemID: item, ReferenceCurrency: "USD", MinPrice: 500, MaxPrice: 2000, CurrentPrice: current, Enabled: true}
}

func TestRun_BatchIsolation(t *testing.T) {
	f := newFixture(t, 1,
		lot("1", "730", 0),
		lot("2", "not-an-id", 0),
		lot("3", "440", 2000),
	)

	report, err := f.cycle.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}

	want := []struct {
		outcome models.Outcome
		reason  models.FailureReason
	}{
		{models.OutcomePublished, models.ReasonNone},
		{models.OutcomeFailed, models.ReasonInvalidIdentifier},
		{models.OutcomeUnchanged, models.ReasonNone},
	}
	for i, w := range want {
		got := report.Results[i]
		if got.Outcome != w.outcome || got.Reason != w.reason {
			t.Errorf("lot %s: expected %v/%q, got %v/%q", got.LotID, w.outcome, w.reason, got.Outcome, got.Reason)
		}
	}
	if report.Published != 1 || report.Unchanged != 1 || report.Failed != 1 {
		t.Errorf("unexpected counts: %+v", report)
	}
	if got := f.store.published["1"]; got != 1200 {
		t.Errorf("expected lot 1 published at 1200, got %v", got)
	}
	if _, ok := f.store.published["3"]; ok {
		t.Error("lot 3 must not be republished")
	}
	if n := f.rates.calls.Load(); n != 1 {
		t.Errorf("expected 1 rate lookup, got %d", n)
	}
	if n := f.prices.calls.Load(); n != 2 {
		t.Errorf("expected 2 price lookups, got %d", n)
	}
}

func TestRun_SharedItemsHitCache(t *testing.T) {
	f := newFixture(t, 4,
		lot("1", "730", 0),
		lot("2", "730", 0),
		lot("3", "730", 0),
		lot("4", "440", 0),
	)

	report, err := f.cycle.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Published != 4 {
		t.Errorf("expected 4 published, got %d", report.Published)
	}
	if n := f.prices.calls.Load(); n != 2 {
		t.Errorf("expected 2 price lookups, got %d", n)
	}
	if n := f.rates.calls.Load(); n != 1 {
		t.Errorf("expected 1 rate lookup, got %d", n)
	}
}

func TestProcess_Failures(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	res := f.cycle.Process(ctx, lot("x", "999", 0))
	if res.Outcome != models.OutcomeFailed || res.Reason != models.ReasonUpstreamUnresolved {
		t.Errorf("expected upstream-unresolved, got %v/%q", res.Outcome, res.Reason)
	}
	if !errors.Is(res.Err, models.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", res.Err)
	}

	bad := lot("y", "730", 0)
	bad.MinPrice, bad.MaxPrice = 2000, 500
	res = f.cycle.Process(ctx, bad)
	if res.Reason != models.ReasonInvalidBounds || !errors.Is(res.Err, models.ErrConfiguration) {
		t.Errorf("expected invalid bounds, got %q / %v", res.Reason, res.Err)
	}
	if res.ProposedPrice != nil {
		t.Error("failed lot must not carry a proposed price")
	}

	f.store.publishErr["z"] = errors.New("rejected")
	res = f.cycle.Process(ctx, lot("z", "730", 0))
	if res.Reason != models.ReasonPublishFailed || !errors.Is(res.Err, models.ErrPublishFailure) {
		t.Errorf("expected publish failure, got %q / %v", res.Reason, res.Err)
	}

	if got := f.cycle.Metrics().Failed.Load(); got != 3 {
		t.Errorf("expected 3 failures counted, got %d", got)
	}
}

func TestProcess_EpsilonAndClamp(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	// 100 USD * 40 = 4000, clamped to 2000; already published there
	res := f.cycle.Process(ctx, lot("a", "570", 2000.004))
	if res.Outcome != models.OutcomeUnchanged {
		t.Errorf("expected unchanged within epsilon, got %v", res.Outcome)
	}
	if res.ProposedPrice == nil || *res.ProposedPrice != 2000 {
		t.Errorf("expected proposed 2000, got %v", res.ProposedPrice)
	}

	res = f.cycle.Process(ctx, lot("b", "570", 1999.99))
	if res.Outcome != models.OutcomePublished {
		t.Errorf("expected published, got %v", res.Outcome)
	}
}

func TestRun_ListFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.store.listErr = models.ErrLotStoreUnavailable

	report, err := f.cycle.Run(context.Background())
	if !errors.Is(err, models.ErrLotStoreUnavailable) {
		t.Fatalf("expected ErrLotStoreUnavailable, got %v", err)
	}
	if report != nil {
		t.Error("expected no report")
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, 1, lot("1", "730", 0), lot("2", "440", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.cycle.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("expected no processed lots, got %d", len(report.Results))
	}
	if n := f.prices.calls.Load(); n != 0 {
		t.Errorf("expected no upstream calls, got %d", n)
	}
}

func TestRefreshLot(t *testing.T) {
	f := newFixture(t, 1, lot("1", "730", 0))

	res, err := f.cycle.RefreshLot(context.Background(), "1")
	if err != nil {
		t.Fatalf("RefreshLot: %v", err)
	}
	if res.Outcome != models.OutcomePublished {
		t.Errorf("expected published, got %v", res.Outcome)
	}

	if _, err := f.cycle.RefreshLot(context.Background(), "missing"); !errors.Is(err, models.ErrLotNotFound) {
		t.Errorf("expected ErrLotNotFound, got %v", err)
	}
}

func TestRun_ParallelWorkersRespectRequestSpacing(t *testing.T) {
	delay := 40 * time.Millisecond
	f := newDelayedFixture(t, 4, delay,
		lot("1", "730", 0),
		lot("2", "440", 0),
		lot("3", "570", 0),
		lot("4", "10", 0),
	)
	f.prices.prices[10] = 20

	var mu sync.Mutex
	var calls []time.Time
	f.prices.onCall = func(prices.Identifier) {
		mu.Lock()
		calls = append(calls, time.Now())
		mu.Unlock()
	}

	start := time.Now()
	report, err := f.cycle.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Published != 4 {
		t.Fatalf("expected 4 published, got %d", report.Published)
	}

	slices.SortFunc(calls, func(a, b time.Time) int { return a.Compare(b) })
	for i, at := range calls {
		if earliest := time.Duration(i+1) * delay; at.Sub(start) < earliest {
			t.Errorf("call %d at %v, expected no earlier than %v", i, at.Sub(start), earliest)
		}
	}
}

func TestRun_CancelledMidBatch(t *testing.T) {
	f := newFixture(t, 1, lot("1", "730", 0), lot("2", "440", 0), lot("3", "570", 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.prices.onCall = func(id prices.Identifier) {
		if id.ID == 730 {
			cancel()
		}
	}

	report, err := f.cycle.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("expected only the in-flight lot, got %d results", len(report.Results))
	}
	if res := report.Results[0]; res.LotID != "1" || res.Outcome != models.OutcomePublished {
		t.Errorf("expected lot 1 to finish and publish, got %s %v (%v)", res.LotID, res.Outcome, res.Err)
	}
	if got := f.store.published["1"]; got != 1200 {
		t.Errorf("expected lot 1 published at 1200, got %v", got)
	}
	if n := f.prices.calls.Load(); n != 1 {
		t.Errorf("expected remaining lots to be skipped, got %d price calls", n)
	}
}
