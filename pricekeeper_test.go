package pricekeeper_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"

	"goflare.io/pricekeeper"
)

type upstreams struct {
	rates  *httptest.Server
	store  *httptest.Server
	rCalls atomic.Int64
	sCalls atomic.Int64
}

func newUpstreams(t *testing.T) *upstreams {
	t.Helper()
	u := &upstreams{}
	u.rates = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.rCalls.Inc()
		fmt.Fprint(w, `{"base":"USD","rates":{"USD":1,"UAH":40,"EUR":0.9}}`)
	}))
	u.store = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.sCalls.Inc()
		switch id := r.URL.Query().Get("appids"); id {
		case "730":
			if r.URL.Query().Get("filters") == "basic" {
				fmt.Fprint(w, `{"730":{"success":true,"data":{"name":"Counter-Strike 2"}}}`)
				return
			}
			fmt.Fprint(w, `{"730":{"success":true,"data":{"price_overview":{"currency":"USD","final":3000}}}}`)
		case "570":
			fmt.Fprint(w, `{"570":{"success":true,"data":[]}}`)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(u.rates.Close)
	t.Cleanup(u.store.Close)
	return u
}

func newKeeper(t *testing.T, u *upstreams, store pricekeeper.Store) *pricekeeper.Keeper {
	t.Helper()
	k, err := pricekeeper.New(store,
		pricekeeper.WithLogger(zaptest.NewLogger(t)),
		pricekeeper.WithCurrencies("USD", "UAH"),
		pricekeeper.WithUpstream(u.rates.URL, u.store.URL),
		pricekeeper.WithInterRequestDelay(0),
		pricekeeper.WithRequestTimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func TestKeeper_RunCycle(t *testing.T) {
	u := newUpstreams(t)
	store := pricekeeper.NewMemoryStore(
		pricekeeper.Lot{ID: "1", ItemID: "730", ReferenceCurrency: "USD", MinPrice: 500, MaxPrice: 2000, Enabled: true},
		pricekeeper.Lot{ID: "2", ItemID: "bad id", ReferenceCurrency: "USD", MinPrice: 500, MaxPrice: 2000, Enabled: true},
		pricekeeper.Lot{ID: "3", ItemID: "570", ReferenceCurrency: "USD", MinPrice: 500, MaxPrice: 2000, CurrentPrice: 500, Enabled: true},
		pricekeeper.Lot{ID: "4", ItemID: "730", ReferenceCurrency: "USD", MinPrice: 1, MaxPrice: 2, Enabled: false},
	)
	k := newKeeper(t, u, store)
	ctx := context.Background()

	report, err := k.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Published != 1 || report.Unchanged != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: published=%d unchanged=%d failed=%d", report.Published, report.Unchanged, report.Failed)
	}

	lot, err := store.GetLot(ctx, "1")
	if err != nil {
		t.Fatalf("GetLot: %v", err)
	}
	if lot.CurrentPrice != 1200 {
		t.Errorf("expected 1200, got %v", lot.CurrentPrice)
	}
	if n := u.rCalls.Load(); n != 1 {
		t.Errorf("expected 1 rate call, got %d", n)
	}
	if n := u.sCalls.Load(); n != 2 {
		t.Errorf("expected 2 store calls, got %d", n)
	}

	// everything is cached now
	if _, err := k.RunCycle(ctx); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if n := u.sCalls.Load(); n != 2 {
		t.Errorf("expected no new store calls, got %d", n)
	}
	if st := k.Status(); st.Runs != 2 || st.Unchanged != 2 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestKeeper_Quote(t *testing.T) {
	u := newUpstreams(t)
	k := newKeeper(t, u, pricekeeper.NewMemoryStore())
	ctx := context.Background()

	q, err := k.Quote(ctx, "730", "")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.ReferencePrice != 30 || q.Multiplier != 40 || q.Price != 1200 || q.TargetCurrency != "UAH" {
		t.Errorf("unexpected quote: %+v", q)
	}

	if _, err := k.Quote(ctx, "440", "USD"); !errors.Is(err, pricekeeper.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if _, err := k.Quote(ctx, "sub_x", "USD"); !errors.Is(err, pricekeeper.ErrInvalidIdentifier) {
		t.Errorf("expected ErrInvalidIdentifier, got %v", err)
	}

	if name := k.ItemName(ctx, "730"); name != "Counter-Strike 2" {
		t.Errorf("expected item name, got %q", name)
	}
}

func TestKeeper_RefreshRates(t *testing.T) {
	u := newUpstreams(t)
	k := newKeeper(t, u, pricekeeper.NewMemoryStore())
	ctx := context.Background()

	if rate := k.Rate(ctx, "uah"); rate != 40 {
		t.Fatalf("expected 40, got %v", rate)
	}
	rates := k.RefreshRates(ctx, "UAH", "EUR")
	if rates["UAH"] != 40 || rates["EUR"] != 0.9 || rates["USD"] != 1 {
		t.Errorf("unexpected rates: %v", rates)
	}
	if n := u.rCalls.Load(); n != 2 {
		t.Errorf("expected refresh to refetch once, got %d calls", n)
	}
}

func TestKeeper_RefreshLot(t *testing.T) {
	u := newUpstreams(t)
	store := pricekeeper.NewMemoryStore(
		pricekeeper.Lot{ID: "1", ItemID: "730", ReferenceCurrency: "USD", MinPrice: 0, MaxPrice: 1000, Enabled: true},
	)
	k := newKeeper(t, u, store)

	res, err := k.RefreshLot(context.Background(), "1")
	if err != nil {
		t.Fatalf("RefreshLot: %v", err)
	}
	if res.ProposedPrice == nil || *res.ProposedPrice != 1000 {
		t.Errorf("expected clamp to 1000, got %v", res.ProposedPrice)
	}
	if _, err := k.RefreshLot(context.Background(), "nope"); !errors.Is(err, pricekeeper.ErrLotNotFound) {
		t.Errorf("expected ErrLotNotFound, got %v", err)
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := pricekeeper.New(nil, pricekeeper.WithLogger(zaptest.NewLogger(t))); !errors.Is(err, pricekeeper.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNew_InvalidOption(t *testing.T) {
	if _, err := pricekeeper.New(pricekeeper.NewMemoryStore(), pricekeeper.WithWorkers(0)); err == nil {
		t.Error("expected error for zero workers")
	}
}

func TestKeeper_InvalidatePrices(t *testing.T) {
	u := newUpstreams(t)
	k := newKeeper(t, u, pricekeeper.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := k.Quote(ctx, "730", "USD"); err != nil {
			t.Fatalf("Quote: %v", err)
		}
	}
	if n := u.sCalls.Load(); n != 1 {
		t.Fatalf("expected cached price on second quote, got %d store calls", n)
	}
	m := k.CacheMetrics()
	if m.Hits.Load() == 0 || m.Misses.Load() == 0 {
		t.Errorf("expected hits and misses to be counted, got hits=%d misses=%d", m.Hits.Load(), m.Misses.Load())
	}

	if n := k.InvalidatePrices(); n != 1 {
		t.Errorf("expected 1 cached price dropped, got %d", n)
	}
	if _, err := k.Quote(ctx, "730", "USD"); err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if n := u.sCalls.Load(); n != 2 {
		t.Errorf("expected a fresh store call after invalidation, got %d", n)
	}
}

func TestKeeper_FallbackRates(t *testing.T) {
	u := newUpstreams(t)
	k := newKeeper(t, u, pricekeeper.NewMemoryStore())

	fb := k.FallbackRates()
	if fb["UAH"] != 41.82 {
		t.Errorf("expected default UAH fallback, got %v", fb)
	}
	fb["UAH"] = 1
	if k.FallbackRates()["UAH"] != 41.82 {
		t.Error("expected a copy of the fallback table")
	}
}
