package rates_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"

	"goflare.io/pricekeeper/internal/cache/ttl"
	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/rates"
	"goflare.io/pricekeeper/internal/upstream"
)

type mockSource struct {
	calls     atomic.Int64
	ratesFunc func() (map[string]float64, error)
}

func (m *mockSource) Rates(ctx context.Context) (map[string]float64, error) {
	m.calls.Inc()
	return m.ratesFunc()
}

var fallback = map[string]float64{"UAH": 41.0, "EUR": 0.9}

func newResolver(t *testing.T, src rates.Source) (*rates.Resolver, *ttl.Cache) {
	cache := ttl.New(time.Hour, zaptest.NewLogger(t))
	return rates.NewResolver(cache, src, "USD", fallback, zaptest.NewLogger(t)), cache
}

func TestResolve_IdentityCurrency(t *testing.T) {
	src := &mockSource{ratesFunc: func() (map[string]float64, error) {
		return map[string]float64{"UAH": 40.0}, nil
	}}
	r, _ := newResolver(t, src)

	for _, code := range []string{"USD", "usd", " USD "} {
		if got := r.Resolve(context.Background(), code); got != 1.0 {
			t.Errorf("Resolve(%q): expected 1.0, got %v", code, got)
		}
	}
	if n := src.calls.Load(); n != 0 {
		t.Errorf("expected no upstream calls, got %d", n)
	}
}

func TestResolve_CachesUpstreamValue(t *testing.T) {
	src := &mockSource{ratesFunc: func() (map[string]float64, error) {
		return map[string]float64{"UAH": 40.0, "EUR": 0.92}, nil
	}}
	r, _ := newResolver(t, src)
	ctx := context.Background()

	if got := r.Resolve(ctx, "UAH"); got != 40.0 {
		t.Fatalf("expected 40.0, got %v", got)
	}
	if got := r.Resolve(ctx, "UAH"); got != 40.0 {
		t.Fatalf("expected cached 40.0, got %v", got)
	}
	// EUR was carried by the same response.
	if got := r.Resolve(ctx, "EUR"); got != 0.92 {
		t.Fatalf("expected 0.92, got %v", got)
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
}

func TestResolve_FallbackIsNotCached(t *testing.T) {
	src := &mockSource{ratesFunc: func() (map[string]float64, error) {
		return nil, fmt.Errorf("%w: connection refused", models.ErrUpstreamUnavailable)
	}}
	r, cache := newResolver(t, src)
	ctx := context.Background()

	first := r.Resolve(ctx, "UAH")
	second := r.Resolve(ctx, "UAH")
	if first != 41.0 || second != 41.0 {
		t.Fatalf("expected fallback 41.0 twice, got %v and %v", first, second)
	}
	if n := src.calls.Load(); n != 2 {
		t.Errorf("expected both resolutions to reach upstream, got %d calls", n)
	}
	if cache.CountPrefix(rates.KeyPrefix) != 0 {
		t.Error("expected no cached rates after failures")
	}
}

func TestResolve_InvalidUpstreamValues(t *testing.T) {
	tests := []struct {
		name  string
		table map[string]float64
		want  float64
	}{
		{"missing currency", map[string]float64{"EUR": 0.9}, 41.0},
		{"zero", map[string]float64{"UAH": 0}, 41.0},
		{"negative", map[string]float64{"UAH": -3}, 41.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockSource{ratesFunc: func() (map[string]float64, error) { return tt.table, nil }}
			r, cache := newResolver(t, src)
			if got := r.Resolve(context.Background(), "UAH"); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if _, found := cache.Get(rates.Key("UAH")); found {
				t.Error("expected UAH not to be cached")
			}
		})
	}
}

func TestResolve_UnknownCurrencyFallsBackToIdentity(t *testing.T) {
	src := &mockSource{ratesFunc: func() (map[string]float64, error) {
		return nil, errors.New("down")
	}}
	r, _ := newResolver(t, src)
	if got := r.Resolve(context.Background(), "XYZ"); got != 1.0 {
		t.Errorf("expected identity 1.0, got %v", got)
	}
}

func TestMultiplier(t *testing.T) {
	src := &mockSource{ratesFunc: func() (map[string]float64, error) {
		return map[string]float64{"UAH": 40.0, "EUR": 0.8}, nil
	}}
	r, _ := newResolver(t, src)
	ctx := context.Background()

	if got := r.Multiplier(ctx, "UAH", "UAH"); got != 1.0 {
		t.Errorf("expected 1.0 for same currency, got %v", got)
	}
	if n := src.calls.Load(); n != 0 {
		t.Errorf("expected no upstream calls for same currency, got %d", n)
	}
	if got := r.Multiplier(ctx, "USD", "UAH"); got != 40.0 {
		t.Errorf("expected 40.0, got %v", got)
	}
	if got := r.Multiplier(ctx, "UAH", "EUR"); math.Abs(got-0.02) > 1e-12 {
		t.Errorf("expected 0.02, got %v", got)
	}
}

func TestRefresh(t *testing.T) {
	rate := atomic.NewFloat64(40.0)
	src := &mockSource{ratesFunc: func() (map[string]float64, error) {
		return map[string]float64{"UAH": rate.Load()}, nil
	}}
	r, _ := newResolver(t, src)
	ctx := context.Background()

	r.Resolve(ctx, "UAH")
	rate.Store(42.0)
	got := r.Refresh(ctx, []string{"UAH"})
	if got["UAH"] != 42.0 || got["USD"] != 1.0 {
		t.Fatalf("unexpected refresh result: %v", got)
	}
}

func TestResolve_ConcurrentMissesShareOneCall(t *testing.T) {
	release := make(chan struct{})
	src := &mockSource{ratesFunc: func() (map[string]float64, error) {
		<-release
		return map[string]float64{"UAH": 40.0}, nil
	}}
	r, _ := newResolver(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := r.Resolve(context.Background(), "UAH"); got != 40.0 {
				t.Errorf("expected 40.0, got %v", got)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := src.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
}

func TestHTTPSource(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		want    float64
		wantErr bool
	}{
		{"nested", `{"base":"USD","rates":{"uah":41.2}}`, http.StatusOK, 41.2, false},
		{"flat", `{"UAH":41.3}`, http.StatusOK, 41.3, false},
		{"malformed", `{"rates":[1,2]}`, http.StatusOK, 0, true},
		{"status", `{}`, http.StatusBadGateway, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()

			client := upstream.NewClient("rates", "UA", time.Second, gobreaker.Settings{}, nil, zaptest.NewLogger(t))
			got, err := rates.NewHTTPSource(ts.URL, client).Rates(context.Background())
			if tt.wantErr {
				if !errors.Is(err, models.ErrUpstreamUnavailable) {
					t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got["UAH"] != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got["UAH"])
			}
		})
	}
}

func TestResolve_WaiterKeepsSharedFetchAfterOtherCallerTimesOut(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	src := &mockSource{ratesFunc: func() (map[string]float64, error) {
		close(entered)
		<-release
		return map[string]float64{"UAH": 40.0}, nil
	}}
	r, _ := newResolver(t, src)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	first := make(chan float64, 1)
	go func() { first <- r.Resolve(short, "UAH") }()
	<-entered

	second := make(chan float64, 1)
	go func() { second <- r.Resolve(context.Background(), "UAH") }()

	if got := <-first; got != 41.0 {
		t.Errorf("expected timed-out caller to get the fallback, got %v", got)
	}
	close(release)
	if got := <-second; got != 40.0 {
		t.Errorf("expected waiting caller to get the upstream rate, got %v", got)
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
	if got := r.Resolve(context.Background(), "UAH"); got != 40.0 {
		t.Errorf("expected cached rate, got %v", got)
	}
}
