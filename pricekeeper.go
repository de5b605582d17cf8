// Package pricekeeper keeps marketplace lot prices in line with a store
// reference price converted into the selling currency.
package pricekeeper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/pricekeeper/internal/cache/limited"
	"goflare.io/pricekeeper/internal/cache/ttl"
	"goflare.io/pricekeeper/internal/config"
	"goflare.io/pricekeeper/internal/cycle"
	"goflare.io/pricekeeper/internal/lotstore"
	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/prices"
	"goflare.io/pricekeeper/internal/pricing"
	"goflare.io/pricekeeper/internal/rates"
	"goflare.io/pricekeeper/internal/retrier"
	"goflare.io/pricekeeper/internal/scheduler"
	"goflare.io/pricekeeper/internal/upstream"
	"goflare.io/pricekeeper/internal/utils"
	"goflare.io/pricekeeper/pkg/serialization"
)

type (
	Lot           = models.Lot
	Report        = models.Report
	PricingResult = models.PricingResult
	Store         = lotstore.Store
	Status        = scheduler.Status
	Config        = config.Config
)

// Option 定義初始化 Keeper 的選項
type Option func(*config.Config) error

func wrap(opt config.Option) Option {
	return Option(opt)
}

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option { return wrap(config.WithLogger(logger)) }

// WithTTL 設置快取存活時間
func WithTTL(ttl time.Duration) Option { return wrap(config.WithTTL(ttl)) }

// WithRequestTimeout 設置上游請求超時
func WithRequestTimeout(d time.Duration) Option { return wrap(config.WithRequestTimeout(d)) }

// WithInterRequestDelay 設置價格查詢之間的固定延遲
func WithInterRequestDelay(d time.Duration) Option { return wrap(config.WithInterRequestDelay(d)) }

// WithCurrencies 設置參考貨幣與目標貨幣
func WithCurrencies(reference, target string) Option {
	return wrap(config.WithCurrencies(reference, target))
}

// WithFallbackRates 設置備用匯率表
func WithFallbackRates(r map[string]float64) Option { return wrap(config.WithFallbackRates(r)) }

// WithMinorUnits 設置各貨幣的小數位數
func WithMinorUnits(units map[string]int) Option { return wrap(config.WithMinorUnits(units)) }

// WithUpstream 設置匯率與商店的上游地址
func WithUpstream(ratesURL, storeURL string) Option {
	return wrap(config.WithUpstream(ratesURL, storeURL))
}

// WithWorkers 設置並行處理批次的工作者數量
func WithWorkers(n int) Option { return wrap(config.WithWorkers(n)) }

// WithMarkup 設置加價
func WithMarkup(currencyPercent, marginPercent, fixed float64) Option {
	return wrap(config.WithMarkup(config.MarkupConfig{
		CurrencyPercent: currencyPercent,
		MarginPercent:   marginPercent,
		Fixed:           fixed,
	}))
}

// Quote is an on-demand price for one item, not bound to any lot.
type Quote struct {
	ItemID            string
	ReferenceCurrency string
	ReferencePrice    float64
	TargetCurrency    string
	Multiplier        float64
	Price             float64
}

// Keeper wires the cache, resolvers, calculator, cycle and scheduler.
type Keeper struct {
	cfg       *config.Config
	cache     *ttl.Cache
	names     limited.Store
	rates     *rates.Resolver
	prices    *prices.Resolver
	nameRes   *prices.NameResolver
	calc      *pricing.Calculator
	cycle     *cycle.Cycle
	scheduler *scheduler.Scheduler
	store     lotstore.Store
	logger    *zap.Logger

	mu        sync.Mutex
	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

// New 初始化 Keeper，接受多個配置選項
func New(store Store, opts ...Option) (*Keeper, error) {
	cfgOpts := make([]config.Option, len(opts))
	for i, opt := range opts {
		cfgOpts[i] = config.Option(opt)
	}
	cfg, err := config.NewConfig(cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	return NewFromConfig(cfg, store)
}

// LoadConfig reads a YAML file over the defaults and applies opts.
func LoadConfig(path string, opts ...Option) (*Config, error) {
	cfgOpts := make([]config.Option, len(opts))
	for i, opt := range opts {
		cfgOpts[i] = config.Option(opt)
	}
	return config.Load(path, cfgOpts...)
}

// NewFromConfig builds a Keeper from a finished configuration.
func NewFromConfig(cfg *Config, store Store) (*Keeper, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: lot store is required", models.ErrInvalidConfig)
	}
	logger := cfg.Logger

	cache := ttl.New(cfg.TTL, logger.Named("cache"), ttl.WithShardCount(cfg.ShardCount))

	names, err := limited.NewRistrettoStore(cfg.NameCache.MaxItems, cfg.TTL, logger.Named("names"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize name cache: %w", err)
	}

	rateClient := upstream.NewClient("rates", cfg.Upstream.UserAgent, cfg.RequestTimeout, cfg.Resilience.Breaker, nil, logger)
	storeClient := upstream.NewClient("store", cfg.Upstream.UserAgent, cfg.RequestTimeout, cfg.Resilience.Breaker, nil, logger)

	rateRes := rates.NewResolver(cache, rates.NewHTTPSource(cfg.Upstream.RatesURL, rateClient),
		cfg.ReferenceCurrency, cfg.FallbackRates, logger.Named("rates"))

	storeSource := prices.NewStoreSource(cfg.Upstream.StoreURL, storeClient, cfg.Upstream.Regions, cfg.Upstream.DefaultRegion)
	priceRes := prices.NewResolver(cache, storeSource, cfg.InterRequestDelay, logger.Named("prices"))

	calc := pricing.NewCalculator(cfg.MinorUnits, pricing.Markup{
		CurrencyPercent: cfg.Markup.CurrencyPercent,
		MarginPercent:   cfg.Markup.MarginPercent,
		Fixed:           cfg.Markup.Fixed,
	})

	cyc := cycle.New(store, rateRes, priceRes, calc, cycle.Settings{
		ReferenceCurrency: cfg.ReferenceCurrency,
		TargetCurrency:    cfg.TargetCurrency,
		Epsilon:           cfg.PriceEpsilon,
		Workers:           cfg.Workers,
	}, logger.Named("cycle"))

	b := cfg.Resilience.Backoff
	strategy, err := retrier.ParseStrategy(b.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidConfig, err)
	}
	retry, err := retrier.NewRetrier(b.MaxAttempts, b.BaseDelay, b.MaxDelay, b.Factor, b.Jitter, strategy, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: backoff: %w", models.ErrInvalidConfig, err)
	}

	return &Keeper{
		cfg:       cfg,
		cache:     cache,
		names:     names,
		rates:     rateRes,
		prices:    priceRes,
		nameRes:   prices.NewNameResolver(names, storeSource, logger.Named("names")),
		calc:      calc,
		cycle:     cyc,
		scheduler: scheduler.New(cyc, cfg.UpdateInterval, retry, logger.Named("scheduler")),
		store:     store,
		logger:    logger,
	}, nil
}

// NewMemoryStore returns an in-process lot store.
func NewMemoryStore(lots ...Lot) Store {
	return lotstore.NewMemory(lots...)
}

// NewRedisStore connects to the Redis described by cfg.Redis.
func NewRedisStore(ctx context.Context, cfg *Config) (Store, error) {
	codec, err := serialization.New(cfg.Serialization)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := lotstore.NewRedis(client, codec, cfg.Redis.KeyPrefix, cfg.Logger.Named("lotstore"))
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return store, nil
}

// Config returns the configuration in use.
func (k *Keeper) Config() *Config {
	return k.cfg
}

// Store returns the lot store.
func (k *Keeper) Store() Store {
	return k.store
}

// Quote prices one item in the target currency without bounds.
func (k *Keeper) Quote(ctx context.Context, itemID, referenceCurrency string) (Quote, error) {
	currency := utils.NormalizeCurrency(referenceCurrency)
	if currency == "" {
		currency = k.cfg.ReferenceCurrency
	}
	q := Quote{ItemID: itemID, ReferenceCurrency: currency, TargetCurrency: k.cfg.TargetCurrency}

	ref, err := k.prices.Resolve(ctx, itemID, currency)
	if err != nil {
		return q, err
	}
	q.ReferencePrice = ref
	q.Multiplier = k.rates.Multiplier(ctx, currency, k.cfg.TargetCurrency)

	q.Price, err = k.calc.Compute(ref, q.Multiplier, 0, math.MaxFloat64, k.cfg.TargetCurrency)
	if err != nil {
		return q, err
	}
	return q, nil
}

// ItemName returns the store title of an item.
func (k *Keeper) ItemName(ctx context.Context, itemID string) string {
	return k.nameRes.Name(ctx, itemID)
}

// Rate returns units of currency per reference unit.
func (k *Keeper) Rate(ctx context.Context, currency string) float64 {
	return k.rates.Resolve(ctx, utils.NormalizeCurrency(currency))
}

// FallbackRates returns the static table used when the rate source fails.
func (k *Keeper) FallbackRates() map[string]float64 {
	return k.rates.Fallback()
}

// RefreshRates drops cached rates and resolves currencies again. With no
// currencies it refreshes the target currency and the fallback table.
func (k *Keeper) RefreshRates(ctx context.Context, currencies ...string) map[string]float64 {
	if len(currencies) == 0 {
		currencies = append(currencies, k.cfg.TargetCurrency)
		for code := range k.cfg.FallbackRates {
			if code != k.cfg.TargetCurrency {
				currencies = append(currencies, code)
			}
		}
	}
	return k.rates.Refresh(ctx, currencies)
}

// RunCycle runs one update cycle now.
func (k *Keeper) RunCycle(ctx context.Context) (*Report, error) {
	return k.scheduler.RunOnce(ctx)
}

// RefreshLot prices one lot now.
func (k *Keeper) RefreshLot(ctx context.Context, lotID string) (PricingResult, error) {
	return k.cycle.RefreshLot(ctx, lotID)
}

// InvalidatePrices drops every cached reference price.
func (k *Keeper) InvalidatePrices() int {
	return k.prices.Invalidate()
}

// Start runs the cache sweeper and the scheduler until Close.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.stopSweep == nil {
		sweepCtx, cancel := context.WithCancel(ctx)
		k.stopSweep = cancel
		k.sweepDone = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			k.cache.Run(sweepCtx, k.cfg.SweepInterval)
		}(k.sweepDone)
	}
	k.mu.Unlock()

	return k.scheduler.Start(ctx)
}

// Status reports the scheduler state.
func (k *Keeper) Status() Status {
	return k.scheduler.Status()
}

// CacheMetrics returns the shared cache counters.
func (k *Keeper) CacheMetrics() *models.Metrics {
	return k.cache.Metrics()
}

// CycleMetrics returns the cumulative cycle counters.
func (k *Keeper) CycleMetrics() *models.CycleMetrics {
	return k.cycle.Metrics()
}

// Close 關閉 Keeper，釋放資源
func (k *Keeper) Close() error {
	k.scheduler.Stop()

	k.mu.Lock()
	if k.stopSweep != nil {
		k.stopSweep()
		<-k.sweepDone
		k.stopSweep = nil
	}
	k.mu.Unlock()

	k.names.Close()
	if err := k.store.Close(); err != nil {
		return fmt.Errorf("failed to close lot store: %w", err)
	}
	return nil
}
