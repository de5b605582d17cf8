package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/utils"
	"goflare.io/pricekeeper/pkg/serialization"
)

// Config 用於價格同步核心的配置
type Config struct {
	ReferenceCurrency string        `yaml:"reference_currency"`
	TargetCurrency    string        `yaml:"target_currency"`
	TTL               time.Duration `yaml:"ttl"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	InterRequestDelay time.Duration `yaml:"inter_request_delay"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	UpdateInterval    time.Duration `yaml:"update_interval"`
	Workers           int           `yaml:"workers"`
	ShardCount        uint64        `yaml:"shard_count"`
	PriceEpsilon      float64       `yaml:"price_epsilon"`

	FallbackRates map[string]float64 `yaml:"fallback_rates"`
	MinorUnits    map[string]int     `yaml:"minor_units"`

	Markup        MarkupConfig     `yaml:"markup"`
	Upstream      UpstreamConfig   `yaml:"upstream"`
	Resilience    ResilienceConfig `yaml:"resilience"`
	NameCache     NameCacheConfig  `yaml:"name_cache"`
	Redis         RedisConfig      `yaml:"redis"`
	Serialization string           `yaml:"serialization"`

	Logger *zap.Logger `yaml:"-"`
}

// MarkupConfig 加價配置，全部為零時價格不變
type MarkupConfig struct {
	CurrencyPercent float64 `yaml:"currency_percent"`
	MarginPercent   float64 `yaml:"margin_percent"`
	Fixed           float64 `yaml:"fixed"`
}

// UpstreamConfig 上游來源配置
type UpstreamConfig struct {
	RatesURL      string            `yaml:"rates_url"`
	StoreURL      string            `yaml:"store_url"`
	UserAgent     string            `yaml:"user_agent"`
	Regions       map[string]string `yaml:"regions"`
	DefaultRegion string            `yaml:"default_region"`
}

// ResilienceConfig 用於設置熔斷器與退避策略
type ResilienceConfig struct {
	Breaker gobreaker.Settings `yaml:"-"`
	Backoff BackoffConfig      `yaml:"backoff"`
}

// BackoffConfig 退避策略配置，由排程器使用
type BackoffConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Factor      float64       `yaml:"factor"`
	Jitter      float64       `yaml:"jitter"`
	Strategy    string        `yaml:"strategy"`
}

// NameCacheConfig 商品名稱快取配置
type NameCacheConfig struct {
	MaxItems uint64 `yaml:"max_items"`
}

// RedisConfig 批次存儲的 Redis 配置
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrShardCountZero = errors.New("shard count must be at least 1")
)

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	cfg := Default()

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the hard defaults without a logger.
func Default() *Config {
	return &Config{
		ReferenceCurrency: "USD",
		TargetCurrency:    "USD",
		TTL:               time.Hour,
		RequestTimeout:    15 * time.Second,
		InterRequestDelay: 2 * time.Second,
		SweepInterval:     10 * time.Minute,
		UpdateInterval:    6 * time.Hour,
		Workers:           1,
		ShardCount:        16,
		PriceEpsilon:      0.005,
		FallbackRates: map[string]float64{
			"UAH": 41.82,
			"RUB": 78.42,
			"KZT": 519.86,
			"EUR": 0.85,
			"USD": 1.0,
		},
		MinorUnits: map[string]int{
			"JPY": 0,
			"KRW": 0,
		},
		Upstream: UpstreamConfig{
			RatesURL:  "https://api.exchangerate-api.com/v4/latest/USD",
			StoreURL:  "https://store.steampowered.com/api",
			UserAgent: "pricekeeper/1.0",
			Regions: map[string]string{
				"UAH": "ua",
				"KZT": "kz",
				"RUB": "ru",
				"USD": "us",
				"EUR": "eu",
			},
			DefaultRegion: "ua",
		},
		Resilience: ResilienceConfig{
			Breaker: gobreaker.Settings{
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			Backoff: BackoffConfig{
				MaxAttempts: 3,
				BaseDelay:   2 * time.Second,
				MaxDelay:    30 * time.Second,
				Factor:      2.0,
				Jitter:      0.1,
				Strategy:    "exponential",
			},
		},
		NameCache:     NameCacheConfig{MaxItems: 10000},
		Redis:         RedisConfig{KeyPrefix: "pricekeeper"},
		Serialization: serialization.JSONType,
	}
}

// finish normalizes codes, installs the default logger and validates.
func (c *Config) finish() error {
	c.ReferenceCurrency = utils.NormalizeCurrency(c.ReferenceCurrency)
	c.TargetCurrency = utils.NormalizeCurrency(c.TargetCurrency)
	c.FallbackRates = normalizeKeys(c.FallbackRates)
	c.MinorUnits = normalizeKeys(c.MinorUnits)
	c.Upstream.Regions = normalizeKeys(c.Upstream.Regions)

	if c.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to initialize default logger: %w", err)
		}
		c.Logger = logger
	}
	return c.Validate()
}

// Validate 檢查配置是否可用
func (c *Config) Validate() error {
	if c.ShardCount == 0 {
		return ErrShardCountZero
	}
	if c.ReferenceCurrency == "" || c.TargetCurrency == "" {
		return fmt.Errorf("%w: currencies must be set", models.ErrInvalidConfig)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", models.ErrInvalidConfig)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", models.ErrInvalidConfig)
	}
	if c.InterRequestDelay < 0 {
		return fmt.Errorf("%w: inter-request delay must not be negative", models.ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 || c.UpdateInterval <= 0 {
		return fmt.Errorf("%w: sweep and update intervals must be positive", models.ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", models.ErrInvalidConfig)
	}
	if c.PriceEpsilon < 0 {
		return fmt.Errorf("%w: price epsilon must not be negative", models.ErrInvalidConfig)
	}
	for code, rate := range c.FallbackRates {
		if rate <= 0 {
			return fmt.Errorf("%w: fallback rate for %s must be positive", models.ErrInvalidConfig, code)
		}
	}
	for code, digits := range c.MinorUnits {
		if digits < 0 || digits > 8 {
			return fmt.Errorf("%w: minor units for %s out of range", models.ErrInvalidConfig, code)
		}
	}
	switch c.Serialization {
	case serialization.JSONType, serialization.GobType:
	default:
		return fmt.Errorf("%w: unsupported serialization type: %s", models.ErrInvalidConfig, c.Serialization)
	}
	return nil
}

func normalizeKeys[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[utils.NormalizeCurrency(k)] = v
	}
	return out
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithTTL 設置快取存活時間
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl <= 0 {
			return errors.New("ttl must be greater than 0")
		}
		c.TTL = ttl
		return nil
	}
}

// WithRequestTimeout 設置上游請求超時
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return errors.New("request timeout must be greater than 0")
		}
		c.RequestTimeout = timeout
		return nil
	}
}

// WithInterRequestDelay 設置快取未命中時的請求間隔
func WithInterRequestDelay(delay time.Duration) Option {
	return func(c *Config) error {
		c.InterRequestDelay = delay
		return nil
	}
}

// WithCurrencies 設置參考貨幣與目標貨幣
func WithCurrencies(reference, target string) Option {
	return func(c *Config) error {
		c.ReferenceCurrency = reference
		c.TargetCurrency = target
		return nil
	}
}

// WithFallbackRates 設置備用匯率表
func WithFallbackRates(rates map[string]float64) Option {
	return func(c *Config) error {
		c.FallbackRates = rates
		return nil
	}
}

// WithMinorUnits 設置各貨幣的小數位數
func WithMinorUnits(units map[string]int) Option {
	return func(c *Config) error {
		c.MinorUnits = units
		return nil
	}
}

// WithUpstream 設置上游 URL
func WithUpstream(ratesURL, storeURL string) Option {
	return func(c *Config) error {
		c.Upstream.RatesURL = ratesURL
		c.Upstream.StoreURL = storeURL
		return nil
	}
}

// WithWorkers 設置並行處理批次的工作者數量
func WithWorkers(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return errors.New("workers must be at least 1")
		}
		c.Workers = n
		return nil
	}
}

// WithShardCount 設置分片數量
func WithShardCount(count uint64) Option {
	return func(c *Config) error {
		if count == 0 {
			return ErrShardCountZero
		}
		c.ShardCount = count
		return nil
	}
}

// WithMarkup 設置加價
func WithMarkup(m MarkupConfig) Option {
	return func(c *Config) error {
		c.Markup = m
		return nil
	}
}

// WithRedis 設置 Redis 連線
func WithRedis(r RedisConfig) Option {
	return func(c *Config) error {
		c.Redis = r
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(serializer string) Option {
	return func(c *Config) error {
		switch serializer {
		case serialization.JSONType, serialization.GobType:
			c.Serialization = serializer
			return nil
		default:
			return fmt.Errorf("unsupported serialization type: %s", serializer)
		}
	}
}
