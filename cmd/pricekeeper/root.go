package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/pricekeeper"
	"goflare.io/pricekeeper/internal/config"
)

const (
	envConfig    = "PRICEKEEPER_CONFIG"
	envRedisAddr = "PRICEKEEPER_REDIS_ADDR"
)

var errNoRedis = errors.New("no Redis address: pass --redis or set " + envRedisAddr)

var (
	cfgFile   string
	redisAddr string
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pricekeeper",
	Short: "Keep marketplace lot prices in line with store prices",
	Long: `pricekeeper converts store reference prices into the selling currency,
clamps them to each lot's bounds and publishes the ones that changed.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv(envConfig), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", os.Getenv(envRedisAddr), "Redis address of the lot store")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd, quoteCmd, lotsCmd, ratesCmd)
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig() (*config.Config, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var cfg *config.Config
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile, config.WithLogger(logger))
	} else {
		cfg, err = config.NewConfig(config.WithLogger(logger))
	}
	if err != nil {
		return nil, err
	}
	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	return cfg, nil
}

// openStore returns the Redis store when configured, else an empty memory
// store unless requireRedis is set.
func openStore(ctx context.Context, cfg *config.Config, requireRedis bool) (pricekeeper.Store, error) {
	if cfg.Redis.Addr == "" {
		if requireRedis {
			return nil, errNoRedis
		}
		cfg.Logger.Warn("No Redis configured, using an empty in-memory lot store")
		return pricekeeper.NewMemoryStore(), nil
	}
	return pricekeeper.NewRedisStore(ctx, cfg)
}

// openKeeper loads config and store and builds a Keeper.
func openKeeper(ctx context.Context, requireRedis bool) (*pricekeeper.Keeper, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx, cfg, requireRedis)
	if err != nil {
		return nil, err
	}
	keeper, err := pricekeeper.NewFromConfig(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return keeper, nil
}
