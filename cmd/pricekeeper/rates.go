package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

var (
	ratesCached   bool
	ratesFallback bool
)

var ratesCmd = &cobra.Command{
	Use:   "rates [currency...]",
	Short: "Fetch current rates, falling back to the configured table",
	Long: `Fetch current rates for the given currencies, or for the target currency
and every currency in the fallback table. With --cached, rates still within
their TTL are not fetched again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		keeper, err := openKeeper(ctx, false)
		if err != nil {
			return err
		}
		defer keeper.Close()

		out := cmd.OutOrStdout()
		ref := keeper.Config().ReferenceCurrency
		fallback := keeper.FallbackRates()

		if ratesFallback {
			for _, code := range slices.Sorted(maps.Keys(fallback)) {
				fmt.Fprintf(out, "1 %s = %.4f %s\n", ref, fallback[code], code)
			}
			return nil
		}

		var rates map[string]float64
		if ratesCached {
			codes := args
			if len(codes) == 0 {
				codes = []string{keeper.Config().TargetCurrency}
			}
			rates = make(map[string]float64, len(codes))
			for _, code := range codes {
				rates[code] = keeper.Rate(ctx, code)
			}
		} else {
			rates = keeper.RefreshRates(ctx, args...)
		}

		for _, code := range slices.Sorted(maps.Keys(rates)) {
			line := fmt.Sprintf("1 %s = %.4f %s", ref, rates[code], code)
			if fb, ok := fallback[code]; ok && fb == rates[code] {
				line += " (fallback)"
			}
			fmt.Fprintln(out, line)
		}

		m := keeper.CacheMetrics()
		fmt.Fprintf(out, "cache: hits=%d misses=%d evictions=%d size=%d\n",
			m.Hits.Load(), m.Misses.Load(), m.Evictions.Load(), m.Size.Load())
		return nil
	},
}

func init() {
	ratesCmd.Flags().BoolVar(&ratesCached, "cached", false, "use cached rates when still fresh")
	ratesCmd.Flags().BoolVar(&ratesFallback, "fallback", false, "print the fallback table and exit")
}
