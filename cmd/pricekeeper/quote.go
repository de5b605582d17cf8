package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	quoteCurrency string
	quoteFresh    bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote <item>",
	Short: "Price one item in the target currency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		keeper, err := openKeeper(ctx, false)
		if err != nil {
			return err
		}
		defer keeper.Close()

		if quoteFresh {
			keeper.InvalidatePrices()
		}
		q, err := keeper.Quote(ctx, args[0], quoteCurrency)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n  reference: %.2f %s\n  rate:      %.4f\n  price:     %.2f %s\n",
			keeper.ItemName(ctx, args[0]), q.ReferencePrice, q.ReferenceCurrency, q.Multiplier, q.Price, q.TargetCurrency)
		return nil
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteCurrency, "currency", "", "store currency (default: reference currency)")
	quoteCmd.Flags().BoolVar(&quoteFresh, "fresh", false, "drop cached store prices before quoting")
}
