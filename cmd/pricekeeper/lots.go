package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"goflare.io/pricekeeper"
)

var lotsCmd = &cobra.Command{
	Use:   "lots",
	Short: "Manage lots in the Redis lot store",
}

var newLot = pricekeeper.Lot{Enabled: true}

var lotsAddCmd = &cobra.Command{
	Use:   "add <id> <item>",
	Short: "Add or replace a lot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer store.Close()

		lot := newLot
		lot.ID, lot.ItemID = args[0], args[1]
		if lot.MinPrice > lot.MaxPrice {
			return fmt.Errorf("%w: min %.2f > max %.2f", pricekeeper.ErrConfiguration, lot.MinPrice, lot.MaxPrice)
		}
		if existing, err := store.GetLot(ctx, lot.ID); err == nil {
			lot.CurrentPrice = existing.CurrentPrice
		}
		if err := store.Save(ctx, lot); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved lot %s\n", lot.ID)
		return nil
	},
}

var lotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all lots",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer store.Close()

		lots, err := store.All(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tITEM\tCUR\tMIN\tMAX\tPRICE\tENABLED\tUPDATED")
		for _, l := range lots {
			updated := "-"
			if !l.UpdatedAt.IsZero() {
				updated = l.UpdatedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%t\t%s\n",
				l.ID, l.ItemID, l.ReferenceCurrency, l.MinPrice, l.MaxPrice, l.CurrentPrice, l.Enabled, updated)
		}
		return w.Flush()
	},
}

var lotsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a lot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed lot %s\n", args[0])
		return nil
	},
}

func init() {
	f := lotsAddCmd.Flags()
	f.StringVar(&newLot.ReferenceCurrency, "currency", "", "store currency of the item")
	f.Float64Var(&newLot.MinPrice, "min", 0, "lowest price to publish")
	f.Float64Var(&newLot.MaxPrice, "max", 0, "highest price to publish")
	f.BoolVar(&newLot.Enabled, "enabled", true, "include the lot in update cycles")
	_ = lotsAddCmd.MarkFlagRequired("max")

	lotsCmd.AddCommand(lotsAddCmd, lotsListCmd, lotsRmCmd)
}
