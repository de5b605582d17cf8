// Package lotstore holds lots for the update cycle. Memory keeps them in
// process, Redis shares them between processes.
package lotstore

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"goflare.io/pricekeeper/internal/models"
)

// Store is the lot manager used by the cycle and the CLI.
type Store interface {
	ListLots(ctx context.Context) ([]models.Lot, error)
	GetLot(ctx context.Context, lotID string) (models.Lot, error)
	PublishPrice(ctx context.Context, lotID string, price float64) error

	// All returns every lot, disabled ones included.
	All(ctx context.Context) ([]models.Lot, error)
	Save(ctx context.Context, lot models.Lot) error
	Delete(ctx context.Context, lotID string) error
	Close() error
}

func validate(lot models.Lot) error {
	if lot.ID == "" {
		return fmt.Errorf("%w: lot id is empty", models.ErrConfiguration)
	}
	if lot.ItemID == "" {
		return fmt.Errorf("%w: lot %s has no item", models.ErrConfiguration, lot.ID)
	}
	for _, bound := range []float64{lot.MinPrice, lot.MaxPrice} {
		if math.IsNaN(bound) || math.IsInf(bound, 0) {
			return fmt.Errorf("%w: lot %s has a non-finite bound", models.ErrConfiguration, lot.ID)
		}
	}
	return nil
}

func sortByID(lots []models.Lot) {
	slices.SortFunc(lots, func(a, b models.Lot) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

func enabledOnly(lots []models.Lot) []models.Lot {
	return slices.DeleteFunc(lots, func(l models.Lot) bool { return !l.Enabled })
}
