package lotstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/utils"
)

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	lots map[string]models.Lot
	now  func() time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory(lots ...models.Lot) *Memory {
	m := &Memory{lots: make(map[string]models.Lot, len(lots)), now: time.Now}
	for _, lot := range lots {
		m.lots[lot.ID] = lot
	}
	return m
}

func (m *Memory) ListLots(ctx context.Context) ([]models.Lot, error) {
	lots, _ := m.All(ctx)
	return enabledOnly(lots), nil
}

func (m *Memory) All(ctx context.Context) ([]models.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lots := make([]models.Lot, 0, len(m.lots))
	for _, lot := range m.lots {
		lots = append(lots, lot)
	}
	sortByID(lots)
	return lots, nil
}

func (m *Memory) GetLot(ctx context.Context, lotID string) (models.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lot, ok := m.lots[lotID]
	if !ok {
		return models.Lot{}, fmt.Errorf("%w: %s", models.ErrLotNotFound, lotID)
	}
	return lot, nil
}

func (m *Memory) PublishPrice(ctx context.Context, lotID string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lot, ok := m.lots[lotID]
	if !ok {
		return fmt.Errorf("%w: %w: %s", models.ErrPublishFailure, models.ErrLotNotFound, lotID)
	}
	lot.CurrentPrice = price
	lot.UpdatedAt = m.now()
	m.lots[lotID] = lot
	return nil
}

func (m *Memory) Save(ctx context.Context, lot models.Lot) error {
	if err := validate(lot); err != nil {
		return err
	}
	lot.ReferenceCurrency = utils.NormalizeCurrency(lot.ReferenceCurrency)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.ID] = lot
	return nil
}

func (m *Memory) Delete(ctx context.Context, lotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lots[lotID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrLotNotFound, lotID)
	}
	delete(m.lots, lotID)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
