package models

import "go.uber.org/atomic"

// Metrics 定義快取指標統計
type Metrics struct {
	Hits      *atomic.Int64
	Misses    *atomic.Int64
	Evictions *atomic.Int64
	Size      *atomic.Int64
}

// NewMetrics 創建新的 Metrics 實例
func NewMetrics() *Metrics {
	return &Metrics{
		Hits:      atomic.NewInt64(0),
		Misses:    atomic.NewInt64(0),
		Evictions: atomic.NewInt64(0),
		Size:      atomic.NewInt64(0),
	}
}

// CycleMetrics 定義更新週期的累計統計
type CycleMetrics struct {
	Runs      *atomic.Int64
	Published *atomic.Int64
	Unchanged *atomic.Int64
	Failed    *atomic.Int64
}

// NewCycleMetrics 創建新的 CycleMetrics 實例
func NewCycleMetrics() *CycleMetrics {
	return &CycleMetrics{
		Runs:      atomic.NewInt64(0),
		Published: atomic.NewInt64(0),
		Unchanged: atomic.NewInt64(0),
		Failed:    atomic.NewInt64(0),
	}
}
