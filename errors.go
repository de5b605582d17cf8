package pricekeeper

import "goflare.io/pricekeeper/internal/models"

var (
	ErrInvalidIdentifier   = models.ErrInvalidIdentifier
	ErrUpstreamUnavailable = models.ErrUpstreamUnavailable
	ErrConfiguration       = models.ErrConfiguration
	ErrNegativePrice       = models.ErrNegativePrice
	ErrPublishFailure      = models.ErrPublishFailure
	ErrLotNotFound         = models.ErrLotNotFound
	ErrLotStoreUnavailable = models.ErrLotStoreUnavailable
	ErrInvalidConfig       = models.ErrInvalidConfig
)
