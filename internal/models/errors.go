package models

import "errors"

// 定義常見錯誤
var (
	// ErrInvalidIdentifier is returned when an item identifier fails the grammar.
	ErrInvalidIdentifier = errors.New("invalid item identifier")
	// ErrUpstreamUnavailable covers transport, timeout and payload failures of an upstream source.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrConfiguration is returned for lot bounds that cannot be honored.
	ErrConfiguration = errors.New("invalid lot configuration")
	// ErrNegativePrice is returned when a reference price or multiplier is unusable.
	ErrNegativePrice = errors.New("negative price")
	// ErrPublishFailure is returned when the lot store rejects a price update.
	ErrPublishFailure = errors.New("publish failed")
	// ErrLotNotFound is returned when the lot store has no such lot.
	ErrLotNotFound = errors.New("lot not found")
	// ErrLotStoreUnavailable is returned when the lot store cannot be reached.
	ErrLotStoreUnavailable = errors.New("lot store unavailable")
	// ErrInvalidConfig is returned by configuration validation.
	ErrInvalidConfig = errors.New("invalid config")
)

// TemporaryError marks an error as worth retrying with back-off.
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string {
	return e.Err.Error()
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

// Temporary always reports true.
func (e *TemporaryError) Temporary() bool {
	return true
}
