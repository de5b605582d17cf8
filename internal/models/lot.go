package models

import "time"

// Lot is a marketplace offer whose price follows a store reference price.
type Lot struct {
	ID                string    `json:"id"`
	ItemID            string    `json:"item_id"`
	ReferenceCurrency string    `json:"reference_currency"`
	MinPrice          float64   `json:"min_price"`
	MaxPrice          float64   `json:"max_price"`
	CurrentPrice      float64   `json:"current_price"`
	Enabled           bool      `json:"enabled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Outcome is the terminal state of one lot in one cycle run.
type Outcome int

const (
	OutcomePublished Outcome = iota
	OutcomeUnchanged
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailureReason explains a failed outcome.
type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonInvalidIdentifier  FailureReason = "invalid-identifier"
	ReasonUpstreamUnresolved FailureReason = "upstream-unresolved"
	ReasonInvalidBounds      FailureReason = "invalid-bounds-or-negative-price"
	ReasonPublishFailed      FailureReason = "publish-failed"
)

// PricingResult is produced once per lot per cycle run and never persisted.
type PricingResult struct {
	LotID          string
	ReferencePrice float64
	Multiplier     float64
	ProposedPrice  *float64
	Outcome        Outcome
	Reason         FailureReason
	Err            error
}

// Report summarizes one cycle run.
type Report struct {
	Results   []PricingResult
	Published int
	Unchanged int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
}

// Add records a result and bumps the matching counter.
func (r *Report) Add(res PricingResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomePublished:
		r.Published++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeFailed:
		r.Failed++
	}
}
