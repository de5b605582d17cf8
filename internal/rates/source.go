package rates

import (
	"context"
	"encoding/json"
	"fmt"

	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/upstream"
	"goflare.io/pricekeeper/internal/utils"
)

// Source returns currency code -> units per one reference-currency unit.
type Source interface {
	Rates(ctx context.Context) (map[string]float64, error)
}

// HTTPSource reads an exchangerate-api style document.
type HTTPSource struct {
	URL    string
	Client *upstream.Client
}

// NewHTTPSource creates an HTTPSource.
func NewHTTPSource(url string, client *upstream.Client) *HTTPSource {
	return &HTTPSource{URL: url, Client: client}
}

// Rates fetches the rate table. Both {"rates":{...}} and a flat code->rate
// object are accepted.
func (s *HTTPSource) Rates(ctx context.Context) (map[string]float64, error) {
	var doc map[string]json.RawMessage
	if err := s.Client.GetJSON(ctx, s.URL, &doc); err != nil {
		return nil, err
	}

	raw := make(map[string]float64)
	if nested, ok := doc["rates"]; ok {
		if err := json.Unmarshal(nested, &raw); err != nil {
			return nil, fmt.Errorf("%w: malformed rates object: %w", models.ErrUpstreamUnavailable, err)
		}
	} else {
		for code, value := range doc {
			var rate float64
			if err := json.Unmarshal(value, &rate); err != nil {
				return nil, fmt.Errorf("%w: malformed rate for %s: %w", models.ErrUpstreamUnavailable, code, err)
			}
			raw[code] = rate
		}
	}

	out := make(map[string]float64, len(raw))
	for code, rate := range raw {
		out[utils.NormalizeCurrency(code)] = rate
	}
	return out, nil
}
