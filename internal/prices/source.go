package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/upstream"
	"goflare.io/pricekeeper/internal/utils"
)

// Source looks up store data for one item. Price returns 0 with a nil error
// when the store confirms the item has no purchasable price.
type Source interface {
	Price(ctx context.Context, id Identifier, currency string) (float64, error)
	Name(ctx context.Context, id Identifier) (string, error)
}

// StoreSource talks to the store's appdetails/packagedetails endpoints.
type StoreSource struct {
	BaseURL       string
	Client        *upstream.Client
	Regions       map[string]string
	DefaultRegion string
}

// NewStoreSource creates a StoreSource.
func NewStoreSource(baseURL string, client *upstream.Client, regions map[string]string, defaultRegion string) *StoreSource {
	return &StoreSource{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Client:        client,
		Regions:       regions,
		DefaultRegion: defaultRegion,
	}
}

// storeEnvelope is the per-id wrapper of every details response.
type storeEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type priceOverview struct {
	Currency string `json:"currency"`
	Final    *int64 `json:"final"`
}

type itemData struct {
	Name          string         `json:"name"`
	PriceOverview *priceOverview `json:"price_overview"`
	Price         *priceOverview `json:"price"`
}

func (s *StoreSource) region(currency string) string {
	if cc, ok := s.Regions[utils.NormalizeCurrency(currency)]; ok {
		return cc
	}
	return s.DefaultRegion
}

func (s *StoreSource) detailsURL(id Identifier, params url.Values) string {
	idStr := strconv.FormatUint(id.ID, 10)
	if id.Kind == KindPackage {
		params.Set("packageids", idStr)
		return s.BaseURL + "/packagedetails?" + params.Encode()
	}
	params.Set("appids", idStr)
	return s.BaseURL + "/appdetails?" + params.Encode()
}

// fetch returns the item data, or nil when the store reports no such item.
func (s *StoreSource) fetch(ctx context.Context, id Identifier, params url.Values) (*itemData, error) {
	var doc map[string]storeEnvelope
	if err := s.Client.GetJSON(ctx, s.detailsURL(id, params), &doc); err != nil {
		return nil, err
	}

	env, ok := doc[strconv.FormatUint(id.ID, 10)]
	if !ok || !env.Success || len(env.Data) == 0 {
		return nil, nil
	}

	var data itemData
	// Unpriced items come back with "data": [] instead of an object.
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, nil
	}
	return &data, nil
}

// Price returns the final price in major units of currency.
func (s *StoreSource) Price(ctx context.Context, id Identifier, currency string) (float64, error) {
	currency = utils.NormalizeCurrency(currency)
	params := url.Values{}
	params.Set("cc", s.region(currency))
	if id.Kind == KindApp {
		params.Set("filters", "price_overview")
	}

	data, err := s.fetch(ctx, id, params)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}

	overview := data.PriceOverview
	if id.Kind == KindPackage {
		overview = data.Price
	}
	if overview == nil || overview.Final == nil || *overview.Final <= 0 {
		return 0, nil
	}
	if overview.Currency != "" && utils.NormalizeCurrency(overview.Currency) != currency {
		return 0, fmt.Errorf("%w: store answered in %s, wanted %s",
			models.ErrUpstreamUnavailable, overview.Currency, currency)
	}
	// The store always reports hundredths.
	return float64(*overview.Final) / 100.0, nil
}

// Name returns the store title of the item.
func (s *StoreSource) Name(ctx context.Context, id Identifier) (string, error) {
	params := url.Values{}
	params.Set("filters", "basic")

	data, err := s.fetch(ctx, id, params)
	if err != nil {
		return "", err
	}
	if data == nil || data.Name == "" {
		return "", fmt.Errorf("%w: no name for %s", models.ErrUpstreamUnavailable, id)
	}
	return data.Name, nil
}
