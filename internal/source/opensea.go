package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"nftwatch/internal/clock"
	"nftwatch/internal/model"
)

const DefaultOpenSeaURL = "https://api.opensea.io/api/v2"

var openSeaSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,127}$`)

// OpenSeaConfig configures the OpenSea events adapter.
type OpenSeaConfig struct {
	BaseURL    string
	APIKey     string
	Limit      int
	Lookback   time.Duration
	RatePerSec int
	HTTPClient *http.Client
	Clock      clock.Clock
}

// OpenSea polls the OpenSea v2 collection events endpoint for sales.
type OpenSea struct {
	cfg  OpenSeaConfig
	http *jsonClient
}

func NewOpenSea(cfg OpenSeaConfig) *OpenSea {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenSeaURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("X-API-KEY", cfg.APIKey)
	}
	return &OpenSea{
		cfg:  cfg,
		http: newJSONClient(SourceOpenSea, cfg.BaseURL, header, cfg.HTTPClient, cfg.RatePerSec),
	}
}

type openSeaEventsResponse struct {
	AssetEvents *[]json.RawMessage `json:"asset_events"`
	Next        string             `json:"next"`
}

// Fetch returns the sale events inside the lookback window, oldest first.
func (o *OpenSea) Fetch(ctx context.Context, collection model.Collection) ([]model.RawTransaction, error) {
	query := url.Values{}
	query.Set("event_type", "sale")
	query.Set("limit", strconv.Itoa(o.cfg.Limit))
	if o.cfg.Lookback > 0 {
		query.Set("after", strconv.FormatInt(o.cfg.Clock.Now().Add(-o.cfg.Lookback).Unix(), 10))
	}

	var resp openSeaEventsResponse
	path := "/events/collection/" + url.PathEscape(collection.ID.Key)
	if err := o.http.get(ctx, collection.ID, path, query, &resp); err != nil {
		return nil, err
	}
	if resp.AssetEvents == nil {
		return nil, malformed(SourceOpenSea, collection.ID, fmt.Errorf("missing asset_events"))
	}

	out := make([]model.RawTransaction, 0, len(*resp.AssetEvents))
	for _, item := range *resp.AssetEvents {
		out = append(out, model.RawTransaction{Source: SourceOpenSea, Payload: item})
	}
	reverse(out)
	return out, nil
}

// ValidateKey accepts OpenSea collection slugs.
func (o *OpenSea) ValidateKey(key string) error {
	if !openSeaSlug.MatchString(key) {
		return fmt.Errorf("invalid OpenSea collection slug: %s", key)
	}
	return nil
}
