package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"nftwatch/internal/model"
)

const DefaultMagicEdenURL = "https://api-mainnet.magiceden.dev/v2"

// MagicEdenConfig configures the Magic Eden activities adapter.
type MagicEdenConfig struct {
	BaseURL    string
	APIKey     string
	Limit      int
	RatePerSec int
	HTTPClient *http.Client
}

// MagicEden polls collection activities on Solana.
type MagicEden struct {
	cfg  MagicEdenConfig
	http *jsonClient
}

func NewMagicEden(cfg MagicEdenConfig) *MagicEden {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMagicEdenURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &MagicEden{
		cfg:  cfg,
		http: newJSONClient(SourceMagicEden, cfg.BaseURL, header, cfg.HTTPClient, cfg.RatePerSec),
	}
}

// Fetch returns the most recent activities, oldest first. Non-sale
// activities are passed through and skipped by the normalizer.
func (m *MagicEden) Fetch(ctx context.Context, collection model.Collection) ([]model.RawTransaction, error) {
	query := url.Values{}
	query.Set("offset", "0")
	query.Set("limit", strconv.Itoa(m.cfg.Limit))

	var items []json.RawMessage
	path := "/collections/" + url.PathEscape(collection.ID.Key) + "/activities"
	if err := m.http.get(ctx, collection.ID, path, query, &items); err != nil {
		return nil, err
	}

	out := make([]model.RawTransaction, 0, len(items))
	for _, item := range items {
		out = append(out, model.RawTransaction{Source: SourceMagicEden, Payload: item})
	}
	reverse(out)
	return out, nil
}

// ValidateKey accepts collection symbols and base58 mint addresses.
func (m *MagicEden) ValidateKey(key string) error {
	return ValidateSolanaKey(key)
}
