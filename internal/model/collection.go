package model

import (
	"fmt"
	"strings"
	"time"
)

// Chain names a blockchain network.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainPolygon  Chain = "polygon"
	ChainSolana   Chain = "solana"
)

// Marketplace names a transaction source on a chain.
type Marketplace string

const (
	MarketplaceOpenSea   Marketplace = "opensea"
	MarketplaceMagicEden Marketplace = "magiceden"
	MarketplaceOnchain   Marketplace = "onchain"
	MarketplaceBlur      Marketplace = "blur"
	MarketplaceLooksRare Marketplace = "looksrare"
	MarketplaceTensor    Marketplace = "tensor"
	MarketplaceOKX       Marketplace = "okx"
)

// KnownMarketplaces lists the marketplaces users may pick per chain.
// Whether a pair is actually pollable depends on the configured adapters.
var KnownMarketplaces = map[Chain][]Marketplace{
	ChainEthereum: {MarketplaceOpenSea, MarketplaceBlur, MarketplaceLooksRare, MarketplaceOnchain},
	ChainSolana:   {MarketplaceMagicEden, MarketplaceTensor},
	ChainPolygon:  {MarketplaceOpenSea, MarketplaceOKX, MarketplaceOnchain},
}

// NativeCurrency returns the default currency symbol of a chain.
func (c Chain) NativeCurrency() string {
	switch c {
	case ChainEthereum:
		return "ETH"
	case ChainSolana:
		return "SOL"
	case ChainPolygon:
		return "MATIC"
	default:
		return "Unknown"
	}
}

// CollectionID identifies a collection on a chain/marketplace pair.
type CollectionID struct {
	Chain       Chain       `json:"chain"`
	Marketplace Marketplace `json:"marketplace"`
	Key         string      `json:"key"`
}

func (id CollectionID) String() string {
	return string(id.Chain) + "/" + string(id.Marketplace) + "/" + id.Key
}

// IsZero reports whether the id has no components set.
func (id CollectionID) IsZero() bool {
	return id.Chain == "" && id.Marketplace == "" && id.Key == ""
}

// NewCollectionID lowercases chain and marketplace and trims the key.
func NewCollectionID(chain, marketplace, key string) CollectionID {
	return CollectionID{
		Chain:       Chain(strings.ToLower(strings.TrimSpace(chain))),
		Marketplace: Marketplace(strings.ToLower(strings.TrimSpace(marketplace))),
		Key:         strings.TrimSpace(key),
	}
}

// ParseCollectionID parses the chain/marketplace/key form produced by String.
func ParseCollectionID(input string) (CollectionID, error) {
	parts := strings.SplitN(strings.TrimSpace(input), "/", 3)
	if len(parts) != 3 {
		return CollectionID{}, fmt.Errorf("invalid collection id: %q", input)
	}
	id := NewCollectionID(parts[0], parts[1], parts[2])
	if id.Chain == "" || id.Marketplace == "" || id.Key == "" {
		return CollectionID{}, fmt.Errorf("invalid collection id: %q", input)
	}
	return id, nil
}

// Collection is a tracked NFT contract or series.
type Collection struct {
	ID   CollectionID `json:"id"`
	Name string       `json:"name"`
}

// DisplayName returns the name, falling back to the key.
func (c Collection) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID.Key
}

// Subscription binds a user to a collection.
type Subscription struct {
	UserID     int64      `json:"user_id"`
	Collection Collection `json:"collection"`
	CreatedAt  time.Time  `json:"created_at"`
}
