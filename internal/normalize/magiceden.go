package normalize

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"nftwatch/internal/model"
	"nftwatch/internal/source"
)

type magicEdenActivity struct {
	Signature string      `json:"signature"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	TokenMint string      `json:"tokenMint"`
	BlockTime int64       `json:"blockTime"`
	Buyer     string      `json:"buyer"`
	Seller    string      `json:"seller"`
	Price     json.Number `json:"price"`
}

// magicEdenKinds maps filled activity kinds to event types; other kinds
// (list, delist, bid, cancelBid) are not transactions.
var magicEdenKinds = map[string]model.EventType{
	"buyNow":    model.EventPurchase,
	"acceptBid": model.EventSale,
}

// MagicEden decodes Magic Eden collection activities.
type MagicEden struct{}

func (MagicEden) Source() string { return source.SourceMagicEden }

func (MagicEden) Decode(_ model.Collection, payload json.RawMessage) (*model.TransactionEvent, error) {
	const src = source.SourceMagicEden

	var act magicEdenActivity
	if err := json.Unmarshal(payload, &act); err != nil {
		return nil, invalid(src, "payload", err)
	}
	eventType, ok := magicEdenKinds[act.Type]
	if !ok {
		return nil, nil
	}

	if act.Signature == "" {
		return nil, missing(src, "signature")
	}
	if act.TokenMint == "" {
		return nil, missing(src, "tokenMint")
	}
	if act.Price == "" {
		return nil, missing(src, "price")
	}
	if act.BlockTime <= 0 {
		return nil, missing(src, "blockTime")
	}
	price, err := decimal.NewFromString(act.Price.String())
	if err != nil {
		return nil, invalid(src, "price", err)
	}

	metadata := map[string]string{"marketplace": "magiceden", "activity": act.Type}
	if act.Source != "" {
		metadata["source"] = act.Source
	}

	return &model.TransactionEvent{
		ID:        act.Signature + ":" + act.TokenMint,
		Type:      eventType,
		Price:     price,
		Currency:  "SOL",
		TokenID:   act.TokenMint,
		Buyer:     act.Buyer,
		Seller:    act.Seller,
		TxHash:    act.Signature,
		Timestamp: time.Unix(act.BlockTime, 0).UTC(),
		Metadata:  metadata,
	}, nil
}
