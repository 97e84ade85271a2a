package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nftwatch/internal/model"
	"nftwatch/internal/source"
)

type openSeaEvent struct {
	EventType      string `json:"event_type"`
	OrderHash      string `json:"order_hash"`
	OrderType      string `json:"order_type"`
	Chain          string `json:"chain"`
	Protocol       string `json:"protocol_address"`
	Transaction    string `json:"transaction"`
	Seller         string `json:"seller"`
	Buyer          string `json:"buyer"`
	EventTimestamp int64  `json:"event_timestamp"`
	NFT            *struct {
		Identifier string `json:"identifier"`
		Contract   string `json:"contract"`
		Name       string `json:"name"`
	} `json:"nft"`
	Payment *struct {
		Quantity string `json:"quantity"`
		Decimals int32  `json:"decimals"`
		Symbol   string `json:"symbol"`
	} `json:"payment"`
}

// OpenSea decodes OpenSea v2 collection events.
type OpenSea struct{}

func (OpenSea) Source() string { return source.SourceOpenSea }

func (OpenSea) Decode(_ model.Collection, payload json.RawMessage) (*model.TransactionEvent, error) {
	const src = source.SourceOpenSea

	var ev openSeaEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, invalid(src, "payload", err)
	}
	if ev.EventType != "" && ev.EventType != "sale" {
		return nil, nil
	}

	if ev.Transaction == "" {
		return nil, missing(src, "transaction")
	}
	if ev.NFT == nil || ev.NFT.Identifier == "" {
		return nil, missing(src, "nft.identifier")
	}
	if ev.Payment == nil || ev.Payment.Quantity == "" {
		return nil, missing(src, "payment.quantity")
	}
	if ev.EventTimestamp <= 0 {
		return nil, missing(src, "event_timestamp")
	}

	quantity, err := decimal.NewFromString(ev.Payment.Quantity)
	if err != nil {
		return nil, invalid(src, "payment.quantity", err)
	}
	if quantity.IsNegative() {
		return nil, invalid(src, "payment.quantity", fmt.Errorf("negative amount %s", ev.Payment.Quantity))
	}

	metadata := map[string]string{"marketplace": "opensea"}
	if ev.OrderHash != "" {
		metadata["order_hash"] = ev.OrderHash
	}
	if ev.Protocol != "" {
		metadata["protocol"] = ev.Protocol
	}
	if ev.NFT.Name != "" {
		metadata["nft_name"] = ev.NFT.Name
	}

	return &model.TransactionEvent{
		ID:        ev.Transaction + ":" + ev.NFT.Identifier,
		Type:      openSeaType(ev.OrderType),
		Price:     quantity.Shift(-ev.Payment.Decimals),
		Currency:  ev.Payment.Symbol,
		TokenID:   ev.NFT.Identifier,
		Buyer:     ev.Buyer,
		Seller:    ev.Seller,
		TxHash:    ev.Transaction,
		Timestamp: time.Unix(ev.EventTimestamp, 0).UTC(),
		Metadata:  metadata,
	}, nil
}

// openSeaType maps the filled order side: taking a listing is a purchase,
// accepting any kind of offer is a sale.
func openSeaType(orderType string) model.EventType {
	if strings.EqualFold(orderType, "listing") {
		return model.EventPurchase
	}
	return model.EventSale
}
