package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"nftwatch/internal/model"
	"nftwatch/internal/source"
)

const weiDecimals = 18

// Onchain decodes Transfer payloads read from an EVM node. A paid transfer
// is treated as the buyer taking a listing.
type Onchain struct{}

func (Onchain) Source() string { return source.SourceOnchain }

func (Onchain) Decode(collection model.Collection, payload json.RawMessage) (*model.TransactionEvent, error) {
	const src = source.SourceOnchain

	var tr source.TransferPayload
	if err := json.Unmarshal(payload, &tr); err != nil {
		return nil, invalid(src, "payload", err)
	}
	if tr.From == "" || common.HexToAddress(tr.From) == (common.Address{}) {
		return nil, nil
	}

	if tr.TxHash == "" {
		return nil, missing(src, "tx_hash")
	}
	if tr.TokenID == "" {
		return nil, missing(src, "token_id")
	}
	if tr.Timestamp <= 0 {
		return nil, missing(src, "timestamp")
	}
	value, err := decimal.NewFromString(tr.ValueWei)
	if err != nil {
		return nil, invalid(src, "value_wei", err)
	}
	if !value.IsPositive() {
		return nil, invalid(src, "value_wei", fmt.Errorf("transfer carries no payment"))
	}

	chain := tr.Chain
	if chain == "" {
		chain = collection.ID.Chain
	}

	return &model.TransactionEvent{
		ID:        tr.TxHash + ":" + strconv.FormatUint(uint64(tr.LogIndex), 10),
		Type:      model.EventPurchase,
		Price:     value.Shift(-weiDecimals),
		Currency:  chain.NativeCurrency(),
		TokenID:   tr.TokenID,
		Buyer:     tr.To,
		Seller:    tr.From,
		TxHash:    tr.TxHash,
		Timestamp: time.Unix(tr.Timestamp, 0).UTC(),
		Metadata: map[string]string{
			"marketplace":  "onchain",
			"block_number": strconv.FormatUint(tr.BlockNumber, 10),
		},
	}, nil
}
