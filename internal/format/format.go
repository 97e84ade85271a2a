package format

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"nftwatch/internal/model"
)

const (
	addressLength = 10
	priceDecimals = 4
)

// ShortAddress keeps the first and last five characters of long addresses.
func ShortAddress(addr string) string {
	if addr == "" {
		return "Unknown"
	}
	if len(addr) <= addressLength {
		return addr
	}
	half := addressLength / 2
	return addr[:half] + "..." + addr[len(addr)-half:]
}

// Price renders an amount with four decimals and its currency.
func Price(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(priceDecimals) + " " + currency
}

// ExplorerURL links a transaction on the chain's block explorer.
func ExplorerURL(chain model.Chain, txHash string) string {
	if txHash == "" {
		return ""
	}
	switch chain {
	case model.ChainEthereum:
		return "https://etherscan.io/tx/" + txHash
	case model.ChainPolygon:
		return "https://polygonscan.com/tx/" + txHash
	case model.ChainSolana:
		return "https://solscan.io/tx/" + txHash
	default:
		return ""
	}
}

// Formatter renders alert messages. Names resolves display names for
// collections; when nil, the collection key is used.
type Formatter struct {
	Names func(id model.CollectionID) string
}

func (f Formatter) name(id model.CollectionID) string {
	if f.Names != nil {
		if n := f.Names(id); n != "" {
			return n
		}
	}
	return id.Key
}

// Alert renders a single event.
func (f Formatter) Alert(event model.TransactionEvent) string {
	var b strings.Builder
	switch event.Type {
	case model.EventPurchase:
		b.WriteString("🟢 New Purchase Alert! 🟢\n\n")
	default:
		b.WriteString("🔴 New Sale Alert! 🔴\n\n")
	}

	currency := event.Currency
	if currency == "" {
		currency = event.Collection.Chain.NativeCurrency()
	}
	tokenID := event.TokenID
	if tokenID == "" {
		tokenID = "Unknown"
	}

	fmt.Fprintf(&b, "Collection: %s\n", f.name(event.Collection))
	fmt.Fprintf(&b, "Blockchain: %s\n", event.Collection.Chain)
	fmt.Fprintf(&b, "NFT ID: #%s\n", tokenID)
	fmt.Fprintf(&b, "Price: %s\n", Price(event.Price, currency))
	fmt.Fprintf(&b, "Buyer: %s\n", ShortAddress(event.Buyer))
	fmt.Fprintf(&b, "Seller: %s\n", ShortAddress(event.Seller))
	if url := ExplorerURL(event.Collection.Chain, event.TxHash); url != "" {
		fmt.Fprintf(&b, "\nTransaction: %s", url)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Batch renders events in arrival order; more than one event gets a header.
func (f Formatter) Batch(events []model.TransactionEvent) string {
	if len(events) == 1 {
		return f.Alert(events[0])
	}
	parts := make([]string, 0, len(events)+1)
	parts = append(parts, fmt.Sprintf("📬 %d new transactions", len(events)))
	for _, ev := range events {
		parts = append(parts, f.Alert(ev))
	}
	return strings.Join(parts, "\n\n")
}
