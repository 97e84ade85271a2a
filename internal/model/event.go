package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventType distinguishes who initiated a fill.
type EventType int

const (
	// EventSale is a fill initiated by the seller (offer or bid accepted).
	EventSale EventType = iota + 1
	// EventPurchase is a fill initiated by the buyer (listing taken).
	EventPurchase
)

func (t EventType) String() string {
	switch t {
	case EventSale:
		return "sale"
	case EventPurchase:
		return "purchase"
	default:
		return "unknown"
	}
}

// ParseEventType parses "sale" or "purchase".
func ParseEventType(input string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "sale":
		return EventSale, nil
	case "purchase":
		return EventPurchase, nil
	default:
		return 0, fmt.Errorf("unknown event type: %q", input)
	}
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEventType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TransactionEvent is the canonical form of a marketplace transaction.
// It is never mutated after normalization.
type TransactionEvent struct {
	Collection CollectionID      `json:"collection"`
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Price      decimal.Decimal   `json:"price"`
	Currency   string            `json:"currency"`
	TokenID    string            `json:"token_id"`
	Buyer      string            `json:"buyer"`
	Seller     string            `json:"seller"`
	TxHash     string            `json:"tx_hash"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Key identifies the event across collections.
func (e TransactionEvent) Key() string {
	return e.Collection.String() + "#" + e.ID
}

// RawTransaction is an undecoded payload returned by a source adapter.
type RawTransaction struct {
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}
