package model

import (
	"fmt"
	"strings"
)

// AlertFilter selects which event types a user receives.
type AlertFilter int

const (
	FilterAll AlertFilter = iota
	FilterSales
	FilterPurchases
)

func (f AlertFilter) String() string {
	switch f {
	case FilterSales:
		return "sales"
	case FilterPurchases:
		return "purchases"
	default:
		return "all"
	}
}

// Label is the human readable form used in chat replies.
func (f AlertFilter) Label() string {
	switch f {
	case FilterSales:
		return "Sales only"
	case FilterPurchases:
		return "Purchases only"
	default:
		return "All transactions"
	}
}

// Allows reports whether an event of type t passes the filter.
func (f AlertFilter) Allows(t EventType) bool {
	switch f {
	case FilterSales:
		return t == EventSale
	case FilterPurchases:
		return t == EventPurchase
	default:
		return true
	}
}

// ParseAlertFilter accepts all, sales and purchases.
func ParseAlertFilter(input string) (AlertFilter, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "all", "":
		return FilterAll, nil
	case "sales", "sales-only", "sale":
		return FilterSales, nil
	case "purchases", "purchases-only", "purchase":
		return FilterPurchases, nil
	default:
		return FilterAll, fmt.Errorf("unknown alert type: %q", input)
	}
}

// Cadence is how often matched alerts are delivered.
type Cadence int

const (
	CadenceInstant Cadence = iota
	CadenceTenMinutes
	CadenceHourly
)

func (c Cadence) String() string {
	switch c {
	case CadenceTenMinutes:
		return "10min"
	case CadenceHourly:
		return "hourly"
	default:
		return "instant"
	}
}

// Label is the human readable form used in chat replies.
func (c Cadence) Label() string {
	switch c {
	case CadenceTenMinutes:
		return "Every 10 minutes"
	case CadenceHourly:
		return "Hourly updates"
	default:
		return "Instant alerts"
	}
}

// ParseCadence accepts instant, 10min and hourly.
func ParseCadence(input string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "instant", "":
		return CadenceInstant, nil
	case "10min", "10m", "every-10-minutes":
		return CadenceTenMinutes, nil
	case "hourly", "1h":
		return CadenceHourly, nil
	default:
		return CadenceInstant, fmt.Errorf("unknown update frequency: %q", input)
	}
}

// Preferences is the per-user alert configuration.
type Preferences struct {
	Filter  AlertFilter `json:"alert_type"`
	Cadence Cadence     `json:"update_frequency"`
}

// DefaultPreferences applies until a user changes their settings.
func DefaultPreferences() Preferences {
	return Preferences{Filter: FilterAll, Cadence: CadenceInstant}
}
