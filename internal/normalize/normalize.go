package normalize

import (
	"encoding/json"
	"fmt"

	"nftwatch/internal/model"
)

// Decoder turns one source's raw payload into a canonical event.
// It returns nil, nil for activities that are not transactions.
type Decoder interface {
	Source() string
	Decode(collection model.Collection, payload json.RawMessage) (*model.TransactionEvent, error)
}

// Error reports a raw record that cannot be normalized.
type Error struct {
	Source string
	Field  string
	Err    error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("normalize %s: %s: %v", e.Source, e.Field, e.Err)
	}
	return fmt.Sprintf("normalize %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func missing(src, field string) *Error {
	return &Error{Source: src, Field: field, Err: fmt.Errorf("missing")}
}

func invalid(src, field string, err error) *Error {
	return &Error{Source: src, Field: field, Err: err}
}

// Normalizer dispatches raw transactions to the decoder for their source.
type Normalizer struct {
	decoders map[string]Decoder
}

// New builds a normalizer from decoders; later decoders replace earlier ones
// registered for the same source.
func New(decoders ...Decoder) *Normalizer {
	n := &Normalizer{decoders: make(map[string]Decoder, len(decoders))}
	for _, d := range decoders {
		n.decoders[d.Source()] = d
	}
	return n
}

// Default returns a normalizer for every built-in source adapter.
func Default() *Normalizer {
	return New(OpenSea{}, MagicEden{}, Onchain{})
}

// Normalize decodes raw. The result is stamped with the collection's ID.
func (n *Normalizer) Normalize(collection model.Collection, raw model.RawTransaction) (*model.TransactionEvent, error) {
	decoder, ok := n.decoders[raw.Source]
	if !ok {
		return nil, &Error{Source: raw.Source, Err: fmt.Errorf("no decoder registered")}
	}
	if len(raw.Payload) == 0 {
		return nil, missing(raw.Source, "payload")
	}

	event, err := decoder.Decode(collection, raw.Payload)
	if err != nil || event == nil {
		return nil, err
	}
	event.Collection = collection.ID
	if event.Currency == "" {
		event.Currency = collection.ID.Chain.NativeCurrency()
	}
	return event, nil
}
