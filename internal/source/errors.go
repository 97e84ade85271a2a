package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"nftwatch/internal/model"
)

// FetchErrorKind classifies adapter failures.
type FetchErrorKind int

const (
	FetchNetwork FetchErrorKind = iota
	FetchTimeout
	FetchRateLimited
	FetchMalformed
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchTimeout:
		return "timeout"
	case FetchRateLimited:
		return "rate-limited"
	case FetchMalformed:
		return "malformed"
	default:
		return "network"
	}
}

// FetchError is the only error type adapters return.
type FetchError struct {
	Kind       FetchErrorKind
	Source     string
	Collection model.CollectionID
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s %s: %s", e.Source, e.Collection, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchRateLimited
}

func malformed(src string, id model.CollectionID, err error) *FetchError {
	return &FetchError{Kind: FetchMalformed, Source: src, Collection: id, Err: err}
}

// classify wraps a transport-level error into a FetchError.
func classify(src string, id model.CollectionID, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	kind := FetchNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = FetchTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = FetchTimeout
	}
	return &FetchError{Kind: kind, Source: src, Collection: id, Err: err}
}
