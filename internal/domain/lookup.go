package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingSource marks a boundary level with no configured dataset.
	ErrMissingSource = errors.New("boundary source not configured")

	// ErrDecode marks a message body that could not be decoded into a SensorEvent.
	ErrDecode = errors.New("decode sensor event")

	// ErrInvalidCoordinate marks a reading whose coordinates are out of range.
	ErrInvalidCoordinate = errors.New("coordinate out of range")
)

// Outcome classifies a resolver lookup.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeNotFound
	OutcomeConfigError
	OutcomeTransientError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeConfigError:
		return "config_error"
	case OutcomeTransientError:
		return "transient_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Lookup is the result of one resolver query. Value is set only for
// OutcomeFound; Err only for the two error outcomes.
type Lookup struct {
	Outcome Outcome
	Value   string
	Err     error
}

// Found returns a successful lookup carrying v.
func Found(v string) Lookup { return Lookup{Outcome: OutcomeFound, Value: v} }

// NotFound returns a lookup that matched nothing.
func NotFound() Lookup { return Lookup{Outcome: OutcomeNotFound} }

// ConfigError returns a non-retryable lookup failure.
func ConfigError(err error) Lookup { return Lookup{Outcome: OutcomeConfigError, Err: err} }

// TransientError returns a retryable lookup failure.
func TransientError(err error) Lookup { return Lookup{Outcome: OutcomeTransientError, Err: err} }

// OK reports whether the lookup found a value.
func (l Lookup) OK() bool { return l.Outcome == OutcomeFound }

// Retryable reports whether the failure may succeed on a later attempt.
func (l Lookup) Retryable() bool { return l.Outcome == OutcomeTransientError }

// Cacheable reports whether the result is stable for the lifetime of the
// loaded datasets. Errors are never cached.
func (l Lookup) Cacheable() bool {
	return l.Outcome == OutcomeFound || l.Outcome == OutcomeNotFound
}

// Ptr returns the found value as a pointer, or nil when nothing was found.
func (l Lookup) Ptr() *string {
	if !l.OK() {
		return nil
	}
	v := l.Value
	return &v
}

// LocaleLookup resolves a postal code to its USPS locale. A missing entry is
// reported with found=false and a nil error.
type LocaleLookup interface {
	LookupLocale(ctx context.Context, postalCode string) (locale Locale, found bool, err error)
}

// Sink persists enriched records. A returned error means none of the records
// can be assumed durable; the caller requeues the source message.
type Sink interface {
	Accept(ctx context.Context, records ...EnrichedRecord) error
}
