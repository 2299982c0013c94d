// Package enrich turns sensor events into enriched records by resolving their
// administrative regions, postal code and locale.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
	"github.com/couchcryptid/sensor-geo-enricher/internal/resolver"
)

// Skip reasons, used as the "reason" metric label.
const (
	SkipNoCoordinates      = "no_coordinates"
	SkipInvalidCoordinates = "invalid_coordinates"
	SkipNoAdminMatch       = "no_admin_match"
)

// Enricher resolves the location of sensor events. It owns no state besides
// the resolvers' caches.
type Enricher struct {
	admin   *resolver.AdminResolver
	postal  *resolver.PostalResolver
	locale  domain.LocaleLookup
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithLocaleLookup enables the city and USPS locale lookup by postal code.
func WithLocaleLookup(l domain.LocaleLookup) Option {
	return func(e *Enricher) { e.locale = l }
}

// WithQueryTimeout bounds each locale lookup.
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Enricher) { e.timeout = d }
}

// New creates an Enricher over the given resolvers.
func New(admin *resolver.AdminResolver, postal *resolver.PostalResolver, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Enricher {
	e := &Enricher{
		admin:   admin,
		postal:  postal,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich resolves the location of event. A nil record with a nil error means
// the event was dropped: no coordinates, coordinates out of range, or no
// country or state match. A non-nil error is transient and the event should
// be retried.
func (e *Enricher) Enrich(ctx context.Context, event domain.SensorEvent) (*domain.EnrichedRecord, error) {
	if !event.HasCoordinates() {
		e.skip(SkipNoCoordinates, event)
		return nil, nil
	}
	lat, lon := *event.Lat, *event.Lon
	if err := domain.ValidateCoordinates(lat, lon); err != nil {
		e.skip(SkipInvalidCoordinates, event, "error", err)
		return nil, nil
	}

	regions, err := e.admin.Resolve(ctx, lat, lon)
	if err != nil {
		return nil, fmt.Errorf("resolve admin regions: %w", err)
	}
	if !regions.Country.OK() || !regions.State.OK() {
		e.skip(SkipNoAdminMatch, event,
			"country", regions.Country.Outcome.String(),
			"state", regions.State.Outcome.String(),
		)
		return nil, nil
	}

	loc := domain.Location{
		Country: regions.Country.Value,
		State:   regions.State.Value,
		County:  regions.County.Ptr(),
	}

	postal := e.postal.Resolve(loc.Country, loc.State, lat, lon)
	switch postal.Outcome {
	case domain.OutcomeFound:
		loc.PostalCode = postal.Ptr()
	case domain.OutcomeConfigError:
		// Reported once when the resolver was built.
		e.logger.Debug("postal lookup unavailable", "lat", lat, "lon", lon, "error", postal.Err)
	default:
		e.logger.Warn("no postal match",
			"lat", lat, "lon", lon, "country", loc.Country, "state", loc.State,
			"outcome", postal.Outcome.String())
	}

	if loc.PostalCode != nil && e.locale != nil {
		if err := e.lookupLocale(ctx, *loc.PostalCode, &loc); err != nil {
			return nil, err
		}
	}

	record := domain.NewEnrichedRecord(event, loc)
	return &record, nil
}

// EnrichBatch enriches every event and returns the records of those that were
// not dropped, in input order. The first transient error aborts the batch.
func (e *Enricher) EnrichBatch(ctx context.Context, events []domain.SensorEvent) ([]domain.EnrichedRecord, error) {
	records := make([]domain.EnrichedRecord, 0, len(events))
	for i := range events {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		rec, err := e.Enrich(ctx, events[i])
		if err != nil {
			return records, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// ClearCaches empties the administrative, postal subset and postal point caches.
func (e *Enricher) ClearCaches() {
	e.admin.ClearCache()
	e.postal.ClearCache()
	e.logger.Info("enrichment caches cleared")
}

func (e *Enricher) lookupLocale(ctx context.Context, postalCode string, loc *domain.Location) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	locale, found, err := e.locale.LookupLocale(ctx, postalCode)
	if err != nil {
		return fmt.Errorf("lookup locale for %s: %w", postalCode, err)
	}
	if !found {
		return nil
	}
	if locale.City != "" {
		loc.City = &locale.City
	}
	if locale.LocaleName != "" {
		loc.USPSLocaleName = &locale.LocaleName
	}
	return nil
}

func (e *Enricher) skip(reason string, event domain.SensorEvent, attrs ...any) {
	e.metrics.MessagesSkipped.WithLabelValues(reason).Inc()
	attrs = append([]any{"reason", reason, "device_id", event.DeviceID, "topic", event.Topic}, attrs...)
	if reason == SkipNoAdminMatch {
		attrs = append(attrs, "lat", *event.Lat, "lon", *event.Lon)
		e.logger.Warn("no administrative match, dropping event", attrs...)
		return
	}
	e.logger.Debug("dropping event", attrs...)
}
