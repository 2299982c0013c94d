package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

// NamedSink pairs a sink with the name used in errors and logs.
type NamedSink struct {
	Name string
	domain.Sink
}

// MultiSink writes every record to each sink in order. A write succeeds only
// when all sinks accept it; the first failure stops the fan-out. Sinks must
// tolerate the duplicates a retried write produces.
type MultiSink []NamedSink

func (m MultiSink) Accept(ctx context.Context, records ...domain.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, s := range m {
		if err := s.Accept(ctx, records...); err != nil {
			return fmt.Errorf("%s sink: %w", s.Name, err)
		}
	}
	return nil
}

// CheckReadiness joins the readiness errors of the sinks that expose a
// readiness check.
func (m MultiSink) CheckReadiness(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		rc, ok := s.Sink.(interface{ CheckReadiness(context.Context) error })
		if !ok {
			continue
		}
		if err := rc.CheckReadiness(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
