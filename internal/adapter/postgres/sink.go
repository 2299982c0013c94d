package postgres

import (
	"context"
	"fmt"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

// DefaultSinkTable receives enriched records unless configured otherwise.
const DefaultSinkTable = "sensor_data_processed"

const insertColumns = `id, timestamp, topic, device_id, temp, humidity, pressure, lat, lon, alt, sats,
	wind_speed, wind_direction, county, city, state, country, postal_code, usps_locale_name, processed_at`

// Sink inserts enriched records into a Postgres table. Record IDs are
// deterministic, so redelivered records are ignored by the primary key.
type Sink struct {
	pool  Pool
	query string
}

// NewSink creates a sink writing to table.
func NewSink(pool Pool, table string) *Sink {
	if table == "" {
		table = DefaultSinkTable
	}
	return &Sink{
		pool: pool,
		query: fmt.Sprintf(`INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (id) DO NOTHING`, tableIdent(table), insertColumns),
	}
}

// Accept inserts each record. Inserts are independent; after a failure the
// caller retries the whole set and already-written rows are skipped.
func (s *Sink) Accept(ctx context.Context, records ...domain.EnrichedRecord) error {
	for i := range records {
		r := &records[i]
		_, err := s.pool.Exec(ctx, s.query,
			r.ID, r.Timestamp, r.Topic, r.DeviceID,
			r.Temperature, r.Humidity, r.Pressure,
			r.Lat, r.Lon, r.Altitude, r.Satellites,
			r.WindSpeed, r.WindDirection,
			r.County, r.City, r.State, r.Country, r.PostalCode, r.USPSLocaleName,
			r.ProcessedAt,
		)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", r.ID, err)
		}
	}
	return nil
}

// CheckReadiness pings the database.
func (s *Sink) CheckReadiness(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
