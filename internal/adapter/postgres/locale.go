package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

const localeQuery = `SELECT COALESCE(city, ''), COALESCE(locale_name, '')
FROM usps_postal_code_mapping
WHERE postal_code = $1
LIMIT 1`

// LocaleLookup resolves postal codes against the USPS mapping table.
type LocaleLookup struct {
	pool Pool
}

// NewLocaleLookup creates a lookup over pool.
func NewLocaleLookup(pool Pool) *LocaleLookup {
	return &LocaleLookup{pool: pool}
}

// LookupLocale returns the city and locale name for postalCode. A code with
// no mapping row is reported with found=false.
func (l *LocaleLookup) LookupLocale(ctx context.Context, postalCode string) (domain.Locale, bool, error) {
	var loc domain.Locale
	err := l.pool.QueryRow(ctx, localeQuery, postalCode).Scan(&loc.City, &loc.LocaleName)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Locale{}, false, nil
	}
	if err != nil {
		return domain.Locale{}, false, fmt.Errorf("lookup locale %s: %w", postalCode, err)
	}
	return loc, true, nil
}
