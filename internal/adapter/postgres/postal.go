package postgres

import (
	"context"
	"fmt"

	"github.com/couchcryptid/sensor-geo-enricher/internal/boundary"
)

// LoadPostalRows reads the whole postal boundary table into memory, parsing
// each geometry from its WKT form. Rows keep the table's physical order.
func LoadPostalRows(ctx context.Context, pool Pool, src boundary.Source) (*boundary.PostalDataset, error) {
	geom := src.GeomColumn
	if geom == "" {
		geom = "geom"
	}
	code := src.Attribute
	if code == "" {
		code = "postal_code"
	}
	query := fmt.Sprintf(
		`SELECT %s::text, COALESCE(country, ''), COALESCE(state, ''), ST_AsText(%s) FROM %s WHERE %s IS NOT NULL ORDER BY ctid`,
		columnIdent(code), columnIdent(geom), tableIdent(src.URI), columnIdent(geom),
	)

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query postal table %s: %w", src.URI, err)
	}
	defer rows.Close()

	var out []boundary.PostalRow
	for rows.Next() {
		var postalCode, country, state, wkt string
		if err := rows.Scan(&postalCode, &country, &state, &wkt); err != nil {
			return nil, fmt.Errorf("scan postal row: %w", err)
		}
		row, err := boundary.NewPostalRow(postalCode, country, state, wkt)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read postal table %s: %w", src.URI, err)
	}
	return boundary.NewPostalDataset(out), nil
}
