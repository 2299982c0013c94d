package boundary

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// PostalRow is one postal boundary with the country and state it belongs to.
type PostalRow struct {
	PostalCode string
	Country    string
	State      string
	Shape      Shape
}

// NewPostalRow parses the row's geometry from well-known text.
func NewPostalRow(postalCode, country, state, geometryWKT string) (PostalRow, error) {
	shape, err := ParseWKT(geometryWKT)
	if err != nil {
		return PostalRow{}, fmt.Errorf("postal code %s: %w", postalCode, err)
	}
	return PostalRow{PostalCode: postalCode, Country: country, State: state, Shape: shape}, nil
}

// PostalDataset is the postal boundary table, held in memory and never
// modified after loading.
type PostalDataset struct {
	rows []PostalRow
}

// NewPostalDataset wraps rows in their load order.
func NewPostalDataset(rows []PostalRow) *PostalDataset {
	return &PostalDataset{rows: rows}
}

// Len returns the number of rows.
func (d *PostalDataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.rows)
}

// Subset returns the rows for one country and state, in load order.
func (d *PostalDataset) Subset(country, state string) []PostalRow {
	if d == nil {
		return nil
	}
	var out []PostalRow
	for _, r := range d.rows {
		if r.Country == country && r.State == state {
			out = append(out, r)
		}
	}
	return out
}

// Column names accepted in postal CSV headers, case-insensitive.
var (
	postalCodeColumns = []string{"postal_code", "postcode", "name"}
	countryColumns    = []string{"country"}
	stateColumns      = []string{"state", "region"}
	geometryColumns   = []string{"wkt_geometry", "geometry", "wkt", "geom"}
)

// LoadPostalCSV reads a postal boundary CSV export with a header row naming
// the postal code, country, state and WKT geometry columns. Geometries are
// parsed eagerly.
func LoadPostalCSV(path string) (*PostalDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open postal dataset: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	ds, err := ReadPostalCSV(f)
	if err != nil {
		return nil, fmt.Errorf("load postal dataset %s: %w", path, err)
	}
	return ds, nil
}

// ReadPostalCSV parses postal rows from r. See LoadPostalCSV.
func ReadPostalCSV(r io.Reader) (*PostalDataset, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	codeIdx, err := findColumn(cols, postalCodeColumns)
	if err != nil {
		return nil, err
	}
	countryIdx, err := findColumn(cols, countryColumns)
	if err != nil {
		return nil, err
	}
	stateIdx, err := findColumn(cols, stateColumns)
	if err != nil {
		return nil, err
	}
	geomIdx, err := findColumn(cols, geometryColumns)
	if err != nil {
		return nil, err
	}

	var rows []PostalRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := NewPostalRow(
			strings.TrimSpace(rec[codeIdx]),
			strings.TrimSpace(rec[countryIdx]),
			strings.TrimSpace(rec[stateIdx]),
			rec[geomIdx],
		)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return NewPostalDataset(rows), nil
}

func findColumn(cols map[string]int, names []string) (int, error) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, nil
		}
	}
	return 0, fmt.Errorf("missing column %q", names[0])
}
