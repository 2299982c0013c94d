package boundary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postalCSV = `postal_code,country,state,wkt_geometry
97204,US,Oregon,"POLYGON((-122.70 45.50, -122.65 45.50, -122.65 45.54, -122.70 45.54, -122.70 45.50))"
98101,US,Washington,"POLYGON((-122.35 47.60, -122.32 47.60, -122.32 47.62, -122.35 47.62, -122.35 47.60))"
97209,US,Oregon,"POLYGON((-122.70 45.54, -122.65 45.54, -122.65 45.56, -122.70 45.56, -122.70 45.54))"
`

func TestReadPostalCSV(t *testing.T) {
	ds, err := ReadPostalCSV(strings.NewReader(postalCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	oregon := ds.Subset("US", "Oregon")
	require.Len(t, oregon, 2)
	assert.Equal(t, "97204", oregon[0].PostalCode, "subset keeps load order")
	assert.Equal(t, "97209", oregon[1].PostalCode)
	assert.True(t, oregon[0].Shape.Contains(-122.6765, 45.5231))

	assert.Empty(t, ds.Subset("US", "Idaho"))
	assert.Empty(t, ds.Subset("CA", "Oregon"))
}

func TestReadPostalCSV_HeaderAliases(t *testing.T) {
	input := "Country,State,Name,Geometry\nUS,Oregon,97204,\"POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))\"\n"
	ds, err := ReadPostalCSV(strings.NewReader(input))
	require.NoError(t, err)

	rows := ds.Subset("US", "Oregon")
	require.Len(t, rows, 1)
	assert.Equal(t, "97204", rows[0].PostalCode)
}

func TestReadPostalCSV_Errors(t *testing.T) {
	t.Run("missing geometry column", func(t *testing.T) {
		_, err := ReadPostalCSV(strings.NewReader("postal_code,country,state\n97204,US,Oregon\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wkt_geometry")
	})

	t.Run("bad geometry", func(t *testing.T) {
		_, err := ReadPostalCSV(strings.NewReader("postal_code,country,state,wkt_geometry\n97204,US,Oregon,POINT(1 2)\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
		assert.ErrorIs(t, err, ErrNotPolygonal)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := ReadPostalCSV(strings.NewReader(""))
		require.Error(t, err)
	})
}

func TestLoadPostalCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wof.csv")
	require.NoError(t, os.WriteFile(path, []byte(postalCSV), 0o600))

	ds, err := LoadPostalCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	_, err = LoadPostalCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestPostalDataset_Nil(t *testing.T) {
	var ds *PostalDataset
	assert.Equal(t, 0, ds.Len())
	assert.Nil(t, ds.Subset("US", "Oregon"))
}
