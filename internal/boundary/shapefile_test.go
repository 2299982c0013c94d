package boundary

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestShapefile writes one clockwise square polygon per name, each
// 10 degrees wide, laid out left to right from lon 0.
func writeTestShapefile(t *testing.T, attr string, names ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adm.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField(attr, 40)}))

	for i, name := range names {
		x := float64(i * 10)
		poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{{
			{X: x, Y: 0}, {X: x, Y: 10}, {X: x + 10, Y: 10}, {X: x + 10, Y: 0}, {X: x, Y: 0},
		}}))
		row := w.Write(&poly)
		require.NoError(t, w.WriteAttribute(int(row), 0, name))
	}
	w.Close()
	renameWrittenDBF(t, path)
	return path
}

// renameWrittenDBF moves the attribute file go-shp's writer leaves at
// "<base>dbf" to "<base>.dbf", where readers look for it.
func renameWrittenDBF(t *testing.T, shpPath string) {
	t.Helper()
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
}

func TestShapefileEngine_LoadReadsAttributes(t *testing.T) {
	path := writeTestShapefile(t, "shapeName", "Alpha")

	layer, err := readShapefile(path)
	require.NoError(t, err)
	assert.Contains(t, layer.fields, "shapename")
	require.Len(t, layer.features, 1)
}

func TestShapefileEngine_QueryContaining(t *testing.T) {
	path := writeTestShapefile(t, "shapeName", "Alpha", "Beta")
	engine := NewShapefileEngine()
	src := Source{URI: path, Attribute: "shapeName"}

	require.NoError(t, engine.Load(src))

	got, err := engine.QueryContaining(context.Background(), src, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha"}, got)

	got, err = engine.QueryContaining(context.Background(), src, 15, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Beta"}, got)

	got, err = engine.QueryContaining(context.Background(), src, 50, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestShapefileEngine_AttributeCaseInsensitive(t *testing.T) {
	path := writeTestShapefile(t, "SHAPEGROUP", "USA")
	engine := NewShapefileEngine()

	got, err := engine.QueryContaining(context.Background(), Source{URI: path, Attribute: "shapeGroup"}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"USA"}, got)
}

func TestShapefileEngine_Errors(t *testing.T) {
	engine := NewShapefileEngine()

	err := engine.Load(Source{URI: filepath.Join(t.TempDir(), "missing.shp"), Attribute: "shapeName"})
	require.Error(t, err)

	path := writeTestShapefile(t, "shapeName", "Alpha")
	err = engine.Load(Source{URI: path, Attribute: "iso"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iso")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.QueryContaining(ctx, Source{URI: path, Attribute: "shapeName"}, 1, 1)
	require.ErrorIs(t, err, context.Canceled)
}
