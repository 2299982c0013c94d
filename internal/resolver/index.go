package resolver

import (
	"slices"

	"github.com/dhconnelly/rtreego"

	"github.com/couchcryptid/sensor-geo-enricher/internal/boundary"
)

// PostalIndex finds the postal row containing or touching a point within one
// country/state subset. When several rows match, the earliest in load order
// wins, whatever the index.
type PostalIndex interface {
	// Locate returns the matching row and the number of rows geometrically tested.
	Locate(lon, lat float64) (row boundary.PostalRow, tested int, ok bool)
	Len() int
}

// IndexBuilder builds a PostalIndex over a subset.
type IndexBuilder func(rows []boundary.PostalRow) PostalIndex

// LinearIndex scans every row in load order.
type LinearIndex struct {
	rows []boundary.PostalRow
}

// NewLinearIndex builds a LinearIndex.
func NewLinearIndex(rows []boundary.PostalRow) PostalIndex {
	return &LinearIndex{rows: rows}
}

func (ix *LinearIndex) Locate(lon, lat float64) (boundary.PostalRow, int, bool) {
	for i, r := range ix.rows {
		if r.Shape.ContainsOrTouches(lon, lat) {
			return r, i + 1, true
		}
	}
	return boundary.PostalRow{}, len(ix.rows), false
}

func (ix *LinearIndex) Len() int { return len(ix.rows) }

// pointTolerance pads the query point so rows whose bounding box edge passes
// through it are still returned as candidates.
const pointTolerance = 1e-9

// RTreeIndex narrows candidates by bounding box before the exact test.
type RTreeIndex struct {
	tree *rtreego.Rtree
	size int
}

type indexedRow struct {
	seq  int
	row  boundary.PostalRow
	rect rtreego.Rect
}

func (r *indexedRow) Bounds() rtreego.Rect { return r.rect }

// NewRTreeIndex bulk-loads an R-tree over the rows' bounding boxes. Rows with
// empty geometry are left out since they cannot match.
func NewRTreeIndex(rows []boundary.PostalRow) PostalIndex {
	objs := make([]rtreego.Spatial, 0, len(rows))
	for i, r := range rows {
		if r.Shape.Empty() {
			continue
		}
		b := r.Shape.Bounds()
		rect, err := rtreego.NewRectFromPoints(
			rtreego.Point{b.Min(0), b.Min(1)},
			rtreego.Point{b.Max(0), b.Max(1)},
		)
		if err != nil {
			continue
		}
		objs = append(objs, &indexedRow{seq: i, row: r, rect: rect})
	}
	return &RTreeIndex{tree: rtreego.NewTree(2, 25, 50, objs...), size: len(rows)}
}

func (ix *RTreeIndex) Locate(lon, lat float64) (boundary.PostalRow, int, bool) {
	hits := ix.tree.SearchIntersect(rtreego.Point{lon, lat}.ToRect(pointTolerance))
	candidates := make([]*indexedRow, 0, len(hits))
	for _, h := range hits {
		candidates = append(candidates, h.(*indexedRow))
	}
	slices.SortFunc(candidates, func(a, b *indexedRow) int { return a.seq - b.seq })

	for i, c := range candidates {
		if c.row.Shape.ContainsOrTouches(lon, lat) {
			return c.row, i + 1, true
		}
	}
	return boundary.PostalRow{}, len(candidates), false
}

func (ix *RTreeIndex) Len() int { return ix.size }
