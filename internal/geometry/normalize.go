// Package geometry normalizes parsed coverage documents into coordinate-
// correct GeoJSON polygons and resolves points against stored regions.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
)

// ErrEmptyGeometry marks a document left with zero polygon features after
// coercion. Ingestion must abort rather than store an empty coverage area.
var ErrEmptyGeometry = eris.New("geometry: no polygon features after normalization")

// ClosedTolerance is the coordinate tolerance under which a line's endpoints
// count as equal when deciding whether it encloses a region.
const ClosedTolerance = 1e-6

// NormalizeStats reports what normalization changed, for diagnostics.
type NormalizeStats struct {
	SwappedFeatures int `json:"swapped_features"`
	FoldedLines     int `json:"folded_lines"`
	Dropped         int `json:"dropped"`
}

// Normalize converts an arbitrary parsed geometry document into a
// FeatureCollection holding only Polygon/MultiPolygon features with
// coordinates in [lng, lat] order.
//
// Coordinate-order correction swaps any pair whose first component has
// absolute value above 90. That heuristic is safe only because this service
// operates within the Brazilian bounding box, where valid latitudes stay
// below 35 in magnitude while longitudes always exceed 90 in magnitude
// after a swap-worthy inversion. It is not a general KML converter.
//
// Closed lines (endpoints equal within ClosedTolerance) fold into polygons,
// modeling circular coverage zones exported as rings. Open lines, bare
// points, and unsupported types are dropped and counted.
func Normalize(fc *geojson.FeatureCollection) (*geojson.FeatureCollection, *NormalizeStats, error) {
	stats := &NormalizeStats{}
	out := geojson.NewFeatureCollection()

	for _, f := range fc.Features {
		if f.Geometry == nil {
			stats.Dropped++
			continue
		}

		g, swapped := correctOrientation(f.Geometry)

		coerced, folded := coercePolygonal(g)
		if coerced == nil {
			stats.Dropped++
			continue
		}
		if swapped {
			stats.SwappedFeatures++
		}
		if folded {
			stats.FoldedLines++
		}

		nf := geojson.NewFeature(coerced)
		for k, v := range f.Properties {
			nf.Properties[k] = v
		}
		out.Append(nf)
	}

	if len(out.Features) == 0 {
		return nil, stats, eris.Wrapf(ErrEmptyGeometry, "geometry: %d feature(s) dropped", stats.Dropped)
	}
	return out, stats, nil
}

// correctOrientation swaps every [lat, lng]-ordered coordinate pair in the
// geometry. Returns the corrected geometry and whether any pair was swapped.
func correctOrientation(g orb.Geometry) (orb.Geometry, bool) {
	swapped := false

	fix := func(p orb.Point) orb.Point {
		if math.Abs(p[0]) > 90 && math.Abs(p[1]) <= 90 {
			swapped = true
			return orb.Point{p[1], p[0]}
		}
		return p
	}

	fixLine := func(ls []orb.Point) {
		for i := range ls {
			ls[i] = fix(ls[i])
		}
	}

	switch t := g.(type) {
	case orb.Point:
		return fix(t), swapped
	case orb.LineString:
		fixLine(t)
	case orb.MultiLineString:
		for i := range t {
			fixLine(t[i])
		}
	case orb.Ring:
		fixLine(t)
	case orb.Polygon:
		for i := range t {
			fixLine(t[i])
		}
	case orb.MultiPolygon:
		for i := range t {
			for j := range t[i] {
				fixLine(t[i][j])
			}
		}
	}
	return g, swapped
}

// coercePolygonal returns the polygonal form of g, or nil when g cannot
// represent a region. The second return reports line folding.
func coercePolygonal(g orb.Geometry) (orb.Geometry, bool) {
	switch t := g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return g, false
	case orb.LineString:
		if IsClosedLine(t) {
			return orb.Polygon{orb.Ring(t)}, true
		}
		return nil, false
	case orb.MultiLineString:
		var polys orb.MultiPolygon
		for _, line := range t {
			if IsClosedLine(orb.LineString(line)) {
				polys = append(polys, orb.Polygon{orb.Ring(line)})
			}
		}
		switch len(polys) {
		case 0:
			return nil, false
		case 1:
			return polys[0], true
		default:
			return polys, true
		}
	default:
		return nil, false
	}
}

// IsClosedLine reports whether a line's endpoints coincide exactly or
// within ClosedTolerance. At least 3 points are needed to enclose anything.
func IsClosedLine(ls orb.LineString) bool {
	if len(ls) < 3 {
		return false
	}
	first, last := ls[0], ls[len(ls)-1]
	return math.Abs(first[0]-last[0]) <= ClosedTolerance &&
		math.Abs(first[1]-last[1]) <= ClosedTolerance
}
