package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// CollectionEWKB flattens a normalized FeatureCollection into a single
// MultiPolygon and encodes it as EWKB with SRID 4326 for the Postgres geom
// column. Containment against the flattened MultiPolygon is equivalent to
// the per-feature scan: both are an OR over member polygons, and each
// polygon keeps its hole rings.
func CollectionEWKB(fc *geojson.FeatureCollection) ([]byte, error) {
	var coords [][][]geom.Coord

	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			coords = append(coords, polygonCoords(g))
		case orb.MultiPolygon:
			for _, poly := range g {
				coords = append(coords, polygonCoords(poly))
			}
		}
	}
	if len(coords) == 0 {
		return nil, eris.Wrap(ErrEmptyGeometry, "geometry: encode ewkb")
	}

	mp := geom.NewMultiPolygon(geom.XY)
	mp, err := mp.SetCoords(coords)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: build multipolygon")
	}
	mp.SetSRID(4326)

	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: marshal ewkb")
	}
	return data, nil
}

func polygonCoords(p orb.Polygon) [][]geom.Coord {
	rings := make([][]geom.Coord, 0, len(p))
	for _, ring := range p {
		// PostGIS requires closed rings; orb tolerates open ones.
		closed := ring
		if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
			closed = append(append(orb.Ring{}, ring...), ring[0])
		}
		coords := make([]geom.Coord, 0, len(closed))
		for _, pt := range closed {
			coords = append(coords, geom.Coord{pt[0], pt[1]})
		}
		rings = append(rings, coords)
	}
	return rings
}
