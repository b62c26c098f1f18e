package geometry

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/melhorpreco/coverage-api/internal/model"
)

// AreaSource supplies the coverage areas to scan.
type AreaSource interface {
	ListAllAreas(ctx context.Context) ([]model.CoverageArea, error)
}

// PointQuerier is an optional store fast path that answers containment
// queries itself (Postgres with a spatial index). Implementations must
// return exactly the areas the planar scan would.
type PointQuerier interface {
	AreasContainingPoint(ctx context.Context, pt model.GeoPoint) ([]model.CoverageArea, error)
}

// Resolver answers "which coverage areas contain this point". The
// correctness baseline is a full scan over all stored areas with planar
// point-in-polygon testing per feature; a store-provided spatial index is
// used when available.
type Resolver struct {
	src AreaSource
}

// NewResolver creates a Resolver over the given area source.
func NewResolver(src AreaSource) *Resolver {
	return &Resolver{src: src}
}

// ContainingAreas returns every stored area whose geometry contains the
// point. An empty result is a normal answer, not an error. Overlapping
// areas from multiple providers are all returned; provider deduplication
// happens one level up.
func (r *Resolver) ContainingAreas(ctx context.Context, pt model.GeoPoint) ([]model.CoverageArea, error) {
	if pq, ok := r.src.(PointQuerier); ok {
		areas, err := pq.AreasContainingPoint(ctx, pt)
		if err != nil {
			return nil, eris.Wrap(err, "geometry: spatial containment query")
		}
		return areas, nil
	}

	all, err := r.src.ListAllAreas(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: list areas")
	}

	var matches []model.CoverageArea
	for _, area := range all {
		if area.Geometry == nil {
			zap.L().Warn("coverage area has no geometry", zap.String("area_id", area.ID))
			continue
		}
		if Contains(area.Geometry, pt) {
			matches = append(matches, area)
		}
	}
	return matches, nil
}

// Contains reports whether any feature of the collection contains the
// point. Points exactly on a ring boundary count as contained (the planar
// ray cast reports on-edge hits as inside). A MultiPolygon contains the
// point when any member polygon does; holes exclude it.
func Contains(fc *geojson.FeatureCollection, pt model.GeoPoint) bool {
	point := orb.Point{pt.Lng, pt.Lat}

	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		// Cheap bounding-box rejection before the ray cast.
		if !f.Geometry.Bound().Contains(point) {
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			if planar.PolygonContains(g, point) {
				return true
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(g, point) {
				return true
			}
		}
	}
	return false
}
