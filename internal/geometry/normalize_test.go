package geometry

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fcOf(geoms ...orb.Geometry) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, g := range geoms {
		fc.Append(geojson.NewFeature(g))
	}
	return fc
}

func TestNormalize_CorrectPolygonIsNoOp(t *testing.T) {
	poly := orb.Polygon{{
		{-46.7, -23.5}, {-46.5, -23.5}, {-46.5, -23.3}, {-46.7, -23.5},
	}}

	out, stats, err := Normalize(fcOf(poly.Clone()))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SwappedFeatures)
	require.Len(t, out.Features, 1)
	assert.Equal(t, poly, out.Features[0].Geometry)
}

func TestNormalize_SwapIdempotence(t *testing.T) {
	// First component above 90 in magnitude marks an order-inverted pair.
	inverted := orb.Polygon{{
		{-106.7, -23.5}, {-106.5, -23.5}, {-106.5, -23.3}, {-106.7, -23.5},
	}}

	out, stats, err := Normalize(fcOf(inverted))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SwappedFeatures)

	got := out.Features[0].Geometry.(orb.Polygon)
	assert.Equal(t, orb.Point{-23.5, -106.7}, got[0][0])

	// Re-normalizing the corrected output changes nothing.
	again, stats2, err := Normalize(out)
	require.NoError(t, err)
	assert.Equal(t, 0, stats2.SwappedFeatures)
	assert.Equal(t, got, again.Features[0].Geometry.(orb.Polygon))
}

func TestNormalize_ClosedLineBecomesPolygon(t *testing.T) {
	line := orb.LineString{
		{-46.7, -23.5}, {-46.5, -23.5}, {-46.5, -23.3}, {-46.7, -23.5},
	}

	out, stats, err := Normalize(fcOf(line))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FoldedLines)

	poly, ok := out.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)
	// Ring coordinates equal the line's, in the same order.
	assert.Equal(t, orb.Ring(line), poly[0])
}

func TestNormalize_NearlyClosedLineWithinTolerance(t *testing.T) {
	line := orb.LineString{
		{-46.7, -23.5}, {-46.5, -23.5}, {-46.5, -23.3}, {-46.7 + 5e-7, -23.5 - 5e-7},
	}

	out, stats, err := Normalize(fcOf(line))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FoldedLines)
	assert.Len(t, out.Features, 1)
}

func TestNormalize_OpenLineDropped(t *testing.T) {
	open := orb.LineString{
		{-46.7, -23.5}, {-46.5, -23.5}, {-46.5, -23.3},
	}

	_, stats, err := Normalize(fcOf(open))
	assert.ErrorIs(t, err, ErrEmptyGeometry)
	assert.Equal(t, 1, stats.Dropped)
}

func TestNormalize_PointsAndNilDropped(t *testing.T) {
	fc := fcOf(orb.Point{-46.6, -23.5})
	fc.Append(&geojson.Feature{})

	_, stats, err := Normalize(fc)
	assert.ErrorIs(t, err, ErrEmptyGeometry)
	assert.Equal(t, 2, stats.Dropped)
}

func TestNormalize_MixedDocumentKeepsPolygonal(t *testing.T) {
	poly := orb.Polygon{{
		{-46.7, -23.5}, {-46.5, -23.5}, {-46.5, -23.3}, {-46.7, -23.5},
	}}
	open := orb.LineString{{-40, -20}, {-41, -21}}

	out, stats, err := Normalize(fcOf(poly, open))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dropped)
	assert.Len(t, out.Features, 1)
}

func TestNormalize_MultiLineStringFolding(t *testing.T) {
	ml := orb.MultiLineString{
		{{-46.7, -23.5}, {-46.5, -23.5}, {-46.5, -23.3}, {-46.7, -23.5}}, // closed
		{{-40, -20}, {-41, -21}}, // open, discarded
	}

	out, stats, err := Normalize(fcOf(ml))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FoldedLines)

	_, isPoly := out.Features[0].Geometry.(orb.Polygon)
	assert.True(t, isPoly, "single closed member folds to a plain Polygon")
}

func TestIsClosedLine(t *testing.T) {
	assert.True(t, IsClosedLine(orb.LineString{{0, 0}, {1, 0}, {1, 1}, {0, 0}}))
	assert.True(t, IsClosedLine(orb.LineString{{0, 0}, {1, 0}, {1, 1}, {1e-7, -1e-7}}))
	assert.False(t, IsClosedLine(orb.LineString{{0, 0}, {1, 0}, {1, 1}}))
	assert.False(t, IsClosedLine(orb.LineString{{0, 0}, {0, 0}}), "two points enclose nothing")
}
