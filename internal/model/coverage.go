package model

import (
	"time"

	"github.com/paulmach/orb/geojson"
)

// RankUnset is the effective sort position for areas without an explicit
// rank. Lower rank means higher display priority, so unranked areas sort
// last.
const RankUnset = 1 << 30

// CoverageArea is one named geographic region belonging to one provider.
// Geometry holds only Polygon/MultiPolygon features in [lng, lat] order;
// the ingestion pipeline guarantees it is never empty.
type CoverageArea struct {
	ID         string                     `json:"id"`
	ProviderID string                     `json:"provider_id"`
	Name       string                     `json:"name"`
	Geometry   *geojson.FeatureCollection `json:"geometry"`
	// SourceDoc retains the original KML text for audit and re-processing
	// if the normalization logic ever changes.
	SourceDoc string     `json:"source_doc,omitempty"`
	Rank      *int       `json:"rank,omitempty"`
	Score     *float64   `json:"score,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EffectiveRank returns the rank used for ordering, treating a missing rank
// as lowest priority.
func (a *CoverageArea) EffectiveRank() int {
	if a.Rank == nil {
		return RankUnset
	}
	return *a.Rank
}

// EffectiveScore returns the secondary ordering signal, zero when unset.
func (a *CoverageArea) EffectiveScore() float64 {
	if a.Score == nil {
		return 0
	}
	return *a.Score
}
