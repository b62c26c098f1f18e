package model

import "math"

// Bounds is a geographic bounding box used to validate query points.
type Bounds struct {
	MinLat float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLat float64 `yaml:"max_lat" mapstructure:"max_lat"`
	MinLng float64 `yaml:"min_lng" mapstructure:"min_lng"`
	MaxLng float64 `yaml:"max_lng" mapstructure:"max_lng"`
}

// BrazilBounds is the national bounding box for this deployment. Points
// outside it are rejected before they reach the resolver.
var BrazilBounds = Bounds{MinLat: -35, MaxLat: 5, MinLng: -75, MaxLng: -30}

// Contains reports whether the point falls inside the bounding box.
func (b Bounds) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// GeoPoint is a geographic coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both components are finite numbers within the
// global lat/lng range.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) ||
		math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// GeocodeResult is the resolution of a postal code. Point is nil when the
// address lookup succeeded but coordinates could not be resolved; that is a
// partial success, not an error.
type GeocodeResult struct {
	Point      *GeoPoint `json:"point,omitempty"`
	PostalCode string    `json:"postal_code"`
	Street     string    `json:"street,omitempty"`
	District   string    `json:"district,omitempty"`
	City       string    `json:"city,omitempty"`
	State      string    `json:"state,omitempty"`
}
