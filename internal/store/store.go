// Package store persists providers, plans, and coverage areas. Two
// implementations exist: an embedded SQLite store for single-node
// deployments and a Postgres store that adds a PostGIS containment fast
// path.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/melhorpreco/coverage-api/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// AreaFilter specifies criteria for listing coverage areas.
type AreaFilter struct {
	ProviderID string `json:"provider_id,omitempty"`
}

// Store defines the persistence interface for the coverage pipeline.
// Every area create/update/delete is a single atomic statement; no
// invariant spans multiple rows.
type Store interface {
	// Coverage areas
	CreateArea(ctx context.Context, area *model.CoverageArea) error
	GetArea(ctx context.Context, id string) (*model.CoverageArea, error)
	ListAreas(ctx context.Context, filter AreaFilter) ([]model.CoverageArea, error)
	ListAllAreas(ctx context.Context) ([]model.CoverageArea, error)
	UpdateAreaRank(ctx context.Context, id string, rank *int, score *float64) error
	DeleteArea(ctx context.Context, id string) error

	// Providers
	CreateProvider(ctx context.Context, p *model.Provider) error
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	GetProviderBySlug(ctx context.Context, slug string) (*model.Provider, error)
	ListProviders(ctx context.Context) ([]model.Provider, error)

	// Plans
	CreatePlan(ctx context.Context, plan *model.Plan) error
	ListActivePlans(ctx context.Context, providerID string) ([]model.Plan, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
