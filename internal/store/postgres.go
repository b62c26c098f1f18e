package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/melhorpreco/coverage-api/internal/db"
	"github.com/melhorpreco/coverage-api/internal/geometry"
	"github.com/melhorpreco/coverage-api/internal/model"
)

// PostgresStore implements Store using pgxpool. When PostGIS is installed it
// also persists an EWKB geometry column and serves point containment queries
// with ST_Contains, which the resolver uses as a fast path instead of
// scanning every area in Go.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var (
	_ Store                 = (*PostgresStore)(nil)
	_ geometry.PointQuerier = (*PostgresStore)(nil)
)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used in tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS providers (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL UNIQUE,
	logo_url   TEXT NOT NULL DEFAULT '',
	site_url   TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS plans (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	provider_id   TEXT NOT NULL REFERENCES providers(id),
	name          TEXT NOT NULL,
	download_mbps INTEGER NOT NULL DEFAULT 0,
	upload_mbps   INTEGER NOT NULL DEFAULT 0,
	price_cents   INTEGER NOT NULL DEFAULT 0,
	description   TEXT NOT NULL DEFAULT '',
	benefits      JSONB,
	active        BOOLEAN NOT NULL DEFAULT true,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS coverage_areas (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	provider_id TEXT NOT NULL REFERENCES providers(id),
	name        TEXT NOT NULL,
	geometry    JSONB NOT NULL,
	geom        geometry(MultiPolygon, 4326),
	source_doc  TEXT NOT NULL DEFAULT '',
	rank        INTEGER,
	score       DOUBLE PRECISION,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_plans_provider_id ON plans(provider_id);
CREATE INDEX IF NOT EXISTS idx_plans_active ON plans(active);
CREATE INDEX IF NOT EXISTS idx_coverage_areas_provider_id ON coverage_areas(provider_id);
CREATE INDEX IF NOT EXISTS idx_coverage_areas_geom ON coverage_areas USING GIST(geom);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateArea(ctx context.Context, area *model.CoverageArea) error {
	if area.ID == "" {
		area.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	area.CreatedAt = now
	area.UpdatedAt = now

	geomJSON, err := json.Marshal(area.Geometry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal geometry")
	}

	// Best-effort EWKB: a collection that flattens to no polygons leaves
	// geom NULL, and the resolver falls back to the in-process scan.
	ewkbBytes, err := geometry.CollectionEWKB(area.Geometry)
	if err != nil {
		zap.L().Warn("postgres: skipping geom column", zap.String("area", area.ID), zap.Error(err))
		ewkbBytes = nil
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO coverage_areas (id, provider_id, name, geometry, geom, source_doc, rank, score, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		area.ID, area.ProviderID, area.Name, geomJSON, ewkbBytes, area.SourceDoc, area.Rank, area.Score, now, now,
	)
	return eris.Wrap(err, "postgres: insert area")
}

func (s *PostgresStore) GetArea(ctx context.Context, id string) (*model.CoverageArea, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, provider_id, name, geometry, source_doc, rank, score, created_at, updated_at
		 FROM coverage_areas WHERE id = $1`,
		id,
	)
	return scanPgArea(row)
}

func (s *PostgresStore) ListAreas(ctx context.Context, filter AreaFilter) ([]model.CoverageArea, error) {
	query := `SELECT id, provider_id, name, geometry, source_doc, rank, score, created_at, updated_at
	 FROM coverage_areas`
	var args []any
	if filter.ProviderID != "" {
		query += ` WHERE provider_id = $1`
		args = append(args, filter.ProviderID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list areas")
	}
	defer rows.Close()
	return collectAreas(rows)
}

func (s *PostgresStore) ListAllAreas(ctx context.Context) ([]model.CoverageArea, error) {
	return s.ListAreas(ctx, AreaFilter{})
}

// AreasContainingPoint pushes the containment test down to PostGIS. Only
// rows with a populated geom column participate; areas whose EWKB could not
// be derived are never returned here, so callers that need exhaustive
// results must use the in-process resolver.
func (s *PostgresStore) AreasContainingPoint(ctx context.Context, pt model.GeoPoint) ([]model.CoverageArea, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider_id, name, geometry, source_doc, rank, score, created_at, updated_at
		 FROM coverage_areas
		 WHERE geom IS NOT NULL
		   AND ST_Covers(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326))`,
		pt.Lng, pt.Lat,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: areas containing point")
	}
	defer rows.Close()
	return collectAreas(rows)
}

func (s *PostgresStore) UpdateAreaRank(ctx context.Context, id string, rank *int, score *float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE coverage_areas SET rank = $1, score = $2, updated_at = $3 WHERE id = $4`,
		rank, score, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update area rank %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "area %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteArea(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM coverage_areas WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete area %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "area %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO providers (id, name, slug, logo_url, site_url, phone, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Name, p.Slug, p.LogoURL, p.SiteURL, p.Phone, p.Active, now, now,
	)
	return eris.Wrap(err, "postgres: insert provider")
}

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, logo_url, site_url, phone, active, created_at, updated_at
		 FROM providers WHERE id = $1`,
		id,
	)
	return scanPgProvider(row)
}

func (s *PostgresStore) GetProviderBySlug(ctx context.Context, slug string) (*model.Provider, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, logo_url, site_url, phone, active, created_at, updated_at
		 FROM providers WHERE slug = $1`,
		slug,
	)
	return scanPgProvider(row)
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, slug, logo_url, site_url, phone, active, created_at, updated_at
		 FROM providers ORDER BY name ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanPgProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, eris.Wrap(rows.Err(), "postgres: list providers iterate")
}

func (s *PostgresStore) CreatePlan(ctx context.Context, plan *model.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	benefitsJSON, err := json.Marshal(plan.Benefits)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal benefits")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO plans (id, provider_id, name, download_mbps, upload_mbps, price_cents, description, benefits, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		plan.ID, plan.ProviderID, plan.Name, plan.DownloadMbps, plan.UploadMbps, plan.PriceCents,
		plan.Description, benefitsJSON, plan.Active, now, now,
	)
	return eris.Wrap(err, "postgres: insert plan")
}

func (s *PostgresStore) ListActivePlans(ctx context.Context, providerID string) ([]model.Plan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider_id, name, download_mbps, upload_mbps, price_cents, description, benefits, active, created_at, updated_at
		 FROM plans WHERE provider_id = $1 AND active = true ORDER BY price_cents ASC`,
		providerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list plans")
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		p, err := scanPgPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, eris.Wrap(rows.Err(), "postgres: list plans iterate")
}

// scan helpers

func collectAreas(rows pgx.Rows) ([]model.CoverageArea, error) {
	var areas []model.CoverageArea
	for rows.Next() {
		a, err := scanPgArea(rows)
		if err != nil {
			return nil, err
		}
		areas = append(areas, *a)
	}
	return areas, eris.Wrap(rows.Err(), "postgres: areas iterate")
}

func scanPgArea(row pgx.Row) (*model.CoverageArea, error) {
	var a model.CoverageArea
	var geomJSON []byte
	err := row.Scan(&a.ID, &a.ProviderID, &a.Name, &geomJSON, &a.SourceDoc, &a.Rank, &a.Score, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan area")
	}
	fc, err := geojson.UnmarshalFeatureCollection(geomJSON)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal geometry")
	}
	a.Geometry = fc
	return &a, nil
}

func scanPgProvider(row pgx.Row) (*model.Provider, error) {
	var p model.Provider
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.LogoURL, &p.SiteURL, &p.Phone, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan provider")
	}
	return &p, nil
}

func scanPgPlan(row pgx.Row) (*model.Plan, error) {
	var p model.Plan
	var benefitsJSON []byte
	err := row.Scan(&p.ID, &p.ProviderID, &p.Name, &p.DownloadMbps, &p.UploadMbps, &p.PriceCents,
		&p.Description, &benefitsJSON, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan plan")
	}
	if len(benefitsJSON) > 0 && string(benefitsJSON) != "null" {
		if err := json.Unmarshal(benefitsJSON, &p.Benefits); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal benefits")
		}
	}
	return &p, nil
}
