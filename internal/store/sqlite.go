package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/melhorpreco/coverage-api/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS providers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL UNIQUE,
	logo_url   TEXT NOT NULL DEFAULT '',
	site_url   TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS plans (
	id            TEXT PRIMARY KEY,
	provider_id   TEXT NOT NULL REFERENCES providers(id),
	name          TEXT NOT NULL,
	download_mbps INTEGER NOT NULL DEFAULT 0,
	upload_mbps   INTEGER NOT NULL DEFAULT 0,
	price_cents   INTEGER NOT NULL DEFAULT 0,
	description   TEXT NOT NULL DEFAULT '',
	benefits      TEXT,
	active        INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS coverage_areas (
	id          TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL REFERENCES providers(id),
	name        TEXT NOT NULL,
	geometry    TEXT NOT NULL,
	source_doc  TEXT NOT NULL DEFAULT '',
	rank        INTEGER,
	score       REAL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_plans_provider_id ON plans(provider_id);
CREATE INDEX IF NOT EXISTS idx_plans_active ON plans(active);
CREATE INDEX IF NOT EXISTS idx_coverage_areas_provider_id ON coverage_areas(provider_id);
CREATE INDEX IF NOT EXISTS idx_providers_slug ON providers(slug);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateArea(ctx context.Context, area *model.CoverageArea) error {
	if area.ID == "" {
		area.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	area.CreatedAt = now
	area.UpdatedAt = now

	geomJSON, err := json.Marshal(area.Geometry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal geometry")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO coverage_areas (id, provider_id, name, geometry, source_doc, rank, score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		area.ID, area.ProviderID, area.Name, string(geomJSON), area.SourceDoc, area.Rank, area.Score, now, now,
	)
	return eris.Wrap(err, "sqlite: insert area")
}

func (s *SQLiteStore) GetArea(ctx context.Context, id string) (*model.CoverageArea, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider_id, name, geometry, source_doc, rank, score, created_at, updated_at
		 FROM coverage_areas WHERE id = ?`,
		id,
	)
	return scanArea(row)
}

func (s *SQLiteStore) ListAreas(ctx context.Context, filter AreaFilter) ([]model.CoverageArea, error) {
	query := `SELECT id, provider_id, name, geometry, source_doc, rank, score, created_at, updated_at
	 FROM coverage_areas WHERE 1=1`
	var args []any

	if filter.ProviderID != "" {
		query += ` AND provider_id = ?`
		args = append(args, filter.ProviderID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list areas")
	}
	defer rows.Close()

	var areas []model.CoverageArea
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		areas = append(areas, *a)
	}
	return areas, eris.Wrap(rows.Err(), "sqlite: list areas iterate")
}

func (s *SQLiteStore) ListAllAreas(ctx context.Context) ([]model.CoverageArea, error) {
	return s.ListAreas(ctx, AreaFilter{})
}

func (s *SQLiteStore) UpdateAreaRank(ctx context.Context, id string, rank *int, score *float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE coverage_areas SET rank = ?, score = ?, updated_at = ? WHERE id = ?`,
		rank, score, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update area rank %s", id)
	}
	return checkRowsAffected(res, "area", id)
}

func (s *SQLiteStore) DeleteArea(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM coverage_areas WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete area %s", id)
	}
	return checkRowsAffected(res, "area", id)
}

func (s *SQLiteStore) CreateProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (id, name, slug, logo_url, site_url, phone, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Slug, p.LogoURL, p.SiteURL, p.Phone, p.Active, now, now,
	)
	return eris.Wrap(err, "sqlite: insert provider")
}

func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, logo_url, site_url, phone, active, created_at, updated_at
		 FROM providers WHERE id = ?`,
		id,
	)
	return scanProvider(row)
}

func (s *SQLiteStore) GetProviderBySlug(ctx context.Context, slug string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, logo_url, site_url, phone, active, created_at, updated_at
		 FROM providers WHERE slug = ?`,
		slug,
	)
	return scanProvider(row)
}

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, logo_url, site_url, phone, active, created_at, updated_at
		 FROM providers ORDER BY name ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, eris.Wrap(rows.Err(), "sqlite: list providers iterate")
}

func (s *SQLiteStore) CreatePlan(ctx context.Context, plan *model.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	benefitsJSON, err := json.Marshal(plan.Benefits)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal benefits")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (id, provider_id, name, download_mbps, upload_mbps, price_cents, description, benefits, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.ProviderID, plan.Name, plan.DownloadMbps, plan.UploadMbps, plan.PriceCents,
		plan.Description, string(benefitsJSON), plan.Active, now, now,
	)
	return eris.Wrap(err, "sqlite: insert plan")
}

func (s *SQLiteStore) ListActivePlans(ctx context.Context, providerID string) ([]model.Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, name, download_mbps, upload_mbps, price_cents, description, benefits, active, created_at, updated_at
		 FROM plans WHERE provider_id = ? AND active = 1 ORDER BY price_cents ASC`,
		providerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list plans")
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, eris.Wrap(rows.Err(), "sqlite: list plans iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanArea(row scannable) (*model.CoverageArea, error) {
	var a model.CoverageArea
	var geomJSON string
	var rank sql.NullInt64
	var score sql.NullFloat64

	err := row.Scan(&a.ID, &a.ProviderID, &a.Name, &geomJSON, &a.SourceDoc, &rank, &score, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan area")
	}

	fc, err := geojson.UnmarshalFeatureCollection([]byte(geomJSON))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal geometry")
	}
	a.Geometry = fc
	if rank.Valid {
		v := int(rank.Int64)
		a.Rank = &v
	}
	if score.Valid {
		v := score.Float64
		a.Score = &v
	}
	return &a, nil
}

func scanProvider(row scannable) (*model.Provider, error) {
	var p model.Provider
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.LogoURL, &p.SiteURL, &p.Phone, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan provider")
	}
	return &p, nil
}

func scanPlan(row scannable) (*model.Plan, error) {
	var p model.Plan
	var benefitsJSON sql.NullString
	err := row.Scan(&p.ID, &p.ProviderID, &p.Name, &p.DownloadMbps, &p.UploadMbps, &p.PriceCents,
		&p.Description, &benefitsJSON, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan plan")
	}
	if benefitsJSON.Valid && benefitsJSON.String != "" && benefitsJSON.String != "null" {
		if err := json.Unmarshal([]byte(benefitsJSON.String), &p.Benefits); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal benefits")
		}
	}
	return &p, nil
}
