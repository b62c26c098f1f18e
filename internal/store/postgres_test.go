package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melhorpreco/coverage-api/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func areaColumns() []string {
	return []string{"id", "provider_id", "name", "geometry", "source_doc", "rank", "score", "created_at", "updated_at"}
}

func TestPostgresStore_GetArea_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, provider_id, name, geometry, source_doc, rank, score, created_at, updated_at`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetArea(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetArea(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	geomJSON, err := json.Marshal(testCollection())
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, provider_id, name, geometry, source_doc, rank, score, created_at, updated_at`).
		WithArgs("area-1").
		WillReturnRows(pgxmock.NewRows(areaColumns()).
			AddRow("area-1", "prov-1", "Zona Sul", geomJSON, "<kml/>", nil, nil, now, now))

	got, err := s.GetArea(context.Background(), "area-1")
	require.NoError(t, err)
	assert.Equal(t, "Zona Sul", got.Name)
	assert.Equal(t, "prov-1", got.ProviderID)
	require.NotNil(t, got.Geometry)
	assert.Len(t, got.Geometry.Features, 1)
	assert.Nil(t, got.Rank)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateArea(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO coverage_areas`).
		WithArgs(pgxmock.AnyArg(), "prov-1", "Centro", pgxmock.AnyArg(), pgxmock.AnyArg(),
			"<kml/>", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	area := &model.CoverageArea{
		ProviderID: "prov-1",
		Name:       "Centro",
		Geometry:   testCollection(),
		SourceDoc:  "<kml/>",
	}
	require.NoError(t, s.CreateArea(context.Background(), area))
	assert.NotEmpty(t, area.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AreasContainingPoint(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	geomJSON, err := json.Marshal(testCollection())
	require.NoError(t, err)

	now := time.Now().UTC()
	// Longitude is bound first: ST_MakePoint takes (x, y) = (lng, lat).
	mock.ExpectQuery(`ST_Covers`).
		WithArgs(-46.6, -23.5).
		WillReturnRows(pgxmock.NewRows(areaColumns()).
			AddRow("area-1", "prov-1", "Zona Sul", geomJSON, "", nil, nil, now, now))

	areas, err := s.AreasContainingPoint(context.Background(), model.GeoPoint{Lat: -23.5, Lng: -46.6})
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, "area-1", areas[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAreaRank_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE coverage_areas SET rank`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	rank := 1
	err := s.UpdateAreaRank(context.Background(), "missing", &rank, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteArea(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM coverage_areas`).
		WithArgs("area-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.DeleteArea(context.Background(), "area-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProviderBySlug(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, name, slug, logo_url, site_url, phone, active, created_at, updated_at`).
		WithArgs("acme").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "slug", "logo_url", "site_url", "phone", "active", "created_at", "updated_at"}).
			AddRow("prov-1", "Acme", "acme", "", "", "", true, now, now))

	p, err := s.GetProviderBySlug(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "prov-1", p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActivePlans(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	benefits, err := json.Marshal([]string{"wifi 6"})
	require.NoError(t, err)

	now := time.Now().UTC()
	cols := []string{"id", "provider_id", "name", "download_mbps", "upload_mbps", "price_cents", "description", "benefits", "active", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT id, provider_id, name, download_mbps`).
		WithArgs("prov-1").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("plan-1", "prov-1", "Fibra 500", 500, 250, 9990, "", benefits, true, now, now))

	plans, err := s.ListActivePlans(context.Background(), "prov-1")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, []string{"wifi 6"}, plans[0].Benefits)
	assert.NoError(t, mock.ExpectationsWereMet())
}
