package coverage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melhorpreco/coverage-api/internal/cache"
	"github.com/melhorpreco/coverage-api/internal/geometry"
	"github.com/melhorpreco/coverage-api/internal/model"
	"github.com/melhorpreco/coverage-api/internal/store"
	"github.com/melhorpreco/coverage-api/pkg/geocode"
)

func geocodeNotFound() error { return geocode.ErrNotFound }

func storeFilter(providerID string) store.AreaFilter {
	return store.AreaFilter{ProviderID: providerID}
}

// fakeGeocoder returns canned results per CEP.
type fakeGeocoder struct {
	results map[string]*model.GeocodeResult
	errs    map[string]error
	calls   int
}

func (f *fakeGeocoder) Lookup(_ context.Context, cep string) (*model.GeocodeResult, error) {
	f.calls++
	if err, ok := f.errs[cep]; ok {
		return nil, err
	}
	if res, ok := f.results[cep]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("unexpected cep %s", cep)
}

// squareAround builds a small square polygon collection centered on the
// point.
func squareAround(lat, lng float64) *geojson.FeatureCollection {
	d := 0.1
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Polygon{{
		{lng - d, lat - d}, {lng + d, lat - d}, {lng + d, lat + d}, {lng - d, lat + d}, {lng - d, lat - d},
	}}))
	return fc
}

func newTestService(t *testing.T, st *fakeStore, geo *fakeGeocoder, opts ...ServiceOption) *Service {
	t.Helper()
	return NewService(st, geo, geometry.NewResolver(st), opts...)
}

// seedCoverage creates a provider with one plan and one area around the
// given point.
func seedCoverage(t *testing.T, st *fakeStore, name string, lat, lng float64) *model.Provider {
	t.Helper()
	ctx := context.Background()
	p := &model.Provider{Name: name, Slug: Slugify(name), Active: true}
	require.NoError(t, st.CreateProvider(ctx, p))
	require.NoError(t, st.CreatePlan(ctx, &model.Plan{
		ProviderID: p.ID, Name: name + " 500", DownloadMbps: 500, PriceCents: 9990, Active: true,
	}))
	require.NoError(t, st.CreateArea(ctx, &model.CoverageArea{
		ProviderID: p.ID, Name: name + " area", Geometry: squareAround(lat, lng),
	}))
	return p
}

func TestLookupByCEP_Success(t *testing.T) {
	st := newFakeStore()
	seedCoverage(t, st, "Acme", -23.5, -46.6)
	geo := &fakeGeocoder{results: map[string]*model.GeocodeResult{
		"01310100": {PostalCode: "01310100", City: "São Paulo", Point: &model.GeoPoint{Lat: -23.5, Lng: -46.6}},
	}}

	svc := newTestService(t, st, geo)
	res := svc.LookupByCEP(context.Background(), "01310-100")

	assert.Equal(t, model.ReasonOK, res.Reason)
	assert.Equal(t, "01310100", res.PostalCode)
	require.Len(t, res.Providers, 1)
	assert.Equal(t, "Acme", res.Providers[0].Name)
	require.Len(t, res.Providers[0].Plans, 1)
	assert.Equal(t, 500, res.Providers[0].Plans[0].DownloadMbps)
}

func TestLookupByCEP_InvalidInput(t *testing.T) {
	svc := newTestService(t, newFakeStore(), &fakeGeocoder{})
	res := svc.LookupByCEP(context.Background(), "12")
	assert.Equal(t, model.ReasonInvalidInput, res.Reason)
	assert.Empty(t, res.Providers)
	assert.NotEmpty(t, res.Message)
}

func TestLookupByCEP_NotFound(t *testing.T) {
	geo := &fakeGeocoder{errs: map[string]error{"99999999": geocodeNotFound()}}
	svc := newTestService(t, newFakeStore(), geo)

	res := svc.LookupByCEP(context.Background(), "99999999")
	assert.Equal(t, model.ReasonNotFound, res.Reason)
	assert.Empty(t, res.Providers)
}

func TestLookupByCEP_Unresolvable(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]*model.GeocodeResult{
		"01310100": {PostalCode: "01310100", City: "São Paulo"}, // no point
	}}
	svc := newTestService(t, newFakeStore(), geo)

	res := svc.LookupByCEP(context.Background(), "01310100")
	assert.Equal(t, model.ReasonUnresolvable, res.Reason)
}

func TestLookupByCEP_GeocodedPointOutsideBounds(t *testing.T) {
	st := newFakeStore()
	// An area at the out-of-bounds point must stay invisible: the lookup
	// has to degrade before containment runs.
	seedCoverage(t, st, "Acme", 48.8566, 2.3522)
	geo := &fakeGeocoder{results: map[string]*model.GeocodeResult{
		"01310100": {PostalCode: "01310100", City: "Paris", Point: &model.GeoPoint{Lat: 48.8566, Lng: 2.3522}},
	}}
	svc := newTestService(t, st, geo)

	res := svc.LookupByCEP(context.Background(), "01310100")
	assert.Equal(t, model.ReasonUnresolvable, res.Reason)
	assert.Equal(t, "01310100", res.PostalCode)
	assert.Empty(t, res.Providers)
}

func TestLookupByCEP_TransientGeocodeFailure(t *testing.T) {
	geo := &fakeGeocoder{errs: map[string]error{"01310100": fmt.Errorf("upstream down")}}
	svc := newTestService(t, newFakeStore(), geo)

	res := svc.LookupByCEP(context.Background(), "01310100")
	assert.Equal(t, model.ReasonTransient, res.Reason)
	assert.Empty(t, res.Providers)
}

func TestLookupByCEP_NoCoverage(t *testing.T) {
	st := newFakeStore()
	seedCoverage(t, st, "Acme", -23.5, -46.6)
	geo := &fakeGeocoder{results: map[string]*model.GeocodeResult{
		// Far from the seeded square.
		"69000000": {PostalCode: "69000000", Point: &model.GeoPoint{Lat: -3.1, Lng: -60.0}},
	}}
	svc := newTestService(t, st, geo)

	res := svc.LookupByCEP(context.Background(), "69000000")
	assert.Equal(t, model.ReasonNoCoverage, res.Reason)
	assert.Empty(t, res.Providers)
	assert.NotEmpty(t, res.Message)
}

func TestLookupByPoint_BoundsRejection(t *testing.T) {
	svc := newTestService(t, newFakeStore(), &fakeGeocoder{})

	// Valid global coordinates, but outside Brazil.
	res := svc.LookupByPoint(context.Background(), model.GeoPoint{Lat: 48.85, Lng: 2.35})
	assert.Equal(t, model.ReasonInvalidInput, res.Reason)

	// Not a coordinate at all.
	res = svc.LookupByPoint(context.Background(), model.GeoPoint{Lat: 200, Lng: 0})
	assert.Equal(t, model.ReasonInvalidInput, res.Reason)
}

func TestLookupByPoint_Success(t *testing.T) {
	st := newFakeStore()
	seedCoverage(t, st, "Acme", -23.5, -46.6)
	svc := newTestService(t, st, &fakeGeocoder{})

	res := svc.LookupByPoint(context.Background(), model.GeoPoint{Lat: -23.5, Lng: -46.6})
	assert.Equal(t, model.ReasonOK, res.Reason)
	require.Len(t, res.Providers, 1)
	require.NotNil(t, res.Point)
}

func TestLookupByPoint_StoreFailureDegrades(t *testing.T) {
	st := newFakeStore()
	st.failListAll = true
	svc := newTestService(t, st, &fakeGeocoder{})

	res := svc.LookupByPoint(context.Background(), model.GeoPoint{Lat: -23.5, Lng: -46.6})
	assert.Equal(t, model.ReasonTransient, res.Reason)
	assert.Empty(t, res.Providers)
}

func TestLookup_ProviderOrdering(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()

	// Three providers covering the same point with distinct ranks/scores.
	pUnranked := seedCoverage(t, st, "Unranked", -23.5, -46.6)
	pTop := seedCoverage(t, st, "Top", -23.5, -46.6)
	pSecond := seedCoverage(t, st, "Second", -23.5, -46.6)

	setRank := func(providerID string, rank int, score float64) {
		areas, err := st.ListAreas(ctx, storeFilter(providerID))
		require.NoError(t, err)
		require.NoError(t, st.UpdateAreaRank(ctx, areas[0].ID, &rank, &score))
	}
	setRank(pTop.ID, 1, 0.9)
	setRank(pSecond.ID, 2, 0.5)
	_ = pUnranked

	svc := newTestService(t, st, &fakeGeocoder{})
	res := svc.LookupByPoint(ctx, model.GeoPoint{Lat: -23.5, Lng: -46.6})
	require.Len(t, res.Providers, 3)
	assert.Equal(t, "Top", res.Providers[0].Name)
	assert.Equal(t, "Second", res.Providers[1].Name)
	assert.Equal(t, "Unranked", res.Providers[2].Name)
}

func TestLookup_FailingProviderSkipped(t *testing.T) {
	st := newFakeStore()
	seedCoverage(t, st, "Healthy", -23.5, -46.6)
	broken := seedCoverage(t, st, "Broken", -23.5, -46.6)
	st.failGetProvider[broken.ID] = true

	svc := newTestService(t, st, &fakeGeocoder{})
	res := svc.LookupByPoint(context.Background(), model.GeoPoint{Lat: -23.5, Lng: -46.6})

	assert.Equal(t, model.ReasonOK, res.Reason)
	require.Len(t, res.Providers, 1)
	assert.Equal(t, "Healthy", res.Providers[0].Name)
}

func TestLookup_InactiveProviderHidden(t *testing.T) {
	st := newFakeStore()
	p := seedCoverage(t, st, "Gone", -23.5, -46.6)
	p.Active = false

	svc := newTestService(t, st, &fakeGeocoder{})
	res := svc.LookupByPoint(context.Background(), model.GeoPoint{Lat: -23.5, Lng: -46.6})
	assert.Equal(t, model.ReasonNoCoverage, res.Reason)
}

func TestLookup_ResultCacheTransparency(t *testing.T) {
	st := newFakeStore()
	seedCoverage(t, st, "Acme", -23.5, -46.6)
	geo := &fakeGeocoder{results: map[string]*model.GeocodeResult{
		"01310100": {PostalCode: "01310100", Point: &model.GeoPoint{Lat: -23.5, Lng: -46.6}},
	}}
	mem := cache.NewMemory(16)
	svc := newTestService(t, st, geo, WithResultCache(mem, time.Hour))

	first := svc.LookupByCEP(context.Background(), "01310100")
	second := svc.LookupByCEP(context.Background(), "01310100")

	assert.Equal(t, 1, geo.calls, "second lookup must be served from cache")
	assert.Equal(t, first.Reason, second.Reason)
	require.Len(t, second.Providers, 1)
	assert.Equal(t, first.Providers[0].ID, second.Providers[0].ID)
}

func TestLookup_TransientResultNotCached(t *testing.T) {
	geo := &fakeGeocoder{errs: map[string]error{"01310100": fmt.Errorf("down")}}
	mem := cache.NewMemory(16)
	svc := newTestService(t, newFakeStore(), geo, WithResultCache(mem, time.Hour))

	res := svc.LookupByCEP(context.Background(), "01310100")
	assert.Equal(t, model.ReasonTransient, res.Reason)

	_, err := mem.Get(context.Background(), "coverage:cep:01310100")
	assert.ErrorIs(t, err, cache.ErrMiss)
}
