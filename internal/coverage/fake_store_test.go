package coverage

import (
	"context"
	"fmt"
	"sync"

	"github.com/melhorpreco/coverage-api/internal/model"
	"github.com/melhorpreco/coverage-api/internal/store"
)

// fakeStore is an in-memory store.Store used by service and ingest tests.
// Failure injection fields force errors on specific operations.
type fakeStore struct {
	mu        sync.Mutex
	providers map[string]*model.Provider
	plans     map[string][]model.Plan
	areas     map[string]*model.CoverageArea
	nextID    int

	failCreateAreaFor map[string]bool // provider ID -> fail CreateArea
	failGetProvider   map[string]bool
	failListAll       bool
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		providers:         make(map[string]*model.Provider),
		plans:             make(map[string][]model.Plan),
		areas:             make(map[string]*model.CoverageArea),
		failCreateAreaFor: make(map[string]bool),
		failGetProvider:   make(map[string]bool),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) CreateArea(_ context.Context, area *model.CoverageArea) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateAreaFor[area.ProviderID] {
		return fmt.Errorf("injected area failure")
	}
	if area.ID == "" {
		area.ID = f.id("area")
	}
	f.areas[area.ID] = area
	return nil
}

func (f *fakeStore) GetArea(_ context.Context, id string) (*model.CoverageArea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.areas[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ListAreas(_ context.Context, filter store.AreaFilter) ([]model.CoverageArea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CoverageArea
	for _, a := range f.areas {
		if filter.ProviderID == "" || a.ProviderID == filter.ProviderID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAllAreas(ctx context.Context) ([]model.CoverageArea, error) {
	if f.failListAll {
		return nil, fmt.Errorf("injected list failure")
	}
	return f.ListAreas(ctx, store.AreaFilter{})
}

func (f *fakeStore) UpdateAreaRank(_ context.Context, id string, rank *int, score *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.areas[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Rank = rank
	a.Score = score
	return nil
}

func (f *fakeStore) DeleteArea(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.areas[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.areas, id)
	return nil
}

func (f *fakeStore) CreateProvider(_ context.Context, p *model.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.providers {
		if existing.Slug == p.Slug {
			return fmt.Errorf("slug taken: %s", p.Slug)
		}
	}
	if p.ID == "" {
		p.ID = f.id("prov")
	}
	f.providers[p.ID] = p
	return nil
}

func (f *fakeStore) GetProvider(_ context.Context, id string) (*model.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGetProvider[id] {
		return nil, fmt.Errorf("injected provider failure")
	}
	p, ok := f.providers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetProviderBySlug(_ context.Context, slug string) (*model.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.providers {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListProviders(_ context.Context) ([]model.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Provider
	for _, p := range f.providers {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) CreatePlan(_ context.Context, plan *model.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if plan.ID == "" {
		plan.ID = f.id("plan")
	}
	f.plans[plan.ProviderID] = append(f.plans[plan.ProviderID], *plan)
	return nil
}

func (f *fakeStore) ListActivePlans(_ context.Context, providerID string) ([]model.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Plan
	for _, p := range f.plans[providerID] {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }
