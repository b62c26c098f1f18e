// Package coverage implements the coverage query service and the ingestion
// orchestrator that feeds it.
package coverage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/melhorpreco/coverage-api/internal/cache"
	"github.com/melhorpreco/coverage-api/internal/geometry"
	"github.com/melhorpreco/coverage-api/internal/metrics"
	"github.com/melhorpreco/coverage-api/internal/model"
	"github.com/melhorpreco/coverage-api/internal/store"
	"github.com/melhorpreco/coverage-api/pkg/geocode"
)

const defaultResultTTL = 24 * time.Hour

// reasonMessages renders each reason as the user-facing explanation. Clients
// branch on Reason; Message is display-only.
var reasonMessages = map[model.Reason]string{
	model.ReasonOK:           "",
	model.ReasonInvalidInput: "CEP inválido. Informe um CEP com 8 dígitos.",
	model.ReasonNotFound:     "CEP não encontrado.",
	model.ReasonUnresolvable: "Não foi possível localizar o endereço deste CEP.",
	model.ReasonNoCoverage:   "Nenhum provedor atende esta localização.",
	model.ReasonTransient:    "Serviço temporariamente indisponível. Tente novamente.",
}

// Service answers "what can this user get at this location". It never
// returns an error for expected outcomes: invalid input, unknown CEP,
// unresolvable address, no coverage, and upstream outages all degrade to a
// reason-coded empty result.
type Service struct {
	store    store.Store
	cache    cache.Cache // nil disables result caching
	geocoder geocode.Client
	resolver *geometry.Resolver
	bounds   model.Bounds
	ttl      time.Duration
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithResultCache caches assembled query results for ttl.
func WithResultCache(c cache.Cache, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithBounds overrides the national bounding box used to validate points.
func WithBounds(b model.Bounds) ServiceOption {
	return func(s *Service) {
		s.bounds = b
	}
}

// NewService creates the query service.
func NewService(st store.Store, geocoder geocode.Client, resolver *geometry.Resolver, opts ...ServiceOption) *Service {
	s := &Service{
		store:    st,
		geocoder: geocoder,
		resolver: resolver,
		bounds:   model.BrazilBounds,
		ttl:      defaultResultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LookupByCEP resolves a postal code to the providers covering it.
func (s *Service) LookupByCEP(ctx context.Context, cep string) *model.QueryResult {
	normalized, err := geocode.NormalizeCEP(cep)
	if err != nil {
		return degraded(model.ReasonInvalidInput)
	}

	cacheKey := "coverage:cep:" + normalized
	if cached := s.cachedResult(ctx, cacheKey); cached != nil {
		return cached
	}

	geo, err := s.geocoder.Lookup(ctx, normalized)
	if err != nil {
		switch {
		case errors.Is(err, geocode.ErrInvalidPostalCode):
			return degraded(model.ReasonInvalidInput)
		case errors.Is(err, geocode.ErrNotFound):
			res := degraded(model.ReasonNotFound)
			res.PostalCode = normalized
			s.storeResult(ctx, cacheKey, res)
			return res
		default:
			zap.L().Warn("coverage: geocode failed", zap.String("cep", normalized), zap.Error(err))
			res := degraded(model.ReasonTransient)
			res.PostalCode = normalized
			return res
		}
	}
	if geo.Point == nil {
		res := degraded(model.ReasonUnresolvable)
		res.PostalCode = normalized
		return res
	}
	// The upstream country filter narrows but does not guarantee an
	// in-bounds answer; a point outside the service area must not reach
	// the resolver and read as no_coverage.
	if !s.bounds.Contains(*geo.Point) {
		zap.L().Warn("coverage: geocoded point outside service bounds",
			zap.String("cep", normalized),
			zap.Float64("lat", geo.Point.Lat),
			zap.Float64("lng", geo.Point.Lng))
		res := degraded(model.ReasonUnresolvable)
		res.PostalCode = normalized
		return res
	}

	res := s.resolve(ctx, *geo.Point)
	res.PostalCode = normalized
	s.storeResult(ctx, cacheKey, res)
	return res
}

// LookupByPoint resolves a coordinate pair directly, skipping geocoding.
func (s *Service) LookupByPoint(ctx context.Context, pt model.GeoPoint) *model.QueryResult {
	if !pt.Valid() || !s.bounds.Contains(pt) {
		return degraded(model.ReasonInvalidInput)
	}

	cacheKey := pointCacheKey(pt)
	if cached := s.cachedResult(ctx, cacheKey); cached != nil {
		return cached
	}

	res := s.resolve(ctx, pt)
	s.storeResult(ctx, cacheKey, res)
	return res
}

// pointCacheKey rounds coordinates to 4 decimals (roughly 11 m) so nearby
// queries share one entry.
func pointCacheKey(pt model.GeoPoint) string {
	return fmt.Sprintf("coverage:pt:%.4f:%.4f", pt.Lat, pt.Lng)
}

func degraded(reason model.Reason) *model.QueryResult {
	return &model.QueryResult{
		Providers: []model.ProviderResult{},
		Reason:    reason,
		Message:   reasonMessages[reason],
	}
}

// resolve runs containment plus provider/plan enrichment for a valid point.
func (s *Service) resolve(ctx context.Context, pt model.GeoPoint) *model.QueryResult {
	areas, err := s.resolver.ContainingAreas(ctx, pt)
	if err != nil {
		zap.L().Error("coverage: containment query failed", zap.Error(err))
		res := degraded(model.ReasonTransient)
		res.Point = &pt
		return res
	}

	providers := s.enrichProviders(ctx, areas)
	res := &model.QueryResult{
		Providers: providers,
		Point:     &pt,
		Reason:    model.ReasonOK,
	}
	if len(providers) == 0 {
		res.Reason = model.ReasonNoCoverage
		res.Message = reasonMessages[model.ReasonNoCoverage]
	}
	metrics.LookupResults.WithLabelValues(string(res.Reason)).Inc()
	return res
}

// providerOrder carries the best (lowest) area rank and best score seen for
// one provider across its matched areas.
type providerOrder struct {
	rank  int
	score float64
}

// enrichProviders deduplicates providers across matched areas and fetches
// each provider's record and active plans concurrently. A provider whose
// fetch fails is skipped, never fatal to the query.
func (s *Service) enrichProviders(ctx context.Context, areas []model.CoverageArea) []model.ProviderResult {
	order := make(map[string]providerOrder)
	var ids []string
	for _, area := range areas {
		o, seen := order[area.ProviderID]
		if !seen {
			ids = append(ids, area.ProviderID)
			o = providerOrder{rank: area.EffectiveRank(), score: area.EffectiveScore()}
		} else {
			if r := area.EffectiveRank(); r < o.rank {
				o.rank = r
			}
			if sc := area.EffectiveScore(); sc > o.score {
				o.score = sc
			}
		}
		order[area.ProviderID] = o
	}

	var mu sync.Mutex
	results := make([]model.ProviderResult, 0, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			provider, err := s.store.GetProvider(gctx, id)
			if err != nil {
				zap.L().Warn("coverage: skipping provider", zap.String("provider_id", id), zap.Error(err))
				return nil
			}
			if !provider.Active {
				return nil
			}
			plans, err := s.store.ListActivePlans(gctx, id)
			if err != nil {
				zap.L().Warn("coverage: skipping provider plans", zap.String("provider_id", id), zap.Error(err))
				return nil
			}
			mu.Lock()
			results = append(results, model.ProviderResult{
				ID:      provider.ID,
				Name:    provider.Name,
				Slug:    provider.Slug,
				LogoURL: provider.LogoURL,
				Plans:   plans,
			})
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	// Rank ascending, then score descending, then name for stability.
	sort.Slice(results, func(i, j int) bool {
		oi, oj := order[results[i].ID], order[results[j].ID]
		if oi.rank != oj.rank {
			return oi.rank < oj.rank
		}
		if oi.score != oj.score {
			return oi.score > oj.score
		}
		return results[i].Name < results[j].Name
	})
	return results
}

// cachedResult returns a previously assembled result, treating any cache
// failure as a miss.
func (s *Service) cachedResult(ctx context.Context, key string) *model.QueryResult {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			zap.L().Warn("coverage: cache read failed", zap.Error(err))
		}
		metrics.CacheMisses.WithLabelValues("result").Inc()
		return nil
	}
	var res model.QueryResult
	if err := json.Unmarshal(data, &res); err != nil {
		zap.L().Warn("coverage: dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		return nil
	}
	metrics.CacheHits.WithLabelValues("result").Inc()
	return &res
}

// storeResult caches terminal results. Transient and unresolvable outcomes
// are not cached so recovery is visible immediately.
func (s *Service) storeResult(ctx context.Context, key string, res *model.QueryResult) {
	if s.cache == nil {
		return
	}
	if res.Reason == model.ReasonTransient || res.Reason == model.ReasonUnresolvable {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		zap.L().Warn("coverage: cache write failed", zap.String("key", key), zap.Error(err))
	}
}
