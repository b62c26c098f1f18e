package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/melhorpreco/coverage-api/internal/cache"
	"github.com/melhorpreco/coverage-api/internal/coverage"
	"github.com/melhorpreco/coverage-api/internal/geometry"
	"github.com/melhorpreco/coverage-api/internal/store"
	"github.com/melhorpreco/coverage-api/pkg/geocode"
)

// appEnv bundles the wired dependencies a command needs.
type appEnv struct {
	Store    store.Store
	Cache    cache.Cache
	Geocoder geocode.Client
	Service  *coverage.Service
	Ingestor *coverage.Ingestor
}

// initEnv builds the store, cache, geocoder, resolver and services from the
// loaded configuration.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var c cache.Cache
	if cfg.Cache.RedisAddr != "" {
		c = cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		zap.L().Info("using redis cache", zap.String("addr", cfg.Cache.RedisAddr))
	} else {
		c = cache.NewMemory(cfg.Cache.MemoryEntries)
	}

	geocoder := geocode.NewClient(
		geocode.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Geocode.TimeoutSecs) * time.Second,
		}),
		geocode.WithBaseURLs(cfg.Geocode.ViaCEPBaseURL, cfg.Geocode.NominatimBaseURL),
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithRateLimit(cfg.Geocode.RateLimitRPS),
		geocode.WithCache(c, time.Duration(cfg.Geocode.CacheTTLHours)*time.Hour),
	)

	// The resolver upgrades to the store's indexed point query when the
	// backend provides one (PostGIS).
	resolver := geometry.NewResolver(st)

	svc := coverage.NewService(st, geocoder, resolver,
		coverage.WithResultCache(c, time.Duration(cfg.Coverage.CacheTTLHours)*time.Hour),
		coverage.WithBounds(cfg.Coverage.Bounds),
	)

	return &appEnv{
		Store:    st,
		Cache:    c,
		Geocoder: geocoder,
		Service:  svc,
		Ingestor: coverage.NewIngestor(st, c),
	}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Close releases the environment's resources.
func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("closing store", zap.Error(err))
	}
	if closer, ok := e.Cache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			zap.L().Warn("closing cache", zap.Error(err))
		}
	}
}
