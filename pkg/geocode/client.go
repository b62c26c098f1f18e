// Package geocode resolves Brazilian postal codes (CEPs) to street addresses
// via ViaCEP and to coordinates via Nominatim.
package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/melhorpreco/coverage-api/internal/cache"
	"github.com/melhorpreco/coverage-api/internal/metrics"
	"github.com/melhorpreco/coverage-api/internal/model"
	"github.com/melhorpreco/coverage-api/internal/resilience"
)

const (
	defaultViaCEPBaseURL    = "https://viacep.com.br/ws"
	defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
	defaultUserAgent        = "coverage-api/1.0 (contato@melhorpreco.net)"
)

// ErrInvalidPostalCode is returned when the input does not contain exactly
// eight digits after stripping formatting.
var ErrInvalidPostalCode = eris.New("geocode: invalid postal code")

// ErrNotFound is returned when ViaCEP reports the CEP does not exist.
var ErrNotFound = eris.New("geocode: postal code not found")

// Client resolves a CEP to an address and, when possible, coordinates.
type Client interface {
	// Lookup resolves the postal code. A result with a nil Point means the
	// address was found but could not be geocoded to coordinates.
	Lookup(ctx context.Context, cep string) (*model.GeocodeResult, error)
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithHTTPClient sets a custom HTTP client for ViaCEP and Nominatim requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithBaseURLs overrides the upstream endpoints, used in tests and for
// self-hosted Nominatim instances.
func WithBaseURLs(viaCEP, nominatim string) Option {
	return func(g *geocoder) {
		if viaCEP != "" {
			g.viaCEPBase = strings.TrimRight(viaCEP, "/")
		}
		if nominatim != "" {
			g.nominatimBase = strings.TrimRight(nominatim, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header. Nominatim's usage policy
// requires an identifying agent.
func WithUserAgent(ua string) Option {
	return func(g *geocoder) {
		g.userAgent = ua
	}
}

// WithRateLimit sets the requests-per-second limit for Nominatim calls.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCache stores full resolutions (address and point) for the given TTL.
// Partial resolutions are never cached so the point lookup gets retried.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(g *geocoder) {
		g.cache = c
		g.cacheTTL = ttl
	}
}

// WithRetry overrides the transient retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *geocoder) {
		g.retry = cfg
	}
}

type geocoder struct {
	httpClient    *http.Client
	viaCEPBase    string
	nominatimBase string
	userAgent     string
	limiter       *rate.Limiter
	cache         cache.Cache
	cacheTTL      time.Duration
	retry         resilience.RetryConfig
	breaker       *resilience.Breaker
}

// NewClient creates a geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		viaCEPBase:    defaultViaCEPBaseURL,
		nominatimBase: defaultNominatimBaseURL,
		userAgent:     defaultUserAgent,
		limiter:       rate.NewLimiter(1, 1), // Nominatim policy: 1 req/s
		retry:         resilience.DefaultRetryConfig(),
		breaker:       resilience.NewBreaker(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NormalizeCEP strips non-digit characters and validates the 8-digit form.
func NormalizeCEP(cep string) (string, error) {
	var b strings.Builder
	for _, r := range cep {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if len(normalized) != 8 {
		return "", eris.Wrapf(ErrInvalidPostalCode, "%q", cep)
	}
	return normalized, nil
}

func (g *geocoder) Lookup(ctx context.Context, cep string) (*model.GeocodeResult, error) {
	normalized, err := NormalizeCEP(cep)
	if err != nil {
		return nil, err
	}

	cacheKey := "geocode:cep:" + normalized
	if g.cache != nil {
		if data, err := g.cache.Get(ctx, cacheKey); err == nil {
			var cached model.GeocodeResult
			if err := json.Unmarshal(data, &cached); err == nil {
				zap.L().Debug("geocode cache hit", zap.String("cep", normalized))
				return &cached, nil
			}
		}
	}

	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}

	// Cache hits are excluded: the histogram tracks upstream resolution.
	start := time.Now()
	defer func() { metrics.GeocodeDuration.Observe(time.Since(start).Seconds()) }()

	result, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*model.GeocodeResult, error) {
		return g.lookupViaCEP(ctx, normalized)
	})
	g.breaker.Record(err)
	if err != nil {
		return nil, err
	}

	// Coordinates are best effort: an address without a point is still a
	// usable answer for the caller.
	point, err := g.lookupNominatim(ctx, result)
	if err != nil {
		zap.L().Warn("geocode: point resolution failed",
			zap.String("cep", normalized), zap.Error(err))
	} else {
		result.Point = point
	}

	if g.cache != nil && result.Point != nil {
		if data, err := json.Marshal(result); err == nil {
			if err := g.cache.Set(ctx, cacheKey, data, g.cacheTTL); err != nil {
				zap.L().Warn("geocode: cache write failed", zap.Error(err))
			}
		}
	}
	return result, nil
}
