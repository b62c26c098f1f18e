package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/melhorpreco/coverage-api/internal/model"
	"github.com/melhorpreco/coverage-api/internal/resilience"
)

// nominatimResult is one entry of the Nominatim /search response.
type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// lookupNominatim turns a resolved address into coordinates. It queries the
// most specific address first and falls back to city-level precision when
// the street is unknown.
func (g *geocoder) lookupNominatim(ctx context.Context, addr *model.GeocodeResult) (*model.GeoPoint, error) {
	queries := buildQueries(addr)
	if len(queries) == 0 {
		return nil, eris.New("geocode: nominatim empty address")
	}

	var lastErr error
	for _, q := range queries {
		point, err := g.searchNominatim(ctx, q)
		if err != nil {
			lastErr = err
			continue
		}
		if point != nil {
			return point, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, eris.Errorf("geocode: nominatim no results for %s", addr.PostalCode)
}

// buildQueries returns search strings in decreasing specificity.
func buildQueries(addr *model.GeocodeResult) []string {
	var queries []string
	if addr.Street != "" && addr.City != "" {
		queries = append(queries, join(addr.Street, addr.City, addr.State, "Brasil"))
	}
	if addr.City != "" {
		queries = append(queries, join(addr.PostalCode, addr.City, addr.State, "Brasil"))
		queries = append(queries, join(addr.City, addr.State, "Brasil"))
	}
	return queries
}

func join(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

func (g *geocoder) searchNominatim(ctx context.Context, query string) (*model.GeoPoint, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim rate limit")
	}

	params := url.Values{
		"q":            {query},
		"format":       {"json"},
		"limit":        {"1"},
		"countrycodes": {"br"},
	}
	reqURL := g.nominatimBase + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geocode: nominatim request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim read body")
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse lat")
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse lon")
	}

	point := model.GeoPoint{Lat: lat, Lng: lng}
	if !point.Valid() {
		return nil, eris.Errorf("geocode: nominatim returned invalid point %f,%f", lat, lng)
	}
	return &point, nil
}
