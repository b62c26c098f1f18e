package coverage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/melhorpreco/coverage-api/internal/cache"
	"github.com/melhorpreco/coverage-api/internal/geometry"
	"github.com/melhorpreco/coverage-api/internal/kml"
	"github.com/melhorpreco/coverage-api/internal/metrics"
	"github.com/melhorpreco/coverage-api/internal/model"
	"github.com/melhorpreco/coverage-api/internal/store"
)

// IngestInput is one uploaded coverage document.
type IngestInput struct {
	Filename string
	Data     []byte
	// ProviderID, when set, assigns the whole document to one provider and
	// skips name inference.
	ProviderID string
	// AreaName overrides the derived area name.
	AreaName string
}

// AreaSummary describes one created coverage area in an ingest report.
type AreaSummary struct {
	AreaID       string `json:"area_id"`
	AreaName     string `json:"area_name"`
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	NewProvider  bool   `json:"new_provider"`
	Features     int    `json:"features"`
}

// IngestReport is the outcome of one upload. Errors carries every problem
// found, including per-group persistence failures for partially successful
// uploads.
type IngestReport struct {
	Areas  []AreaSummary `json:"areas"`
	Errors []string      `json:"errors,omitempty"`
	Tally  kml.Tally     `json:"tally"`
	// Swapped and Folded report how many features the normalizer corrected.
	Swapped int `json:"swapped_features"`
	Folded  int `json:"folded_lines"`
}

// Ingestor runs the upload-to-storage pipeline: parse, normalize, group by
// provider, persist.
type Ingestor struct {
	store store.Store
	cache cache.Cache // nil disables invalidation
}

// NewIngestor creates an Ingestor. The cache may be nil; stale query
// results then age out by TTL.
func NewIngestor(st store.Store, c cache.Cache) *Ingestor {
	return &Ingestor{store: st, cache: c}
}

// Ingest processes one uploaded document. A nil error with a non-empty
// report.Errors means partial success: some groups persisted, others did
// not. Successful groups are never rolled back because each area is an
// independent unit of work.
func (ing *Ingestor) Ingest(ctx context.Context, input IngestInput) (*IngestReport, error) {
	parsed, err := kml.Parse(input.Filename, input.Data)
	if err != nil {
		metrics.IngestDocuments.WithLabelValues("parse_error").Inc()
		if parsed != nil {
			// Surface the tally and per-feature errors so the admin can fix
			// the file in one pass.
			return &IngestReport{Tally: parsed.Tally, Errors: parsed.Errors}, err
		}
		return nil, err
	}

	report := &IngestReport{Tally: parsed.Tally, Errors: parsed.Errors}

	normalized, stats, err := geometry.Normalize(parsed.Collection)
	if err != nil {
		metrics.IngestDocuments.WithLabelValues("no_geometry").Inc()
		report.Errors = append(report.Errors,
			fmt.Sprintf("no usable polygon geometry: %s", parsed.Tally))
		return report, err
	}
	report.Swapped = stats.SwappedFeatures
	report.Folded = stats.FoldedLines

	if input.ProviderID != "" {
		err = ing.ingestSingleProvider(ctx, input, parsed.SourceKML, normalized, report)
	} else {
		err = ing.ingestGrouped(ctx, input, parsed.SourceKML, normalized, report)
	}
	if err != nil {
		metrics.IngestDocuments.WithLabelValues("storage_error").Inc()
		return report, err
	}

	if len(report.Areas) > 0 {
		ing.invalidate(ctx)
		metrics.IngestDocuments.WithLabelValues("ok").Inc()
		metrics.IngestAreasCreated.Add(float64(len(report.Areas)))
	}
	return report, nil
}

// ingestSingleProvider stores the whole collection as one area owned by the
// given provider.
func (ing *Ingestor) ingestSingleProvider(ctx context.Context, input IngestInput, sourceKML string, fc *geojson.FeatureCollection, report *IngestReport) error {
	provider, err := ing.store.GetProvider(ctx, input.ProviderID)
	if err != nil {
		return eris.Wrapf(err, "coverage: provider %s", input.ProviderID)
	}

	name := input.AreaName
	if name == "" {
		name = areaNameFromFilename(input.Filename)
	}

	area := &model.CoverageArea{
		ProviderID: provider.ID,
		Name:       name,
		Geometry:   fc,
		SourceDoc:  sourceKML,
	}
	if err := ing.store.CreateArea(ctx, area); err != nil {
		return eris.Wrap(err, "coverage: create area")
	}

	report.Areas = append(report.Areas, AreaSummary{
		AreaID:       area.ID,
		AreaName:     area.Name,
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		Features:     len(fc.Features),
	})
	return nil
}

// featureGroup collects the features attributed to one candidate provider.
type featureGroup struct {
	name     string // display name from the first feature seen
	features []*geojson.Feature
}

// ingestGrouped splits the collection by inferred provider name, matches or
// creates providers, and persists one area per group. Group failures are
// independent: the report lists what succeeded and what did not.
func (ing *Ingestor) ingestGrouped(ctx context.Context, input IngestInput, sourceKML string, fc *geojson.FeatureCollection, report *IngestReport) error {
	groups := make(map[string]*featureGroup)
	var order []string

	for i, f := range fc.Features {
		label, _ := f.Properties["name"].(string)
		candidates := InferNames(label, input.Filename)
		if len(candidates) == 0 {
			report.Errors = append(report.Errors,
				fmt.Sprintf("feature %d: no provider name derivable from label %q or filename %q; assign a provider explicitly", i+1, label, input.Filename))
			continue
		}
		name := candidates[0].Name
		key := Fold(name)
		g, ok := groups[key]
		if !ok {
			g = &featureGroup{name: name}
			groups[key] = g
			order = append(order, key)
		}
		g.features = append(g.features, f)
	}

	if len(groups) == 0 {
		return eris.New("coverage: no feature could be attributed to a provider")
	}

	existing, err := ing.store.ListProviders(ctx)
	if err != nil {
		return eris.Wrap(err, "coverage: list providers")
	}

	var failures int
	for _, key := range order {
		g := groups[key]
		if err := ing.persistGroup(ctx, g, sourceKML, &existing, report); err != nil {
			failures++
			report.Errors = append(report.Errors,
				fmt.Sprintf("provider group %q: %v", g.name, err))
		}
	}
	if failures == len(order) {
		return eris.New("coverage: every provider group failed to persist")
	}
	return nil
}

func (ing *Ingestor) persistGroup(ctx context.Context, g *featureGroup, sourceKML string, existing *[]model.Provider, report *IngestReport) error {
	provider, created, err := ing.matchOrCreateProvider(ctx, g.name, existing)
	if err != nil {
		return err
	}

	groupFC := geojson.NewFeatureCollection()
	for _, f := range g.features {
		groupFC.Append(f)
	}

	area := &model.CoverageArea{
		ProviderID: provider.ID,
		Name:       g.name,
		Geometry:   groupFC,
		SourceDoc:  sourceKML,
	}
	if err := ing.store.CreateArea(ctx, area); err != nil {
		return eris.Wrap(err, "create area")
	}

	report.Areas = append(report.Areas, AreaSummary{
		AreaID:       area.ID,
		AreaName:     area.Name,
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		NewProvider:  created,
		Features:     len(g.features),
	})
	return nil
}

// matchOrCreateProvider resolves a candidate name against the known
// providers with folded containment matching, creating a new record when
// nothing matches. Created providers join the known list so later groups
// in the same upload match against them too.
func (ing *Ingestor) matchOrCreateProvider(ctx context.Context, name string, existing *[]model.Provider) (*model.Provider, bool, error) {
	known := *existing
	for i := range known {
		if NamesMatch(known[i].Name, name) {
			return &known[i], false, nil
		}
	}

	slug, err := ing.uniqueSlug(ctx, Slugify(name))
	if err != nil {
		return nil, false, err
	}
	provider := &model.Provider{
		Name:   name,
		Slug:   slug,
		Active: true,
	}
	if err := ing.store.CreateProvider(ctx, provider); err != nil {
		return nil, false, eris.Wrapf(err, "create provider %q", name)
	}
	zap.L().Info("coverage: created provider from ingest",
		zap.String("provider_id", provider.ID), zap.String("name", name))
	*existing = append(*existing, *provider)
	return provider, true, nil
}

// uniqueSlug suffixes the base slug with -2, -3, ... until no existing
// provider claims it.
func (ing *Ingestor) uniqueSlug(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = "provider"
	}
	slug := base
	for i := 2; ; i++ {
		_, err := ing.store.GetProviderBySlug(ctx, slug)
		if errors.Is(err, store.ErrNotFound) {
			return slug, nil
		}
		if err != nil {
			return "", eris.Wrap(err, "check slug")
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

// invalidate drops cached query results after a write. Failures are logged
// and ignored; entries expire by TTL regardless.
func (ing *Ingestor) invalidate(ctx context.Context) {
	if ing.cache == nil {
		return
	}
	if err := ing.cache.DeleteByPrefix(ctx, "coverage:"); err != nil {
		zap.L().Warn("coverage: cache invalidation failed", zap.Error(err))
	}
}

func areaNameFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", ".", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return "Área de cobertura"
	}
	return base
}
