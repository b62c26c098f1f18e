package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/melhorpreco/coverage-api/internal/coverage"
	"github.com/melhorpreco/coverage-api/internal/kml"
	"github.com/melhorpreco/coverage-api/internal/model"
	"github.com/melhorpreco/coverage-api/internal/store"
)

type errorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, details ...string) {
	writeJSON(w, status, errorResponse{Error: msg, Errors: details})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLookup serves the public coverage search. Exactly one of cep or the
// lat/lng pair must be given. Resolvable queries always answer 200; the
// reason code distinguishes empty outcomes.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cep := q.Get("cep")
	latStr, lngStr := q.Get("lat"), q.Get("lng")
	hasPoint := latStr != "" || lngStr != ""

	switch {
	case cep != "" && hasPoint:
		writeError(w, http.StatusBadRequest, "provide either cep or lat/lng, not both")
		return
	case cep == "" && !hasPoint:
		writeError(w, http.StatusBadRequest, "provide cep or lat/lng")
		return
	}

	var result *model.QueryResult
	if cep != "" {
		result = s.service.LookupByCEP(r.Context(), cep)
	} else {
		lat, errLat := strconv.ParseFloat(latStr, 64)
		lng, errLng := strconv.ParseFloat(lngStr, 64)
		if errLat != nil || errLng != nil {
			writeError(w, http.StatusBadRequest, "lat and lng must be numeric")
			return
		}
		result = s.service.LookupByPoint(r.Context(), model.GeoPoint{Lat: lat, Lng: lng})
	}

	writeJSON(w, http.StatusOK, result)
}

// handleIngest accepts a multipart KML/KMZ upload on the admin surface.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				"file exceeds the "+strconv.FormatInt(s.maxUploadMB, 10)+" MB limit")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	report, err := s.ingestor.Ingest(r.Context(), coverage.IngestInput{
		Filename:   header.Filename,
		Data:       data,
		ProviderID: r.FormValue("provider_id"),
		AreaName:   r.FormValue("area_name"),
	})
	if err != nil {
		switch {
		case errors.Is(err, kml.ErrEmptyInput),
			errors.Is(err, kml.ErrMalformedArchive),
			errors.Is(err, kml.ErrMalformedXML),
			errors.Is(err, kml.ErrNoValidRegions):
			details := []string{err.Error()}
			if report != nil {
				details = append(details, report.Errors...)
			}
			writeError(w, http.StatusBadRequest, "invalid coverage document", details...)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusBadRequest, "unknown provider")
		default:
			zap.L().Error("server: ingest failed", zap.String("file", header.Filename), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "ingestion failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviders(r.Context())
	if err != nil {
		zap.L().Error("server: list providers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if providers == nil {
		providers = []model.Provider{}
	}
	writeJSON(w, http.StatusOK, providers)
}

// areaView is the list/detail representation of a coverage area. Geometry
// and source text are omitted from listings to keep payloads small.
type areaView struct {
	ID         string   `json:"id"`
	ProviderID string   `json:"provider_id"`
	Name       string   `json:"name"`
	Rank       *int     `json:"rank,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	Features   int      `json:"features"`
}

func toAreaView(a model.CoverageArea) areaView {
	v := areaView{
		ID:         a.ID,
		ProviderID: a.ProviderID,
		Name:       a.Name,
		Rank:       a.Rank,
		Score:      a.Score,
	}
	if a.Geometry != nil {
		v.Features = len(a.Geometry.Features)
	}
	return v
}

func (s *Server) handleListAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := s.store.ListAreas(r.Context(), store.AreaFilter{
		ProviderID: r.URL.Query().Get("provider_id"),
	})
	if err != nil {
		zap.L().Error("server: list areas", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	views := make([]areaView, 0, len(areas))
	for _, a := range areas {
		views = append(views, toAreaView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetArea(w http.ResponseWriter, r *http.Request) {
	area, err := s.store.GetArea(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "area not found")
			return
		}
		zap.L().Error("server: get area", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	// Detail view includes the full geometry.
	writeJSON(w, http.StatusOK, area)
}

func (s *Server) handleUpdateRank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rank  *int     `json:"rank"`
		Score *float64 `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Rank != nil && *req.Rank < 0 {
		writeError(w, http.StatusBadRequest, "rank must be non-negative")
		return
	}
	if req.Score != nil && (*req.Score < 0 || *req.Score > 10) {
		writeError(w, http.StatusBadRequest, "score must be between 0 and 10")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.UpdateAreaRank(r.Context(), id, req.Rank, req.Score); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "area not found")
			return
		}
		zap.L().Error("server: update rank", zap.String("area_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteArea(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "area not found")
			return
		}
		zap.L().Error("server: delete area", zap.String("area_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
