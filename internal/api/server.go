// Package api provides the HTTP server and handlers for the beatmap analyzer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/analysis"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/beatmap"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/catalog"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/metrics"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/osufile"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/stats"
	"github.com/beatmapanalyzer/beatmapanalyzer/pkg/protocol"
)

// analyzeStatus is the status the analyze endpoint resolves with. It does
// not consult the catalog, so a cached copy is always trusted.
const analyzeStatus = beatmap.StatusRanked

// Resolver yields the map document for a beatmap.
type Resolver interface {
	Resolve(ctx context.Context, id beatmap.ID, status beatmap.Status) (string, error)
}

// Server is the HTTP API server.
type Server struct {
	catalog    catalog.Lookup
	resolver   Resolver
	corsOrigin string
}

// NewServer creates a server. corsOrigin is sent as
// Access-Control-Allow-Origin; empty disables CORS headers.
func NewServer(cat catalog.Lookup, resolver Resolver, corsOrigin string) *Server {
	return &Server{
		catalog:    cat,
		resolver:   resolver,
		corsOrigin: corsOrigin,
	}
}

// Handler returns the HTTP handler with logging, metrics and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/beatmaps/{id}/details", s.handleDetails)
	mux.HandleFunc("GET /api/beatmaps/{id}/analyze/{mode}", s.handleAnalyze)

	// Metrics reads the mux pattern, so it must see the request the mux
	// receives, inside the logging middleware's request copy.
	return logging.Middleware(metrics.Middleware(s.cors(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ok"})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := s.beatmapID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	meta, err := s.catalog.Beatmap(ctx, id)
	if err != nil {
		s.internalError(w, r, "catalog lookup failed", err)
		return
	}

	doc, err := s.resolver.Resolve(ctx, id, meta.Status())
	if err != nil {
		s.internalError(w, r, "resolve failed", err)
		return
	}

	start := time.Now()
	summary, err := stats.Derive(doc, meta)
	metrics.RecordComputation("details", err != nil, time.Since(start))
	if err != nil {
		s.internalError(w, r, "derive statistics failed", err)
		return
	}

	s.sendJSON(w, http.StatusOK, detailsResponse(summary))
}

func detailsResponse(s *stats.Summary) protocol.DetailsResponse {
	return protocol.DetailsResponse{
		Title:   s.Title,
		Artist:  s.Artist,
		Creator: s.Creator,
		Version: s.Version,
		SetID:   s.SetID,
		Statistics: protocol.Statistics{
			StarRating: s.Statistics.StarRating,
			PP:         s.Statistics.PP,
			BPM:        s.Statistics.BPM,
			AR:         s.Statistics.AR,
			OD:         s.Statistics.OD,
			HP:         s.Statistics.HP,
			CS:         s.Statistics.CS,
		},
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := s.beatmapID(w, r)
	if !ok {
		return
	}

	mode, err := analysis.ParseMode(r.PathValue("mode"))
	if err != nil {
		logging.WithContext(r.Context()).Info("rejected analysis mode",
			zap.String("mode", r.PathValue("mode")))
		s.sendError(w, http.StatusBadRequest, "Bad request: "+err.Error())
		return
	}

	doc, err := s.resolver.Resolve(r.Context(), id, analyzeStatus)
	if err != nil {
		s.internalError(w, r, "resolve failed", err)
		return
	}

	start := time.Now()
	results, err := analysis.Analyze(doc, mode)
	metrics.RecordComputation(mode.String(), err != nil, time.Since(start))
	if err != nil {
		s.internalError(w, r, "analysis failed", err)
		return
	}

	if mode == analysis.ModeAll {
		s.sendJSON(w, http.StatusOK, results)
		return
	}
	s.sendJSON(w, http.StatusOK, results[0])
}

func (s *Server) beatmapID(w http.ResponseWriter, r *http.Request) (beatmap.ID, bool) {
	raw := r.PathValue("id")
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Bad request: invalid beatmap id "+strconv.Quote(raw))
		return 0, false
	}
	return beatmap.ID(n), true
}

// internalError logs err and answers 500. Parse failures keep their own
// prefix so a broken map is distinguishable from an unavailable upstream.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.WithContext(r.Context()).Error(msg,
		zap.String("beatmap_id", r.PathValue("id")),
		zap.String("kind", errorKind(err)),
		zap.Error(err))

	var pe *osufile.ParseError
	if errors.As(err, &pe) {
		s.sendError(w, http.StatusInternalServerError, "Error parsing beatmap: "+err.Error())
		return
	}
	s.sendError(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
}

func errorKind(err error) string {
	var (
		ce  *catalog.Error
		fe  *beatmap.FetchError
		che *beatmap.CacheError
		pe  *osufile.ParseError
	)
	switch {
	case errors.As(err, &ce):
		return "catalog"
	case errors.As(err, &fe):
		return "fetch_" + fe.Kind.String()
	case errors.As(err, &che):
		return "cache"
	case errors.As(err, &pe):
		return "parse"
	default:
		return "internal"
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	if s.corsOrigin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sendJSON encodes v before committing the status, so a value that cannot be
// encoded still produces a 500 with an error body.
func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logging.L().Error("encode response", zap.Error(err))
		code = http.StatusInternalServerError
		body, _ = json.Marshal(protocol.ErrorResponse{Error: "Internal server error: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{Error: message})
}
