package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ripeness-monitor/internal/classifier"
	"ripeness-monitor/internal/db"
	"ripeness-monitor/internal/export"
	"ripeness-monitor/internal/models"
	"ripeness-monitor/internal/parser"
	"ripeness-monitor/internal/series"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ingester runs one payload through the ingestion pipeline
type Ingester interface {
	Ingest(ctx context.Context, payload parser.Payload) (*models.Reading, error)
}

// Options wires the server's dependencies. Hub is optional.
type Options struct {
	Store    db.Store
	Pipeline Ingester
	Series   *series.Service
	Exporter *export.Exporter
	Selector *classifier.Selector
	Hub      http.Handler
	Logger   *zap.Logger
}

// Server represents the API server
type Server struct {
	store    db.Store
	pipeline Ingester
	series   *series.Service
	exporter *export.Exporter
	selector *classifier.Selector
	hub      http.Handler
	router   *mux.Router
	logger   *zap.Logger
}

const defaultLimit = 100

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		store:    opts.Store,
		pipeline: opts.Pipeline,
		series:   opts.Series,
		exporter: opts.Exporter,
		selector: opts.Selector,
		hub:      opts.Hub,
		router:   mux.NewRouter(),
		logger:   opts.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.handleHealth))).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if s.hub != nil {
		s.router.Handle("/ws", s.hub)
	}

	api := s.router.PathPrefix("/api").Subrouter()

	// Ingestion
	api.HandleFunc("/sensors", s.handleIngest).Methods("POST")

	// History
	api.HandleFunc("/readings", s.handleReadings).Methods("GET")
	api.HandleFunc("/commodities", s.handleCommodities).Methods("GET")
	api.HandleFunc("/commodities/{type}/series", s.handleSeries).Methods("GET")
	api.HandleFunc("/commodities/{type}/trend", s.handleTrend).Methods("GET")
	api.HandleFunc("/commodities/{type}/export.csv", s.handleExportCSV).Methods("GET")
	api.HandleFunc("/export/{type}", s.handleExport).Methods("GET")

	api.HandleFunc("/policies", s.handlePolicies).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	api.Use(s.loggingMiddleware)
	api.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total   int   `json:"total,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	QueryMs int64 `json:"query_ms,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

// respondErr maps domain errors to status codes
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var (
		verr     *models.ValidationError
		nf       *models.NotFoundError
		upstream *models.UpstreamError
	)
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &upstream):
		if upstream.Retryable {
			w.Header().Set("Retry-After", "1")
		}
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var payload parser.Payload
	if err := dec.Decode(&payload); err != nil || payload == nil {
		respondError(w, http.StatusBadRequest, "invalid JSON object")
		return
	}

	reading, err := s.pipeline.Ingest(r.Context(), payload)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reading)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q := models.ReadingQuery{
		CommodityType: r.URL.Query().Get("commodity"),
		Limit:         defaultLimit,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	switch strings.ToLower(r.URL.Query().Get("order")) {
	case "", "desc":
	case "asc":
		q.Ascending = true
	default:
		respondError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	readings, err := s.store.Find(r.Context(), q)
	if err != nil {
		s.respondErr(w, &models.UpstreamError{Component: "store", Op: "find", Err: err, Retryable: true})
		return
	}
	if readings == nil {
		readings = []models.Reading{}
	}

	respondWithMeta(w, readings, &meta{
		Total:   len(readings),
		Limit:   q.Limit,
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleCommodities(w http.ResponseWriter, r *http.Request) {
	values, err := s.store.DistinctValues(r.Context(), models.FieldCommodityType)
	if err != nil {
		s.respondErr(w, &models.UpstreamError{Component: "store", Op: "distinct", Err: err, Retryable: true})
		return
	}
	respondJSON(w, http.StatusOK, values)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	commodity := mux.Vars(r)["type"]

	points, err := s.series.Series(r.Context(), commodity)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	respondWithMeta(w, points, &meta{
		Total:   len(points),
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	commodity := mux.Vars(r)["type"]

	est, ok, err := s.series.Trend(r.Context(), commodity)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, map[string]bool{"no_data": true})
		return
	}
	respondJSON(w, http.StatusOK, est)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	selector := mux.Vars(r)["type"]

	paths, err := s.exporter.Export(r.Context(), selector)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"files": paths})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	commodity := mux.Vars(r)["type"]

	var buf bytes.Buffer
	if err := s.exporter.Stream(r.Context(), &buf, commodity); err != nil {
		s.respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(commodity)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type policyInfo struct {
	ID      string   `json:"id"`
	Unit    string   `json:"unit"`
	Rules   []string `json:"rules"`
	Default bool     `json:"default"`
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	var out []policyInfo
	for _, p := range classifier.Policies() {
		info := policyInfo{ID: p.ID(), Unit: string(p.Unit), Default: s.selector.Default() == p}
		for _, rule := range p.Rules {
			info.Rules = append(info.Rules, rule.Name)
		}
		out = append(out, info)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"policies":  out,
		"overrides": s.selector.Overrides(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondErr(w, &models.UpstreamError{Component: "store", Op: "stats", Err: err, Retryable: true})
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
