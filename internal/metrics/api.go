package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/mlxd/internal/config"
	"github.com/allaspectsdev/mlxd/internal/store"
)

// StatusServer serves the JSON status API and the Prometheus /metrics
// endpoint used by operators and the `mlxd` CLI's status output. There
// is no browser UI here; this is a machine-readable surface for a local
// single-tenant server.
type StatusServer struct {
	router    chi.Router
	collector *Collector
	store     *store.Store
	addr      string
	server    *http.Server
}

// Stats is a point-in-time snapshot of request counters, suitable for
// JSON serialisation and for `mlxd status`.
type Stats struct {
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	CachedTokens     int64  `json:"cached_tokens"`
	CacheHits        int64  `json:"cache_hits"`
	CacheMisses      int64  `json:"cache_misses"`
	ActiveRequests   int64  `json:"active_requests"`
}

// NewStatusServer creates a new StatusServer wired to the given
// collector, request log store, config, and listen address.
func NewStatusServer(collector *Collector, st *store.Store, cfg *config.Config, addr string) *StatusServer {
	s := &StatusServer{
		collector: collector,
		store:     st,
		addr:      addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)

	r.Get("/api/stats", s.handleStats)
	r.Get("/api/stats/history", s.handleStatsHistory)
	r.Get("/api/generations", s.handleListGenerations)
	r.Get("/api/generations/{id}", s.handleGetGeneration)
	r.Get("/api/config", s.handleGetConfig)
	r.Get("/api/health", s.handleHealth)

	r.Get("/metrics", Handler(collector).ServeHTTP)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler, letting callers mount a StatusServer
// inside another router without running its own listener.
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (s *StatusServer) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("status server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the status server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	since := time.Now().Add(-time.Hour)
	dbStats, err := s.store.GetGenerationStats(since)
	if err != nil {
		log.Error().Err(err).Msg("failed to read generation stats")
		dbStats = &store.GenerationStats{}
	}

	writeJSON(w, http.StatusOK, Stats{
		Uptime:           s.collector.Uptime().Round(time.Second).String(),
		TotalRequests:    dbStats.TotalRequests,
		PromptTokens:     dbStats.TotalPromptToks,
		CompletionTokens: dbStats.TotalCompletToks,
		CachedTokens:     dbStats.TotalCachedToks,
		CacheHits:        dbStats.CacheHits,
		CacheMisses:      dbStats.CacheMisses,
	})
}

// handleStatsHistory returns daily aggregates from the request log.
// Accepts ?range=1d, 7d, 30d (default 7d).
func (s *StatusServer) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	rangeParam := r.URL.Query().Get("range")
	if rangeParam == "" {
		rangeParam = "7d"
	}

	since, err := parseDurationParam(rangeParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid range parameter"})
		return
	}

	sinceTime := time.Now().Add(-since)

	type historyPoint struct {
		Timestamp        string `json:"timestamp"`
		Requests         int64  `json:"requests"`
		PromptTokens     int64  `json:"prompt_tokens"`
		CompletionTokens int64  `json:"completion_tokens"`
	}

	rows, err := s.store.Reader().Query(`
		SELECT
			DATE(timestamp) as day,
			COUNT(*) as requests,
			COALESCE(SUM(prompt_tokens), 0) as prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) as completion_tokens
		FROM generations
		WHERE timestamp >= ?
		GROUP BY DATE(timestamp)
		ORDER BY day ASC`,
		sinceTime.UTC().Format(time.RFC3339),
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to query stats history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}
	defer rows.Close()

	var points []historyPoint
	for rows.Next() {
		var p historyPoint
		if err := rows.Scan(&p.Timestamp, &p.Requests, &p.PromptTokens, &p.CompletionTokens); err != nil {
			log.Error().Err(err).Msg("failed to scan history row")
			continue
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("history rows iteration error")
	}
	if points == nil {
		points = []historyPoint{}
	}

	writeJSON(w, http.StatusOK, points)
}

// handleListGenerations returns a paginated list of logged generations.
func (s *StatusServer) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := (page - 1) * limit

	gens, err := s.store.ListGenerations(limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list generations")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":        page,
		"limit":       limit,
		"generations": gens,
	})
}

// handleGetGeneration returns a single generation record by ID.
func (s *StatusServer) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing generation id"})
		return
	}

	g, err := s.store.GetGeneration(id)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "generation not found"})
			return
		}
		log.Error().Err(err).Str("id", id).Msg("failed to get generation")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}

	writeJSON(w, http.StatusOK, g)
}

// handleGetConfig returns the current configuration with sensitive keys redacted.
func (s *StatusServer) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := config.Get()

	data, err := json.Marshal(cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	var cfgMap map[string]interface{}
	if err := json.Unmarshal(data, &cfgMap); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	redactKeys(cfgMap)
	writeJSON(w, http.StatusOK, cfgMap)
}

// --- helpers ---

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// queryInt reads an integer query parameter with a default fallback.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

// parseDurationParam converts a shorthand like "7d" or "24h" to a time.Duration.
func parseDurationParam(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// redactKeys recursively walks a map and replaces any string value whose
// key contains "key", "secret", or "token" (case-insensitive) with "****".
func redactKeys(m map[string]interface{}) {
	for k, v := range m {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "key") || strings.Contains(lower, "secret") || strings.Contains(lower, "token") {
			if _, ok := v.(string); ok {
				m[k] = "****"
				continue
			}
		}
		switch child := v.(type) {
		case map[string]interface{}:
			redactKeys(child)
		case []interface{}:
			for _, item := range child {
				if sub, ok := item.(map[string]interface{}); ok {
					redactKeys(sub)
				}
			}
		}
	}
}

// corsMiddleware adds permissive CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
