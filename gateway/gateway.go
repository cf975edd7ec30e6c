// Package gateway serves the HTTP API: the cached read endpoints the
// dashboard calls and the admin cache surface.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Stattrackrr/stattrackr-sub010/cachekey"
	"github.com/Stattrackrr/stattrackr-sub010/errors"
	"github.com/Stattrackrr/stattrackr-sub010/tiercache"
)

const maxRequestSize = 1 << 20 // 1 MiB, admin bodies are tiny

// OddsSource produces upstream payloads to fill cache misses on the
// read path, satisfied by *scan.Syncer.
type OddsSource interface {
	BulkKey() string
	BulkSnapshot(ctx context.Context) ([]byte, error)
	PlayerKey(playerID string) string
	PlayerProps(ctx context.Context, playerID string) ([]byte, error)
}

// Server is the HTTP API server over the tiered cache.
type Server struct {
	port   int
	cache  *tiercache.Service
	source OddsSource
	logger *slog.Logger

	mu     sync.Mutex
	server *http.Server

	// Request counters, exposed through the stats endpoint.
	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	degradedServes atomic.Uint64
}

// NewServer builds the API server. Call Start to begin listening.
func NewServer(port int, cache *tiercache.Service, source OddsSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{port: port, cache: cache, source: source, logger: logger}
}

// Handler builds the route table. Exposed separately so tests can drive
// the mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/odds", s.withCommon(s.handleOdds))
	mux.HandleFunc("GET /api/players/{id}/props", s.withCommon(s.handlePlayerProps))
	mux.HandleFunc("GET /admin/cache/stats", s.withCommon(s.handleCacheStats))
	mux.HandleFunc("POST /admin/cache/clear", s.withCommon(s.handleCacheClear))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("api server listening", "port", s.port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "gateway", "Start", "listen and serve")
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "gateway", "Stop", "graceful shutdown")
	}
	return nil
}

// withCommon attaches the request ID header and counts the request.
func (s *Server) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", requestID(r))
		s.requestsTotal.Add(1)
		next(w, r)
	}
}

// requestID extracts the caller's request ID or generates one, for
// tracing a request across the gateway and upstream fetch logs.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func (s *Server) handleOdds(w http.ResponseWriter, r *http.Request) {
	result, err := s.cache.GetOrFetch(r.Context(), s.source.BulkKey(),
		cachekey.EntityBulkOdds, s.source.BulkSnapshot)
	if err != nil {
		s.writeFetchError(w, err)
		return
	}
	s.writeCached(w, result)
}

func (s *Server) handlePlayerProps(w http.ResponseWriter, r *http.Request) {
	playerID := r.PathValue("id")
	if playerID == "" {
		s.writeError(w, http.StatusBadRequest, "player id is required")
		return
	}

	result, err := s.cache.GetOrFetch(r.Context(), s.source.PlayerKey(playerID),
		cachekey.EntityPlayerProps, func(ctx context.Context) ([]byte, error) {
			return s.source.PlayerProps(ctx, playerID)
		})
	if err != nil {
		s.writeFetchError(w, err)
		return
	}
	s.writeCached(w, result)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.StatsReport(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"cache": stats,
		"gateway": map[string]uint64{
			"requestsTotal":  s.requestsTotal.Load(),
			"requestsFailed": s.requestsFailed.Load(),
			"degradedServes": s.degradedServes.Load(),
		},
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req tiercache.ClearRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid clear request")
			return
		}
	}
	if r.URL.Query().Get("dryRun") == "true" {
		req.DryRun = true
	}

	report, err := s.cache.Clear(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "either key or prefix is required")
		return
	}

	s.logger.Info("admin cache clear",
		"keys", len(report.Keys), "dryRun", report.DryRun)
	s.writeJSON(w, http.StatusOK, report)
}

// writeCached writes a cache read result, flagging degraded serves so
// the dashboard can badge stale numbers.
func (s *Server) writeCached(w http.ResponseWriter, result tiercache.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache-Source", string(result.Source))
	if result.Degraded {
		s.degradedServes.Add(1)
		w.Header().Set("X-Degraded", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Value)
}

func (s *Server) writeFetchError(w http.ResponseWriter, err error) {
	s.requestsFailed.Add(1)
	status := statusFor(err)
	s.logger.Warn("read path failed", "status", status, "error", err)
	s.writeError(w, status, sanitize(err))
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.IsPermanent(err):
		return http.StatusBadGateway
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitize keeps upstream details out of client-facing errors.
func sanitize(err error) string {
	switch {
	case errors.IsTransient(err):
		return "upstream temporarily unavailable"
	case errors.IsPermanent(err):
		return "upstream returned unusable data"
	default:
		return "internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response write failed", "error", err)
	}
}
