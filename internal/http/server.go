// Package http serves the dashboard JSON API: sign-in endpoints backed
// by the auth manager and ledger endpoints backed by the selected
// backend.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"anbor/internal/auth"
	"anbor/internal/cache"
	"anbor/internal/core"
	"anbor/internal/ledger"
	"anbor/internal/middleware/ratelimit"
	"anbor/internal/middleware/security"
	"anbor/internal/middleware/trace"
)

// Options configures a Server.
type Options struct {
	Addr string
	Auth *auth.Manager

	Writer       ledger.TransactionWriter
	MetaReader   ledger.MetadataReader
	MetaWriter   ledger.MetadataWriter
	ReportReader ledger.ReportReader
	SnapReader   ledger.SnapshotReader

	ReportCacheSize    int
	ReportCacheTTL     time.Duration
	RateLimitPerMinute int
}

type Server struct {
	http.Server

	auth *auth.Manager

	writer       ledger.TransactionWriter
	metaReader   ledger.MetadataReader
	metaWriter   ledger.MetadataWriter
	reportReader ledger.ReportReader
	snapReader   ledger.SnapshotReader

	reportCache   *cache.LRUCache[core.Report]
	snapshotCache *cache.LRUCache[core.Snapshot]
	cacheManager  *cache.Manager

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(opts Options) *Server {
	cacheSize := opts.ReportCacheSize
	if cacheSize <= 0 {
		cacheSize = 24
	}
	cacheTTL := opts.ReportCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	s := &Server{
		auth:         opts.Auth,
		writer:       opts.Writer,
		metaReader:   opts.MetaReader,
		metaWriter:   opts.MetaWriter,
		reportReader: opts.ReportReader,
		snapReader:   opts.SnapReader,

		reportCache:   cache.NewLRUCache[core.Report](cacheSize, cacheTTL),
		snapshotCache: cache.NewLRUCache[core.Snapshot](cacheSize, cacheTTL),
		cacheManager:  cache.NewManager(),

		detector: security.NewDetector(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}),
	}

	s.cacheManager.Register(s.reportCache)
	s.cacheManager.Register(s.snapshotCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/callback", s.handleCallback)
	mux.HandleFunc("/auth/logout", s.handleLogout)

	mux.HandleFunc("/api/meta", s.requireRole(auth.RoleViewer, s.handleMeta))
	mux.HandleFunc("/api/txn", s.requireRole(auth.RoleClerk, s.handleCreateTxn))
	mux.HandleFunc("/api/warehouse", s.requireRole(auth.RoleAdmin, s.handleCreateWarehouse))
	mux.HandleFunc("/api/costType", s.requireRole(auth.RoleAdmin, s.handleCreateCostType))
	mux.HandleFunc("/api/report", s.requireRole(auth.RoleViewer, s.handleReport))
	mux.HandleFunc("/api/snapshot", s.requireRole(auth.RoleViewer, s.handleSnapshot))
	mux.HandleFunc("/api/metrics", s.requireRole(auth.RoleAdmin, s.handleMetrics))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP)
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, nil)

	handler := headers.Middleware(s.tracer.Middleware(s.detect(limited(mux))))

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Shutdown stops the HTTP server and the background cache and limiter
// goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// detect flags requests matching known probe patterns. Suspicious
// requests are logged and counted but still served; the rate limiter is
// the enforcement layer.
func (s *Server) detect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			slog.WarnContext(r.Context(), "Suspicious request detected",
				"component", "http",
				"request_id", trace.GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", s.detector.ExtractClientIP(r))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) invalidateMonth(month string) {
	s.reportCache.Delete(month)
	s.snapshotCache.Delete(month)
}
