// Package api exposes the ruleset and the mutation orchestrator over HTTP.
//
// Authentication is the caller's concern: ServerOptions.Require wraps every
// /api/ route, and the acting user is read from the brand.UserHeader header
// that middleware sets.
package api

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/language"

	"grimm.is/ruledesk/internal/audit"
	"grimm.is/ruledesk/internal/config"
	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/events"
	"grimm.is/ruledesk/internal/health"
	"grimm.is/ruledesk/internal/i18n"
	"grimm.is/ruledesk/internal/logging"
	"grimm.is/ruledesk/internal/metrics"
	"grimm.is/ruledesk/internal/mutation"
	"grimm.is/ruledesk/internal/ratelimit"
	"grimm.is/ruledesk/internal/ruleset"
)

// ServerConfig holds HTTP server limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Empty trusts no one.
	TrustedProxies []netip.Prefix
}

// DefaultServerConfig returns the default server limits.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      64 << 10,
	}
}

// ServerConfigFrom applies the api block of a validated config over the defaults.
func ServerConfigFrom(c *config.APIConfig) *ServerConfig {
	sc := DefaultServerConfig()
	if c == nil {
		return sc
	}
	if d := config.Duration(c.ReadTimeout); d > 0 {
		sc.ReadTimeout = d
	}
	if d := config.Duration(c.WriteTimeout); d > 0 {
		sc.WriteTimeout = d
	}
	if d := config.Duration(c.IdleTimeout); d > 0 {
		sc.IdleTimeout = d
	}
	if c.MaxBodyBytes > 0 {
		sc.MaxBodyBytes = c.MaxBodyBytes
	}
	// Validate already rejected malformed entries.
	sc.TrustedProxies, _ = config.ParsePrefixes(c.TrustedProxies)
	return sc
}

// AuditQuerier reads recorded mutation outcomes.
type AuditQuerier interface {
	Query(f audit.Filter) ([]audit.Event, error)
	Count() (int64, error)
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Orchestrator *mutation.Orchestrator
	Client       *ruleset.Client
	Baseline     ruleset.Baseline

	Audit    AuditQuerier       // Optional
	Hub      *events.Hub        // Optional: enables /api/ruleset/events
	Limiter  *ratelimit.Limiter // Optional: bounds submissions per operator
	Health   *health.Checker    // Optional: enables /readyz
	Metrics  *metrics.Registry
	Logger   *logging.Logger
	Config   *ServerConfig
	Language language.Tag

	// Require wraps every /api/ route. Nil serves them unwrapped.
	Require func(http.Handler) http.Handler
}

// Server handles API requests.
type Server struct {
	orchestrator *mutation.Orchestrator
	client       *ruleset.Client
	baseline     ruleset.Baseline
	audit        AuditQuerier
	hub          *events.Hub
	limiter      *ratelimit.Limiter
	health       *health.Checker
	metrics      *metrics.Registry
	logger       *logging.Logger
	cfg          *ServerConfig
	lang         language.Tag
	require      func(http.Handler) http.Handler

	mux *http.ServeMux
}

// NewServer creates a new API server with the provided options.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Orchestrator == nil || opts.Client == nil {
		return nil, errors.New(errors.KindInternal, "api server requires an orchestrator and a ruleset client")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("api")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	lang := opts.Language
	if lang == language.Und {
		lang = i18n.DefaultLang
	}
	base := opts.Baseline
	if len(base.Families) == 0 && len(base.Tables) == 0 && len(base.Chains) == 0 {
		base = ruleset.DefaultBaseline()
	}
	require := opts.Require
	if require == nil {
		require = func(h http.Handler) http.Handler { return h }
	}

	s := &Server{
		orchestrator: opts.Orchestrator,
		client:       opts.Client,
		baseline:     base,
		audit:        opts.Audit,
		hub:          opts.Hub,
		limiter:      opts.Limiter,
		health:       opts.Health,
		metrics:      opts.Metrics,
		logger:       logger,
		cfg:          cfg,
		lang:         lang,
		require:      require,
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.health != nil {
		mux.Handle("GET /readyz", s.health.Handler())
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/ruleset", s.require(http.HandlerFunc(s.handleGetRuleset)))
	mux.Handle("GET /api/ruleset/defaults", s.require(http.HandlerFunc(s.handleDefaults)))
	mux.Handle("POST /api/ruleset/rules", s.require(s.limitSubmissions(s.handleAddRule)))
	mux.Handle("PUT /api/ruleset/rules", s.require(s.limitSubmissions(s.handleEditRule)))
	mux.Handle("DELETE /api/ruleset/rules", s.require(s.limitSubmissions(s.handleDeleteRule)))
	mux.Handle("GET /api/ruleset/events", s.require(http.HandlerFunc(s.handleEventsWS)))
	mux.Handle("GET /api/audit", s.require(http.HandlerFunc(s.handleAuditQuery)))

	s.mux = mux
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	// Chain: AccessLog -> MaxBody -> i18n -> Mux
	return s.accessLogger(maxBodyMiddleware(s.cfg.MaxBodyBytes)(i18n.MiddlewareWithDefault(s.lang)(s.mux)))
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("API server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// maxBodyMiddleware limits the size of request bodies.
func maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes <= 0 || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			// Fast path on the declared length
			if r.ContentLength > maxBytes {
				http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
