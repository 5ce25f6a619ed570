package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/allaspectsdev/mlxd/internal/config"
	"github.com/allaspectsdev/mlxd/internal/generate"
	"github.com/allaspectsdev/mlxd/internal/tracing"
)

// Server is mlxd's OpenAI-compatible HTTP surface: a chi router bound
// to an address, with graceful shutdown.
type Server struct {
	router  chi.Router
	addr    string
	httpSrv *http.Server
}

// Options configures Server construction.
type Options struct {
	Coordinator    *generate.Coordinator
	ModelID        string
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TracingEnabled bool
	AllowedOrigins []string

	// AuthToken, if non-empty, requires every request (except /health)
	// to carry "Authorization: Bearer <AuthToken>".
	AuthToken string

	// RateLimit, if RateEnabled, bounds requests per client per the
	// token-bucket in ratelimit.go.
	RateEnabled bool
	RateDefault float64
	RateBurst   int
}

// NewServer builds a Server wired to opts.Coordinator and ready to
// Start.
func NewServer(opts Options) *Server {
	h := &handler{coord: opts.Coordinator, modelID: opts.ModelID}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	if opts.TracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	if opts.AuthToken != "" {
		r.Use(bearerAuthMiddleware(opts.AuthToken))
	}

	var rl *rateLimiter
	if opts.RateEnabled {
		rl = newRateLimiter(opts.RateDefault, opts.RateBurst)
	}

	mount := func(route func(r chi.Router)) {
		if rl != nil {
			r.Group(func(gr chi.Router) {
				gr.Use(rl.middleware)
				route(gr)
			})
			return
		}
		route(r)
	}

	mount(func(r chi.Router) {
		r.Post("/v1/chat/completions", h.handleChatCompletions)
		r.Post("/v1/completions", h.handleCompletions)
	})
	r.Get("/v1/models", h.handleModels)
	r.Get("/v1/models/{id}", h.handleModel)
	r.Get("/health", h.handleHealth)

	srv := &Server{router: r, addr: opts.Addr}
	srv.httpSrv = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return srv
}

// Router returns the underlying chi.Router, for tests. internal/daemon
// does not use it: it runs this Server and metrics.StatusServer on
// separate listeners.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening for HTTP connections. It blocks until Shutdown
// is called or a fatal error occurs.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi server: %w", err)
	}
	return nil
}

// StartTLS begins listening for HTTPS connections.
func (s *Server) StartTLS(certFile, keyFile string) error {
	if err := s.httpSrv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi server (TLS): %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// bearerAuthMiddleware rejects requests lacking "Authorization: Bearer
// <token>" matching the configured value. /health is exempt so
// orchestrators and load balancers can probe liveness without a
// credential.
func bearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	want := "Bearer " + token
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			if got := r.Header.Get("Authorization"); got != want {
				writeError(w, http.StatusUnauthorized, "invalid_request_error", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handler groups the route handlers so they can share the coordinator
// and model ID without a package-level global.
type handler struct {
	coord   *generate.Coordinator
	modelID string
}

// ServerConfigFromApp builds Options from a loaded config.Config,
// keeping the translation from TOML/env fields to Options in one
// place instead of scattering it through cmd/mlxd and internal/daemon.
func ServerConfigFromApp(cfg *config.Config, coord *generate.Coordinator, authToken string) Options {
	return Options{
		Coordinator:    coord,
		ModelID:        cfg.Model.ID,
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeout) * time.Second,
		TracingEnabled: cfg.Tracing.Enabled,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AuthToken:      authToken,
		RateEnabled:    cfg.RateLimit.Enabled,
		RateDefault:    cfg.RateLimit.DefaultRate,
		RateBurst:      cfg.RateLimit.DefaultBurst,
	}
}
