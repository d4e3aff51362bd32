// Package api exposes the taxonomy engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/engine"
)

// Options configures the HTTP surface.
type Options struct {
	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string
	// EditRate is the per-actor sustained edit rate, in edits per second.
	// Zero disables edit rate limiting.
	EditRate  float64
	EditBurst int
	// RequestTimeout bounds each request. Zero means 30 seconds.
	RequestTimeout time.Duration
}

// Server routes HTTP requests to the engine.
type Server struct {
	svc     *engine.Service
	limiter *ActorLimiter
	opts    Options
	router  chi.Router
}

// NewServer creates a Server over svc.
func NewServer(svc *engine.Service, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{svc: svc, opts: opts}
	if opts.EditRate > 0 {
		s.limiter = NewActorLimiter(opts.EditRate, opts.EditBurst)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Actor", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(s.opts.RequestTimeout))

		api.Get("/fields", s.handleFields)

		api.Get("/taxonomy", s.handleGetTaxonomy)
		api.Post("/taxonomy", s.handleAddTerm)
		api.Get("/classify", s.handleClassify)
		api.Get("/usage", s.handleUsage)

		api.Get("/projects", s.handleListProjects)
		api.Post("/projects", s.handleUpsertProject)
		api.Post("/investigators", s.handleUpsertInvestigator)
		api.Route("/projects/{grant}", func(p chi.Router) {
			p.Post("/investigators", s.handleLinkInvestigator)
			p.Put("/fields/{field}", s.handleSubmitField)
			p.Get("/fields/{field}", s.handleLatestField)
			p.Get("/fields/{field}/history", s.handleFieldHistory)
		})

		api.Get("/provenance", s.handleProvenance)

		api.Get("/graph", s.handleGraph)
		api.Get("/graph/shared/{grant}", s.handleShared)
		api.Get("/graph/neighbors", s.handleNeighbors)

		api.Post("/maintenance/sweep", s.handleSweep)
		api.Post("/maintenance/reconcile", s.handleReconcile)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		zap.L().Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
