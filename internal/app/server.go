package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/markdave123-py/citedoc/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/citedoc/internal/api/middlewares"
	"github.com/markdave123-py/citedoc/internal/config"
	"github.com/markdave123-py/citedoc/internal/metrics"
	"github.com/markdave123-py/citedoc/internal/services"
)

const version = "1.0.0"

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	log zerolog.Logger,
	reg prometheus.Gatherer,
	m *metrics.Metrics,
	docs handlers.DocumentAPI,
	answers handlers.Answerer,
	stats *services.StatsService,
) *Server {
	r := newRouter(cfg, log, reg, m, docs, answers, stats)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv, log: log}
}

func newRouter(
	cfg *config.Config,
	log zerolog.Logger,
	reg prometheus.Gatherer,
	m *metrics.Metrics,
	docs handlers.DocumentAPI,
	answers handlers.Answerer,
	stats *services.StatsService,
) chi.Router {
	docHandler := handlers.NewDocumentHandler(docs, cfg.MaxUploadMB)
	chatHandler := handlers.NewChatHandler(answers, stats.RecordQuery)
	healthHandler := handlers.NewHealthHandler(stats, "citedoc", version)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, took time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("took", took).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(appMiddleware.Metrics(m))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
	}))

	r.Get("/", healthHandler.Info)
	r.Get("/health", healthHandler.Health)
	r.Get("/stats", healthHandler.Stats)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.Auth(cfg.JWTSecret, cfg.APIKeyHashes))

		api.Post("/documents/upload", docHandler.UploadDocument)
		api.Get("/documents", docHandler.GetDocuments)
		api.Get("/documents/{id}", docHandler.GetDocument)
		api.Delete("/documents/{id}", docHandler.DeleteDocument)
		api.Post("/documents/{id}/reindex", docHandler.ReindexDocument)
		api.Post("/index/rebuild", docHandler.RebuildIndex)
		api.Post("/chat/query", chatHandler.QueryDocuments)
	})

	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }
