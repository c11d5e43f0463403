package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"golang.org/x/sync/errgroup"

	"github.com/Heidric/shmbridge/internal/logger"
	"github.com/Heidric/shmbridge/internal/model"
	"github.com/Heidric/shmbridge/internal/server/middleware"
)

// Metrics is the read side the inspection API serves from.
type Metrics interface {
	ListMetrics() []model.Metric
	GetMetric(oid, mode string) (*model.Metric, error)
	Ping(ctx context.Context) error
}

type Server struct {
	Srv     *http.Server
	metrics Metrics
}

// NewServer wires the routes. A non-empty key turns on HMAC signing of
// responses and verification of signed requests.
func NewServer(addr, key string, metrics Metrics) *Server {
	r := chi.NewRouter()
	s := &Server{
		Srv:     &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
		metrics: metrics,
	}

	r.Use(logger.Middleware)
	r.Use(middleware.HashMiddleware(key))

	r.Route("/", func(r chi.Router) {
		r.Get("/", s.listMetricsHandler)
		r.Get("/ping", s.pingHandler)
		r.Get("/value/{oid}", s.getMetricHandler)
		r.Post("/value/", s.getMetricJSONHandler)
		r.HandleFunc("/update/*", s.readOnlyHandler)
		r.HandleFunc("/update", s.readOnlyHandler)
	})

	r.NotFound(s.notFoundHandler)

	return s
}

func (s *Server) Run(ctx context.Context, runner *errgroup.Group) {
	logger.Log.Info().Str("address", s.Srv.Addr).Msg("Http server started.")

	runner.Go(func() error {
		if err := s.Srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Http server stopped.")

	nctx, stop := context.WithTimeout(ctx, time.Second*10)
	defer stop()

	return s.Srv.Shutdown(nctx)
}

func (s *Server) GetRouter() *chi.Mux {
	return s.Srv.Handler.(*chi.Mux)
}
