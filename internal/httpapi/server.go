// Package httpapi serves mounted chat widgets to a browser front-end.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"chatbridge/internal/logging"
)

const defaultShutdownTimeout = 30 * time.Second

type Server struct {
	addr            string
	doc             *Document
	logger          *slog.Logger
	gatherer        prometheus.Gatherer
	shutdownTimeout time.Duration
	router          *mux.Router
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer sets the registry exposed on /metrics. Defaults to the
// prometheus default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

func NewServer(addr string, doc *Document, opts ...Option) (*Server, error) {
	if doc == nil {
		return nil, errors.New("httpapi: document must not be nil")
	}
	s := &Server{
		addr:            addr,
		doc:             doc,
		gatherer:        prometheus.DefaultGatherer,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully. In-flight
// turns see their request context cancelled and persist nothing.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown failed", "err", err)
			return err
		}
		s.logger.Info("http server stopped")
		return nil
	})
	return eg.Wait()
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/widgets/{container}", s.describe).Methods(http.MethodGet)
	r.HandleFunc("/widgets/{container}/threads", s.listThreads).Methods(http.MethodGet)
	r.HandleFunc("/widgets/{container}/threads", s.createThread).Methods(http.MethodPost)
	r.HandleFunc("/widgets/{container}/threads/{id}", s.loadThread).Methods(http.MethodGet)
	r.HandleFunc("/widgets/{container}/threads/{id}", s.updateThread).Methods(http.MethodPut)
	r.HandleFunc("/widgets/{container}/threads/{id}", s.deleteThread).Methods(http.MethodDelete)
	r.HandleFunc("/widgets/{container}/threads/{id}/select", s.selectThread).Methods(http.MethodPost)
	r.HandleFunc("/widgets/{container}/threads/{id}/messages", s.processMessage).Methods(http.MethodPost)
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
