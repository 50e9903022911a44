// Package webservice provides the HTTP server exposing the reading ingestion and query API,
// alongside a dedicated metrics listener.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/lightcar-iot/lightcar/internal/metrics"
	"github.com/lightcar-iot/lightcar/internal/webservice/handlers"
	"github.com/prometheus/client_golang/prometheus"
)

// Server is a struct that holds the HTTP servers and their configuration.
type Server struct {
	httpServer    *http.Server
	metricsServer *metrics.Server
	cm            dConfigManager

	mu          sync.RWMutex
	primaryAddr net.Addr

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits until the next blocking Recv to interrupt.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc
}

// StaticConfig holds the static configuration for the server.
type StaticConfig struct {
	AllowListPath string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
	MaxUploadBytes int

	ListenHost string
	ListenPort int

	MetricsHost string
	MetricsPort int

	CORSOrigins []string
}

// Registry both registers and gathers collectors.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

type dConfigManager interface {
	Load() error
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
}

// New creates a new Server serving svc.
// cm may be nil when no device allow list is configured. Otherwise, it is loaded once here and
// watched for changes while the server runs.
func New(ctx context.Context, cm dConfigManager, svc handlers.Service, sc StaticConfig, reg Registry) (*Server, error) {
	if cm != nil {
		if err := cm.Load(); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	s := Server{
		cm:     cm,
		ctx:    ctx,
		cancel: cancel,

		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,
	}

	em := metrics.NewEndpointMiddleware(reg)
	rh := handlers.NewReadings(svc, int64(sc.MaxUploadBytes))

	mux := http.NewServeMux()
	mux.Handle("POST /api/sensor-data", em.Wrap("create", http.HandlerFunc(rh.Create)))
	mux.Handle("GET /api/sensor-data", em.Wrap("list", http.HandlerFunc(rh.List)))
	mux.Handle("GET /api/sensor-data/device/{device_id}/latest", em.Wrap("latest", http.HandlerFunc(rh.Latest)))
	mux.Handle("GET /api/sensor-data/{id}", em.Wrap("get", http.HandlerFunc(rh.Get)))
	mux.Handle("GET /health", em.Wrap("health", http.HandlerFunc(handlers.HealthHandler)))
	mux.Handle("GET /version", em.Wrap("version", http.HandlerFunc(handlers.VersionHandler)))

	handler := metrics.NewMuxMiddleware(reg).Wrap("api", mux)

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(sc.ListenHost, strconv.Itoa(sc.ListenPort)),
		ReadTimeout:    sc.ReadTimeout,
		WriteTimeout:   sc.WriteTimeout,
		Handler:        handlers.CORS(sc.CORSOrigins, handlers.Timeout(sc.RequestTimeout, handler)),
		MaxHeaderBytes: sc.MaxHeaderBytes,
	}

	s.metricsServer = metrics.NewServer(metrics.Config{
		Host:         sc.MetricsHost,
		Port:         sc.MetricsPort,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
	}, reg)

	return &s, nil
}

// Run starts the HTTP servers and blocks until they stop.
// A server can only be run once.
func (s *Server) Run() error {
	// already asked to quit?
	select {
	case <-s.gracefulCtx.Done():
		return errors.New("server is already shutting down")
	default:
	}

	var watchErr <-chan error
	if s.cm != nil {
		changes, errs, err := s.cm.Watch(s.gracefulCtx)
		if err != nil {
			s.cancel()
			return fmt.Errorf("failed to start watching configuration: %v", err)
		}
		watchErr = errs
		go func() {
			for range changes {
				slog.Info("Device allow list reloaded")
			}
		}()
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen on %s: %v", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.primaryAddr = listener.Addr()
	s.mu.Unlock()
	slog.Info("Starting server", "addr", listener.Addr().String())

	serverErr := make(chan error, 2)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("metrics server: %v", err)
		}
	}()

	select {
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated")
		// use parent ctx so if you call s.cancel() elsewhere it unblocks Shutdown immediately
		err := errors.Join(s.httpServer.Shutdown(s.ctx), s.metricsServer.Shutdown(s.ctx))
		s.cancel()
		if err != nil {
			slog.Error("Graceful shutdown failed", "err", err)
			return err
		}
		slog.Info("Server shut down gracefully")
		return nil

	case err := <-serverErr:
		slog.Error("Server encountered error", "err", err)
		s.closeAll()
		return err

	case err := <-watchErr:
		if err != nil {
			slog.Error("Config watcher encountered unrecoverable error", "err", err)
		}
		return errors.Join(err, s.closeAll())
	}
}

// Quit shuts down the HTTP servers, gracefully unless force is set.
func (s *Server) Quit(force bool) {
	if force {
		_ = s.closeAll()
	} else {
		s.gracefulCancel()
	}
	slog.Info("Server quit")
}

// Addr returns the address the API listens on, or an empty string before Run.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.primaryAddr == nil {
		return ""
	}
	return s.primaryAddr.String()
}

// MetricsAddr returns the address the metrics endpoint listens on, or an empty string before Run.
func (s *Server) MetricsAddr() string {
	return s.metricsServer.Addr()
}

func (s *Server) closeAll() error {
	defer s.cancel()
	return errors.Join(s.httpServer.Close(), s.metricsServer.Close())
}
