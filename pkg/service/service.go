// Package service hosts the JSON-RPC server: it owns the worker pool, the
// optional metadata store and the HTTP listener, and ties their release to a
// shared exit registry.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fortiblox/block-meta-rpc/internal/metrics"
	"github.com/fortiblox/block-meta-rpc/internal/workerpool"
	"github.com/fortiblox/block-meta-rpc/pkg/exit"
	"github.com/fortiblox/block-meta-rpc/pkg/metastore"
	"github.com/fortiblox/block-meta-rpc/pkg/rpc"
)

// MetricsPath serves Prometheus metrics next to the JSON-RPC endpoint.
const MetricsPath = "/metrics"

const readTimeout = 30 * time.Second

var openStore = metastore.Open

// Service is a running JSON-RPC service.
type Service struct {
	addr       net.Addr
	httpServer *http.Server
	metrics    *metrics.Metrics
	logger     *zap.Logger

	closeOnce    sync.Once
	shutdownDone chan struct{}
	done         chan struct{}
}

// ready is the one-shot message from the listener goroutine.
type ready struct {
	server *http.Server
	addr   net.Addr
	err    error
}

// New starts the service and blocks until its listener accepts connections
// or has failed to. A store that cannot be opened is logged and the service
// runs without storage. The listener is closed when ex fires.
func New(ctx context.Context, addr string, config rpc.Config, ex *exit.Exit, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := workerpool.New(workerpool.Config{
		Name:        "rpc",
		Workers:     config.Threads,
		NicenessAdj: config.NicenessAdj,
		Logger:      logger.Named("workerpool"),
	})
	if err != nil {
		return nil, fmt.Errorf("start rpc workers: %w", err)
	}

	m := metrics.New()
	m.RegisterPool(pool)

	var store metastore.Store
	if config.Storage != nil {
		opened, err := openStore(ctx, *config.Storage, logger.Named("metastore"))
		if err != nil {
			logger.Error("failed to open metadata store, continuing without storage",
				zap.Stringer("storage", config.Storage),
				zap.Error(err))
		} else {
			logger.Info("metadata store opened", zap.Stringer("storage", config.Storage))
			store = metrics.InstrumentStore(opened, m)
		}
	}
	m.SetStoreAvailable(store != nil)

	processor := rpc.NewProcessor(config, store, logger.Named("rpc"))

	s := &Service{
		metrics:      m,
		logger:       logger,
		shutdownDone: make(chan struct{}),
		done:         make(chan struct{}),
	}

	readyCh := make(chan ready, 1)
	go s.serve(addr, processor, pool, store, readyCh)

	r := <-readyCh
	if r.err != nil {
		<-s.done
		return nil, fmt.Errorf("start rpc service on %s: %w", addr, r.err)
	}
	s.httpServer = r.server
	s.addr = r.addr

	logger.Info("rpc service started",
		zap.Stringer("addr", s.addr),
		zap.Int("threads", pool.Stats().Workers),
		zap.Bool("full_api", config.FullAPI),
		zap.Bool("storage", store != nil))

	ex.Register(s.Close)
	return s, nil
}

// serve runs the listener on its own OS thread. It reports readiness once,
// then serves until shutdown and releases the pool and store.
func (s *Service) serve(addr string, processor *rpc.Processor, pool *workerpool.Pool, store metastore.Store, readyCh chan<- ready) {
	defer close(s.done)
	defer func() {
		pool.Stop()
		if store != nil {
			if err := store.Close(); err != nil {
				s.logger.Warn("close metadata store", zap.Error(err))
			}
		}
	}()

	// The thread exits with this goroutine, so its priority never leaks.
	runtime.LockOSThread()
	if err := workerpool.Renice(processor.Config().NicenessAdj); err != nil {
		readyCh <- ready{err: err}
		return
	}

	server := rpc.NewServer(processor, rpc.ServerOptions{
		Executor: pool,
		Recorder: s.metrics,
		Logger:   s.logger.Named("rpc"),
	})
	handler := rpc.Handler(server, rpc.HandlerOptions{
		CustomPaths: map[string]http.Handler{MetricsPath: s.metrics.Handler()},
		Logger:      s.logger.Named("http"),
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		readyCh <- ready{err: err}
		return
	}

	httpServer := &http.Server{
		Handler:     handler,
		ReadTimeout: readTimeout,
		ErrorLog:    zap.NewStdLog(s.logger.Named("http")),
	}
	readyCh <- ready{server: httpServer, addr: ln.Addr()}

	if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("rpc listener stopped", zap.Error(err))
		return
	}
	// Serve returns as soon as the listener closes; in-flight requests are
	// awaited by Shutdown.
	<-s.shutdownDone
}

// Addr returns the address the listener is bound to.
func (s *Service) Addr() net.Addr {
	return s.addr
}

// Metrics returns the service collectors.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Close stops accepting connections and waits for in-flight requests. It is
// safe to call more than once.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.logger.Info("closing rpc service", zap.Stringer("addr", s.addr))
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Warn("rpc listener shutdown", zap.Error(err))
		}
		close(s.shutdownDone)
	})
}

// Join blocks until the listener goroutine has released every resource.
func (s *Service) Join() {
	<-s.done
}
