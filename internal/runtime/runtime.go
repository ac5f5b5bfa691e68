package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxkit/voxd/internal/asr"
	"github.com/voxkit/voxd/internal/bus"
	"github.com/voxkit/voxd/internal/cache"
	"github.com/voxkit/voxd/internal/config"
	"github.com/voxkit/voxd/internal/dispatch"
	"github.com/voxkit/voxd/internal/history"
	"github.com/voxkit/voxd/internal/natsserver"
	"github.com/voxkit/voxd/internal/stream"
)

// Runtime owns the lifecycle of every voxd component: telemetry, bus,
// cache, history, dispatcher, and streaming assembler.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	metricsSrv *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, blocks until ctx is cancelled, then
// shuts down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	// Components outlive ctx cancellation long enough to drain; they get
	// their own lifetime context so final flushes are not cut short.
	compCtx, compCancel := context.WithCancel(context.Background())
	defer compCancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	var (
		embedded  *natsserver.EmbeddedServer
		busClient *bus.Client
	)
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		busClient, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
	}

	store, err := history.Open(compCtx, r.cfg.History, r.logger)
	if err != nil {
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to open history store: %w", err)
	}

	backends, err := asr.FromConfig(r.cfg.Backends)
	if err != nil {
		store.Close()
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to build backends: %w", err)
	}

	results := &fanout{}
	results.add(history.NewRecorder(store, r.logger))
	if busClient != nil {
		results.add(bus.NewPublisher(busClient, r.logger))
	}

	cacheStore := cache.New(r.cfg.Cache, r.logger)
	dispatcher := dispatch.New(compCtx, r.cfg.Dispatcher, backends, cacheStore, results, r.logger)
	assembler := stream.New(compCtx, r.cfg.Stream, backends[r.cfg.Dispatcher.DefaultBackend], results, r.logger)
	assembler.Start()

	var ingest *bus.Ingest
	if busClient != nil {
		ingest = bus.NewIngest(busClient, dispatcher, assembler, r.logger)
		if err := ingest.Start(); err != nil {
			r.logger.Error("failed to start bus ingest", slog.String("error", err.Error()))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}

	if ingest != nil {
		ingest.Close()
	}
	if err := assembler.Stop(); err != nil {
		r.logger.Warn("assembler final flush failed", slog.String("error", err.Error()))
	}
	dispatcher.Close()
	busClient.Close()
	embedded.Shutdown()
	if err := store.Close(); err != nil {
		r.logger.Warn("history close failed", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
