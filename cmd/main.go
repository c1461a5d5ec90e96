package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/pixreco/internal/adapters/http/api"
	"github.com/okian/pixreco/internal/adapters/http/swagger"
	service "github.com/okian/pixreco/internal/app"
	"github.com/okian/pixreco/internal/config"
	"github.com/okian/pixreco/pkg/logger"
	"github.com/okian/pixreco/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	finalizeTimeout           = 5 * time.Minute
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	os.Exit(run())
}

func run() int {
	// The service registers its own system gauges.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat}); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := service.New(cfg, service.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		_, _ = os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return 1
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := newHTTPServer(ctx, cfg.Addr, svc)
	if srv != nil {
		go func() {
			log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "HTTP server failed", logger.Error(err))
				stop()
			}
		}()
	}

	code := 0
	if cfg.InputPath != "" {
		n, err := svc.Replay(ctx, cfg.InputPath)
		if err != nil {
			log.Error(ctx, "replay failed", logger.String("input", cfg.InputPath), logger.Error(err))
			code = 1
		} else {
			log.Info(ctx, "replay complete", logger.String("input", cfg.InputPath), logger.Int("events", n))
		}
	}

	// A replay-only run finalizes as soon as the input is consumed; with an
	// HTTP ingest the run lasts until a shutdown signal.
	if srv != nil || cfg.InputPath == "" {
		<-ctx.Done()
		log.Info(ctx, "shutting down...")
	}

	finalizeCtx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(finalizeCtx, shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
		cancelShutdown()
	}

	if _, err := svc.Finalize(finalizeCtx); err != nil {
		log.Error(finalizeCtx, "finalize failed", logger.Error(err))
		return 1
	}
	log.Info(finalizeCtx, "run finished")
	return code
}

// newHTTPServer wires the API and docs routes. An empty addr disables the
// HTTP surface.
func newHTTPServer(ctx context.Context, addr string, svc *service.Service) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startSystemMetricsUpdater updates system metrics until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the queue and worker gauges until ctx
// ends.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges from the service statistics.
// GetStats already updates the queue and worker gauges.
func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()
	if active, ok := stats["activeWorkers"].(int); ok {
		metrics.UpdateWorkerActiveCount(active)
	}
}
