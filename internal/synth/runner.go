package synth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/pixreco/internal/adapters/source"
	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/pkg/logger"
)

const (
	directoryPermission = 0o750
	percentage          = 100
)

// Run generates cfg.NumEvents events for the detectors of reg. With an output
// file they are written as JSON lines, otherwise they are posted to the
// service at cfg.BaseURL.
func Run(ctx context.Context, cfg *Config, reg *geometry.Registry) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("synth")

	gen, err := NewGenerator(reg,
		WithSeed(cfg.Seed),
		WithConversionProbability(cfg.ConversionProb),
		WithSiCaptureProbability(cfg.SiCaptureProb),
		WithNoise(cfg.NoiseHits),
		WithCharge(cfg.Charge),
	)
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "starting event generation",
		logger.Int("events", cfg.NumEvents),
		logger.Int("detectors", len(reg.Detectors())),
		logger.String("output", cfg.OutputFile),
		logger.String("baseURL", cfg.BaseURL),
		logger.Float64("rate", cfg.Rate),
	)

	if cfg.OutputFile != "" {
		n, err := WriteFile(ctx, cfg.OutputFile, gen, cfg.NumEvents)
		stats.EventsGenerated = n
		if err != nil {
			return stats, fmt.Errorf("write events: %w", err)
		}
	} else {
		if err := checkServiceHealth(ctx, &http.Client{Timeout: cfg.Timeout}, cfg.BaseURL); err != nil {
			return stats, fmt.Errorf("service health check failed: %w", err)
		}
		poster := NewPoster(cfg.BaseURL,
			WithWorkers(cfg.Workers),
			WithRate(cfg.Rate),
			WithTimeout(cfg.Timeout),
		)
		events := make(chan *model.Event, max(1, cfg.Workers)*2)
		generated := 0
		go func() {
			defer close(events)
			for range cfg.NumEvents {
				select {
				case <-ctx.Done():
					return
				case events <- gen.Next():
					generated++
				}
			}
		}()
		poster.Submit(ctx, events, stats)
		stats.EventsGenerated = generated
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, ctx.Err()
}

// WriteFile writes n generated events to path as JSON lines.
func WriteFile(ctx context.Context, path string, gen *Generator, n int) (int, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return 0, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := source.NewWriter(f)
	written := 0
	for range n {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := w.Write(gen.Next()); err != nil {
			return written, err
		}
		written++
	}
	if err := w.Flush(); err != nil {
		return written, err
	}
	logger.Get().Named("synth").Info(ctx, "events saved to file",
		logger.String("filename", path), logger.Int("events", written))
	return written, f.Close()
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, eventsPerSecond float64
	if stats.EventsSubmitted > 0 {
		successRate = float64(stats.EventsAccepted) / float64(stats.EventsSubmitted) * percentage
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsGenerated) / stats.Duration.Seconds()
	}

	logger.Get().Named("synth").Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsAccepted", stats.EventsAccepted),
		logger.Int("eventsDuplicate", stats.EventsDuplicate),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("retries", stats.Retries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
