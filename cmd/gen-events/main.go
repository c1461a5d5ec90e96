package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/pixreco/internal/config"
	"github.com/okian/pixreco/internal/synth"
)

const (
	defaultNumEvents  = 10000
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 30 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of events to generate")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		rate       = flag.Float64("rate", 0, "Submissions per second, 0 for unlimited")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "Write events to this JSON-lines file instead of posting them")
		seed       = flag.Uint64("seed", 1, "Random seed")
		conversion = flag.Float64("conversion", 0.3, "Conversion probability per detector and event")
		siCapture  = flag.Float64("si-capture", 0.01, "Silicon capture probability per event")
		noise      = flag.Int("noise", 2, "Noise pixels per detector and event")
		charge     = flag.Float64("charge", 2000, "Mean conversion cluster charge")
		logFile    = flag.String("log", "", "Also write log output to this file")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		synth.ShowHelp()
		return
	}

	if err := synth.SetupLogging(*logFile, *verbose); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	// The geometry comes from the same configuration the service reads.
	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	reg, err := cfg.Registry()
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to build geometry: " + err.Error() + "\n")
		os.Exit(1)
	}

	runCfg := &synth.Config{
		BaseURL:        *baseURL,
		NumEvents:      *numEvents,
		Workers:        *workers,
		Rate:           *rate,
		Timeout:        *timeout,
		OutputFile:     *outputFile,
		LogFile:        *logFile,
		Verbose:        *verbose,
		Seed:           *seed,
		ConversionProb: *conversion,
		SiCaptureProb:  *siCapture,
		NoiseHits:      *noise,
		Charge:         *charge,
	}

	if _, err := synth.Run(ctx, runCfg, reg); err != nil {
		_, _ = os.Stderr.WriteString("Generation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
