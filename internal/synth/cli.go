package synth

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/pixreco/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging configures logging to the console and, when logFile is set,
// to that file as well.
func SetupLogging(logFile string, verbose bool) error {
	var w io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.InitWithOptions(logger.Options{Writer: w}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		if err := logger.SetLevelString("debug"); err != nil {
			return err
		}
	}
	if logFile != "" {
		logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	}
	return nil
}

// ShowHelp prints usage information for the event generator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`pixreco event generator
=======================

Generates thermal-neutron events for the configured detectors and either
posts them to a running reconstruction service or writes them to a
JSON-lines file for replay.

Usage:
  go run ./cmd/gen-events [options]

The detector geometry is read from the service configuration
(PIXRECO_CONFIG and PIXRECO_* environment variables).

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -events int
        Number of events to generate (default 10000)
  -workers int
        Number of concurrent submitters (default CPU cores * 2)
  -rate float
        Submissions per second, 0 for unlimited
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Write events to this JSON-lines file instead of posting them
  -seed uint
        Random seed (default 1)
  -conversion float
        Conversion probability per detector and event (default 0.3)
  -noise int
        Noise pixels per detector and event (default 2)
  -log string
        Also write log output to this file
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Post 50000 events at 2000 per second
  go run ./cmd/gen-events -events 50000 -rate 2000

  # Write a replayable input file
  go run ./cmd/gen-events -events 1000 -output testdata/events.jsonl
`)
}
