package synth

import "time"

// Config holds configuration for a generation run.
type Config struct {
	BaseURL    string        // Base URL of the reconstruction service
	NumEvents  int           // Number of events to generate
	Workers    int           // Number of concurrent submitters
	Rate       float64       // Submissions per second, 0 for unlimited
	Timeout    time.Duration // HTTP request timeout
	OutputFile string        // JSON-lines file; when set nothing is posted
	LogFile    string        // Log file for run output
	Verbose    bool          // Enable verbose logging

	Seed           uint64  // Random seed
	ConversionProb float64 // Probability of a conversion per detector and event
	SiCaptureProb  float64 // Probability of a capture on silicon per event
	NoiseHits      int     // Noise pixels per detector and event
	Charge         float64 // Mean conversion cluster charge
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated int
	EventsSubmitted int
	EventsAccepted  int
	EventsDuplicate int
	EventsFailed    int
	Retries         int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
