package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/domain/types"
	"github.com/okian/pixreco/pkg/logger"
)

// Submission defaults.
const (
	defaultRetries = 50
	defaultBackoff = 20 * time.Millisecond
	defaultTimeout = 30 * time.Second
)

// Outcome is the result of posting one event.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
	Failed
)

// Poster submits events to the HTTP ingest, pacing them with a token bucket
// and retrying while the service answers with backpressure.
type Poster struct {
	client  *http.Client
	url     string
	limiter *rate.Limiter
	workers int
	retries int
	backoff time.Duration

	retried atomic.Int64
	logger  logger.Logger
}

// PosterOption configures a Poster.
type PosterOption func(*Poster)

// WithRate limits submissions per second. A non-positive rate is unlimited.
func WithRate(perSecond float64) PosterOption {
	return func(p *Poster) {
		if perSecond > 0 {
			burst := max(1, int(perSecond/10))
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithWorkers sets the number of concurrent submitters.
func WithWorkers(n int) PosterOption {
	return func(p *Poster) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) PosterOption {
	return func(p *Poster) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithBackoff sets the wait between backpressure retries and their maximum
// number.
func WithBackoff(wait time.Duration, retries int) PosterOption {
	return func(p *Poster) {
		if wait > 0 {
			p.backoff = wait
		}
		if retries >= 0 {
			p.retries = retries
		}
	}
}

// NewPoster returns a poster for the service at baseURL.
func NewPoster(baseURL string, opts ...PosterOption) *Poster {
	p := &Poster{
		client:  &http.Client{Timeout: defaultTimeout},
		url:     baseURL + "/events",
		limiter: rate.NewLimiter(rate.Inf, 1),
		workers: 1,
		retries: defaultRetries,
		backoff: defaultBackoff,
		logger:  logger.Get().Named("synth"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Retries returns the number of backpressure retries so far.
func (p *Poster) Retries() int { return int(p.retried.Load()) }

// Submit posts every event received on events until the channel closes or
// ctx ends, and fills the submission counters of stats.
func (p *Poster) Submit(ctx context.Context, events <-chan *model.Event, stats *Stats) {
	var (
		submitted, accepted, duplicate, failed atomic.Int64
		wg                                     sync.WaitGroup
	)
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				if ctx.Err() != nil {
					return
				}
				submitted.Add(1)
				out, err := p.Post(ctx, ev)
				switch out {
				case Accepted:
					accepted.Add(1)
				case Duplicate:
					duplicate.Add(1)
				default:
					failed.Add(1)
					p.logger.Warn(ctx, "event submission failed", logger.String("event", ev.ID), logger.Error(err))
				}
			}
		}()
	}
	wg.Wait()

	stats.EventsSubmitted = int(submitted.Load())
	stats.EventsAccepted = int(accepted.Load())
	stats.EventsDuplicate = int(duplicate.Load())
	stats.EventsFailed = int(failed.Load())
	stats.Retries = p.Retries()
}

// Post submits one event, waiting for the rate limiter and retrying on 429.
func (p *Poster) Post(ctx context.Context, ev *model.Event) (Outcome, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Failed, fmt.Errorf("marshal event: %w", err)
	}
	for attempt := 0; ; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return Failed, err
		}
		status, ack, err := p.post(ctx, body)
		if err != nil {
			return Failed, err
		}
		switch status {
		case http.StatusAccepted:
			return Accepted, nil
		case http.StatusOK:
			if ack.Duplicate {
				return Duplicate, nil
			}
			return Accepted, nil
		case http.StatusTooManyRequests:
			if attempt >= p.retries {
				return Failed, fmt.Errorf("backpressure after %d retries", attempt)
			}
			p.retried.Add(1)
			select {
			case <-ctx.Done():
				return Failed, ctx.Err()
			case <-time.After(p.backoff):
			}
		default:
			return Failed, fmt.Errorf("unexpected status %d", status)
		}
	}
}

func (p *Poster) post(ctx context.Context, body []byte) (int, types.Ack, error) {
	var ack types.Ack
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return 0, ack, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, ack, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, ack, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		_ = json.Unmarshal(data, &ack)
	}
	return resp.StatusCode, ack, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	var h types.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err == nil && h.Status == "finalized" {
		return fmt.Errorf("service run is already finalized")
	}
	return nil
}
