// Package source reads and writes simulated events as JSON lines.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/pixreco/internal/adapters/mq/queue"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/pkg/logger"
)

const retryDelay = 2 * time.Millisecond

// Reader decodes one event per JSON document.
type Reader struct {
	dec    *json.Decoder
	closer io.Closer
	read   uint64
}

// NewReader decodes events from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: json.NewDecoder(bufio.NewReader(r))}
}

// Open reads events from the file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// Next returns the next validated event, or io.EOF. Events without a number
// are numbered by position.
func (r *Reader) Next() (*model.Event, error) {
	var ev model.Event
	if err := r.dec.Decode(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode event %d: %w", r.read, err)
	}
	r.read++
	if ev.Number == 0 && ev.ID == "" {
		ev.Number = r.read
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Enqueuer accepts events for processing.
type Enqueuer interface {
	TryEnqueue(ctx context.Context, e *model.Event) error
}

// Replay feeds every event of r into q, waiting while the queue is full. An
// invalid event is logged and skipped; a decode error stops the replay.
func Replay(ctx context.Context, r *Reader, q Enqueuer) (int, error) {
	log := logger.Get().Named("source")
	n := 0
	for {
		ev, err := r.Next()
		switch {
		case errors.Is(err, io.EOF):
			log.Info(ctx, "replay finished", logger.Int("events", n))
			return n, nil
		case errors.Is(err, model.ErrInvalidEvent):
			log.Warn(ctx, "skipping invalid event", logger.Error(err))
			continue
		case err != nil:
			return n, err
		}
		for {
			err := q.TryEnqueue(ctx, ev)
			if err == nil {
				break
			}
			if !errors.Is(err, queue.ErrFull) {
				return n, fmt.Errorf("enqueue %s: %w", ev.ID, err)
			}
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
		n++
	}
}

// Writer encodes events as JSON lines.
type Writer struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewWriter writes events to w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends one event.
func (w *Writer) Write(ev *model.Event) error {
	return w.enc.Encode(ev)
}

// Flush writes buffered data.
func (w *Writer) Flush() error { return w.w.Flush() }
