package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/pixreco/internal/adapters/mq/queue"
	worker "github.com/okian/pixreco/internal/adapters/mq/worker"
	"github.com/okian/pixreco/internal/domain/analysis"
	model "github.com/okian/pixreco/internal/domain/model"
	logging "github.com/okian/pixreco/pkg/logger"
)

// mockProcessor records one cluster per event on detector "dut0" and fails
// the event numbers listed in failing.
type mockProcessor struct {
	mu      sync.Mutex
	seen    map[string]bool
	failing map[uint64]bool
}

func newMockProcessor(failing ...uint64) *mockProcessor {
	p := &mockProcessor{seen: make(map[string]bool), failing: make(map[uint64]bool)}
	for _, n := range failing {
		p.failing[n] = true
	}
	return p
}

func (p *mockProcessor) Process(_ context.Context, ev *model.Event, stats *analysis.Collection) error {
	p.mu.Lock()
	p.seen[ev.ID] = true
	fail := p.failing[ev.Number]
	p.mu.Unlock()

	if fail {
		stats.Skip()
		return errors.New("malformed event")
	}
	tally := analysis.NewTally()
	tally.Record(analysis.DetectorResult{Detector: "dut0", Shapes: []analysis.Shape{{Size: 1, SizeX: 1, SizeY: 1, Charge: 1}}})
	stats.Apply(tally)
	return nil
}

func (p *mockProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func fill(q *queue.InMemoryQueue, n int) {
	for i := range n {
		q.Enqueue(context.Background(), &model.Event{ID: fmt.Sprintf("event-%d", i), Number: uint64(i)})
	}
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool of three workers", t, func() {
		_ = logging.Init()
		settings := analysis.DefaultSettings()
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		proc := newMockProcessor(5)
		pool := worker.NewPool(3, q, proc, &settings)
		convey.So(pool.Size(), convey.ShouldEqual, 3)

		convey.Convey("When thirty events are processed and the pool shuts down", func() {
			fill(q, 30)
			pool.Start(context.Background())
			err := pool.Shutdown(context.Background())

			convey.Convey("Then the queue is drained", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(proc.count(), convey.ShouldEqual, 30)
				convey.So(pool.Processed(), convey.ShouldEqual, 29)
				convey.So(pool.Failed(), convey.ShouldEqual, 1)
				convey.So(pool.Err(), convey.ShouldBeNil)
			})

			convey.Convey("Then the worker collections merge into the run totals", func() {
				agg := analysis.NewAggregator(&settings)
				for _, c := range pool.Collections() {
					convey.So(agg.Add(c), convey.ShouldBeNil)
				}
				total := agg.Total()
				convey.So(total.Events(), convey.ShouldEqual, 29)
				convey.So(total.Skipped(), convey.ShouldEqual, 1)
				book, err := total.Book("dut0")
				convey.So(err, convey.ShouldBeNil)
				convey.So(book.Clusters, convey.ShouldEqual, 29)
			})
		})

		convey.Convey("When the pool is stopped without events", func() {
			pool.Start(context.Background())
			time.Sleep(10 * time.Millisecond)
			pool.Stop()

			convey.Convey("Then nothing was processed", func() {
				convey.So(pool.Processed(), convey.ShouldEqual, 0)
				convey.So(q.IsClosed(), convey.ShouldBeFalse)
			})
		})
	})
}

func TestWorkerPoolAbortOnError(t *testing.T) {
	convey.Convey("Given a pool that aborts on the first failure", t, func() {
		_ = logging.Init()
		settings := analysis.DefaultSettings()
		q := queue.NewInMemoryQueue(queue.WithCapacity(128))
		fill(q, 100)
		pool := worker.NewPool(1, q, newMockProcessor(0), &settings, worker.WithAbortOnError(true))

		convey.Convey("When the first event fails", func() {
			pool.Start(context.Background())
			_ = pool.Shutdown(context.Background())

			convey.Convey("Then the run is aborted before the queue drains", func() {
				convey.So(errors.Is(pool.Err(), worker.ErrAborted), convey.ShouldBeTrue)
				convey.So(pool.Err().Error(), convey.ShouldContainSubstring, "event-0")
				convey.So(pool.Failed(), convey.ShouldEqual, 1)
				convey.So(pool.Processed(), convey.ShouldBeLessThan, 99)
			})
		})
	})
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a single worker", t, func() {
		_ = logging.Init()
		settings := analysis.DefaultSettings()
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		var failures []string
		w := worker.NewInMemoryWorker(q, newMockProcessor(1), &settings,
			worker.WithName("test-worker"),
			worker.WithFailureHandler(func(ev worker.Event, _ error) { failures = append(failures, ev.ID) }),
		)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.Convey("When it drains a closed queue", func() {
			fill(q, 3)
			_ = q.Close()
			w.Run(ctx)

			convey.Convey("Then it counts completed and failed events", func() {
				convey.So(w.Processed(), convey.ShouldEqual, 2)
				convey.So(w.Failed(), convey.ShouldEqual, 1)
				convey.So(failures, convey.ShouldResemble, []string{"event-1"})
				convey.So(w.Stats().Events(), convey.ShouldEqual, 2)
				convey.So(w.Stats().Skipped(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When it is shut down while idle", func() {
			go w.Run(ctx)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()

			convey.Convey("Then it stops gracefully", func() {
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}
