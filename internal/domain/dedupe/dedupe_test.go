package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	dedupe "github.com/okian/pixreco/internal/domain/dedupe"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		So(d.Size(), ShouldEqual, 0)

		Convey("When an event is recorded", func() {
			So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)

			Convey("Then a resubmission is detected", func() {
				So(d.SeenAndRecord(ctx, "event-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then unrecording allows a retry", func() {
				d.Unrecord(ctx, "event-1")
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)
			})

			Convey("Then unrecording an unknown ID is a no-op", func() {
				d.Unrecord(ctx, "event-9")
				So(d.Size(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a deduper bounded to three IDs", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for i := range 4 {
			d.SeenAndRecord(ctx, fmt.Sprintf("event-%d", i))
		}

		Convey("Then the oldest ID is forgotten", func() {
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "event-3"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "event-1"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "event-0"), ShouldBeFalse)
		})

		Convey("Then an unrecorded ID can be submitted again", func() {
			d.Unrecord(ctx, "event-2")
			So(d.Size(), ShouldEqual, 2)
			So(d.SeenAndRecord(ctx, "event-2"), ShouldBeFalse)
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := range 1000 {
			d.SeenAndRecord(ctx, fmt.Sprintf("event-%d", i))
		}
		So(d.Size(), ShouldEqual, 1000)
		So(d.SeenAndRecord(ctx, "event-0"), ShouldBeTrue)
	})
}

func TestDeduperConcurrency(t *testing.T) {
	Convey("Given many goroutines submitting the same IDs", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fresh int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 100 {
					if !d.SeenAndRecord(ctx, fmt.Sprintf("event-%d", i)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each ID is accepted exactly once", func() {
			So(fresh, ShouldEqual, 100)
		})
	})
}
