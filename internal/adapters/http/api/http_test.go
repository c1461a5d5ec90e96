package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pixreco/internal/adapters/http/api"
	"github.com/okian/pixreco/internal/adapters/mq/queue"
	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/dedupe"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/domain/types"
)

type mockDependencies struct {
	dedupe.Deduper
	submitErr error
	submitted []*model.Event
	clusters  map[string][]model.ClusterRecord
	report    *types.Report
}

func newDeps() *mockDependencies {
	return &mockDependencies{Deduper: dedupe.NewInMemoryDeduper(), clusters: map[string][]model.ClusterRecord{}}
}

func (m *mockDependencies) Submit(_ context.Context, e *model.Event) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submitted = append(m.submitted, e)
	return nil
}

func (m *mockDependencies) Clusters(_ context.Context, id string) ([]model.ClusterRecord, error) {
	if id == "broken" {
		return nil, errors.New("database is locked")
	}
	return m.clusters[id], nil
}

func (m *mockDependencies) Report() (*types.Report, bool) { return m.report, m.report != nil }

func (m *mockDependencies) Health(context.Context) types.Health {
	return types.Health{Status: "ok", QueueDepth: len(m.submitted), Workers: 2}
}

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any { return m.stats }

func serve(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := newDeps()
		stats := &mockStatsProvider{stats: map[string]any{"processed": 3}}
		mux := http.NewServeMux()
		api.NewServer(deps, stats).Register(mux)

		Convey("Then health answers with JSON", func() {
			w := serve(mux, "GET", "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var h types.Health
			So(json.NewDecoder(w.Body).Decode(&h), ShouldBeNil)
			So(h.Status, ShouldEqual, "ok")
			So(h.Workers, ShouldEqual, 2)
		})

		Convey("Then metrics are exposed in the Prometheus format", func() {
			_ = serve(mux, "GET", "/healthz", "")
			w := serve(mux, "GET", "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("Then stats are served", func() {
			w := serve(mux, "GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"processed":3`)
			So(serve(mux, "POST", "/stats", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then the summary is missing until the run is finalized", func() {
			So(serve(mux, "GET", "/summary", "").Code, ShouldEqual, http.StatusNotFound)

			deps.report = &types.Report{RunID: "run-1", Summary: analysis.Summary{Events: 5}}
			w := serve(mux, "GET", "/summary", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var r types.Report
			So(json.NewDecoder(w.Body).Decode(&r), ShouldBeNil)
			So(r.RunID, ShouldEqual, "run-1")
			So(r.Summary.Events, ShouldEqual, 5)
		})
	})
}

func TestEventsHandler_HandlePostEvent(t *testing.T) {
	Convey("Given an events handler", t, func() {
		deps := newDeps()
		handler := api.NewEventsHandler(deps)
		post := func(body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest("POST", "/events", strings.NewReader(body))
			w := httptest.NewRecorder()
			handler.HandlePostEvent(w, req)
			return w
		}
		valid := `{"id":"event-123","number":1,"detectors":{"dut0":{
			"particles":[{"pdg":1000030070,"track":1}],
			"hits":[{"index":{"x":3,"y":4},"signal":12.5,"particles":[0]}]}}}`

		Convey("When handling a valid event", func() {
			w := post(valid)

			Convey("Then it is accepted and queued with hits bound to their detector", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var ack types.Ack
				So(json.NewDecoder(w.Body).Decode(&ack), ShouldBeNil)
				So(ack.Status, ShouldEqual, "accepted")
				So(ack.EventID, ShouldEqual, "event-123")
				So(len(deps.submitted), ShouldEqual, 1)
				So(deps.submitted[0].Detectors["dut0"].Hits[0].Detector, ShouldEqual, "dut0")
			})

			Convey("Then a resubmission is acknowledged as duplicate", func() {
				w2 := post(valid)
				So(w2.Code, ShouldEqual, http.StatusOK)
				var ack types.Ack
				So(json.NewDecoder(w2.Body).Decode(&ack), ShouldBeNil)
				So(ack.Duplicate, ShouldBeTrue)
				So(len(deps.submitted), ShouldEqual, 1)
			})
		})

		Convey("When the body is not JSON", func() {
			So(post(`{invalid json`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the event has no id", func() {
			So(post(`{"number":1}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a hit references an unknown particle", func() {
			w := post(`{"id":"e1","detectors":{"dut0":{"hits":[{"index":{"x":0,"y":0},"signal":1,"particles":[2]}]}}}`)

			Convey("Then the event is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				var body types.ErrorBody
				So(json.NewDecoder(w.Body).Decode(&body), ShouldBeNil)
				So(body.Code, ShouldEqual, "bad_request")
				So(body.Message, ShouldContainSubstring, "invalid event")
			})
		})

		Convey("When the method is not POST", func() {
			req := httptest.NewRequest("GET", "/events", nil)
			w := httptest.NewRecorder()
			handler.HandlePostEvent(w, req)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the queue is full", func() {
			deps.submitErr = queue.ErrFull
			w := post(valid)

			Convey("Then the client is told to back off and may retry", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				var body types.ErrorBody
				So(json.NewDecoder(w.Body).Decode(&body), ShouldBeNil)
				So(body.Code, ShouldEqual, "backpressure")
				So(deps.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the queue is closed", func() {
			deps.submitErr = queue.ErrClosed
			So(post(valid).Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestResultsHandler_HandleGetClusters(t *testing.T) {
	Convey("Given stored clusters for one event", t, func() {
		deps := newDeps()
		deps.clusters["e1"] = []model.ClusterRecord{{EventID: "e1", Detector: "dut0", Size: 3, Charge: 42}}
		handler := api.NewResultsHandler(deps)
		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			handler.HandleGetClusters(w, httptest.NewRequest("GET", path, nil))
			return w
		}

		Convey("Then they are returned for that event", func() {
			w := get("/clusters/e1")
			So(w.Code, ShouldEqual, http.StatusOK)
			var list types.ClusterList
			So(json.NewDecoder(w.Body).Decode(&list), ShouldBeNil)
			So(list.EventID, ShouldEqual, "e1")
			So(len(list.Clusters), ShouldEqual, 1)
			So(list.Clusters[0].Charge, ShouldEqual, 42)
		})

		Convey("Then unknown events are not found", func() {
			So(get("/clusters/e2").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then malformed paths are rejected", func() {
			So(get("/clusters/").Code, ShouldEqual, http.StatusBadRequest)
			So(get("/clusters/a/b").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then store failures are internal errors", func() {
			So(get("/clusters/broken").Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestKindErrors(t *testing.T) {
	Convey("Given a wrapped kind", t, func() {
		cause := errors.New("unexpected EOF")
		err := api.WrapKind("api.post_event", api.ErrBadRequest, cause)

		Convey("Then both the kind and the cause match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.post_event: bad request: unexpected EOF")
			So(api.NewKind("op", api.ErrNotFound).Error(), ShouldEqual, "op: not found")
		})
	})
}
