package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/pixreco/internal/app"
	"github.com/okian/pixreco/internal/config"
	"github.com/okian/pixreco/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func TestMainConfiguration(t *testing.T) {
	convey.Convey("Given configuration from the environment", t, func() {
		_ = os.Unsetenv(config.EnvConfigPath)
		_ = os.Setenv("PIXRECO_ADDR", ":8080")
		_ = os.Setenv("PIXRECO_QUEUE_SIZE", "1000")
		_ = os.Setenv("PIXRECO_WORKER_COUNT", "4")
		defer func() {
			_ = os.Unsetenv("PIXRECO_ADDR")
			_ = os.Unsetenv("PIXRECO_QUEUE_SIZE")
			_ = os.Unsetenv("PIXRECO_WORKER_COUNT")
		}()

		convey.Convey("Then configuration should be loadable", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.EventQueueSize, convey.ShouldEqual, 1000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
		})
	})

	convey.Convey("Given an invalid worker count", t, func() {
		_ = os.Setenv("PIXRECO_WORKER_COUNT", "0")
		defer func() { _ = os.Unsetenv("PIXRECO_WORKER_COUNT") }()

		convey.Convey("Then configuration loading should fail", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestHTTPServer(t *testing.T) {
	convey.Convey("Given a started service", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.WorkerCount = 1
		cfg.OutputDir = ""
		svc := service.New(cfg)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		convey.Convey("When no address is configured", func() {
			convey.Convey("Then no server is built", func() {
				convey.So(newHTTPServer(ctx, "", svc), convey.ShouldBeNil)
			})
		})

		convey.Convey("When an address is configured", func() {
			srv := newHTTPServer(ctx, ":0", svc)
			convey.So(srv, convey.ShouldNotBeNil)
			convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)

			convey.Convey("Then the API and docs routes are served", func() {
				for _, path := range []string{"/healthz", "/stats", "/metrics", "/openapi.yaml", "/api-docs"} {
					w := httptest.NewRecorder()
					srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
					convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				}
			})
		})

		convey.Convey("When the metrics updaters run", func() {
			convey.Convey("Then they do not panic", func() {
				convey.So(updateSystemMetrics, convey.ShouldNotPanic)
				convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			})

			convey.Convey("Then they stop with the context", func() {
				tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				defer cancel()
				convey.So(func() {
					startSystemMetricsUpdater(tctx)
					startServiceMetricsUpdater(tctx, svc)
				}, convey.ShouldNotPanic)
			})
		})
	})
}
