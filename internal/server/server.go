package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/incidentsync/config"
	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
	"github.com/mohammad-safakhou/incidentsync/internal/runtime"
)

// Version is reported in telemetry resources.
var Version = "dev"

// Flows runs the two pipelines.
type Flows interface {
	Append(ctx context.Context, feedType string) pipeline.AppendResult
	Delete(ctx context.Context) pipeline.DeleteResult
}

// Options wires the HTTP surface.
type Options struct {
	Flows        Flows
	Runs         RunLister
	JWTSecret    []byte
	StrictStatus bool
	Metrics      http.Handler
	Logger       *log.Logger
}

// NewEcho builds the router.
func NewEcho(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	baseLogger := opts.Logger
	if baseLogger == nil {
		baseLogger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	sh := &SyncHandler{Flows: opts.Flows, Strict: opts.StrictStatus, Logger: baseLogger}
	sh.Register(e)

	if opts.Runs != nil && len(opts.JWTSecret) > 0 {
		rh := &RunsHandler{Runs: opts.Runs}
		rh.Register(e.Group("/api"), opts.JWTSecret)
	}
	return e
}

// Run serves HTTP until ctx is cancelled. The scheduler runs alongside when enabled.
func Run(ctx context.Context, cfg *config.Config, addr string) error {
	if err := cfg.ValidatePipeline(); err != nil {
		return err
	}
	tele, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceVersion: Version})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tele.Shutdown(shutdownCtx)
	}()

	comps, err := BuildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	opts := Options{
		Flows:        comps.Pipeline,
		StrictStatus: cfg.Server.StrictStatus,
		Metrics:      tele.MetricsHandler(),
	}
	if comps.Store != nil {
		if secret, err := runtime.LoadJWTSecret(cfg); err == nil {
			opts.Runs = comps.Store
			opts.JWTSecret = secret
		} else {
			log.Printf("run history API disabled: %v", err)
		}
	}
	e := NewEcho(opts)

	if cfg.Scheduler.Enabled {
		sched, err := NewScheduler(comps.Pipeline, SchedulerOptions{
			FeedTypes:  comps.Pipeline.FeedTypes(),
			AppendCron: cfg.Scheduler.AppendCron,
			DeleteCron: cfg.Scheduler.DeleteCron,
			Tick:       cfg.Scheduler.Tick,
			LockTTL:    cfg.Scheduler.LockTTL,

			HistoryRetention: cfg.Scheduler.HistoryRetention,
		})
		if err != nil {
			return err
		}
		if comps.Redis != nil {
			sched.Locker = NewRedisLocker(comps.Redis)
		}
		if comps.Store != nil {
			sched.History = comps.Store
			sched.Pruner = comps.Store
		}
		sched.Start(ctx)
	}

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":3000"
		}
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
