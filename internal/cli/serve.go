package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/egorky/iafsm"
	httpAdapter "github.com/egorky/iafsm/pkg/adapters/http"
	"github.com/egorky/iafsm/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// RunServe serves the HTTP front-end until ctx is done, then drains
// in-flight requests, session writes and async calls.
func RunServe(ctx context.Context, s Settings, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	hooks := observability.Combine(metrics.Hooks(), observability.LogHooks(logger))

	rt, err := NewRuntime(ctx, s, logger, iafsm.WithLifecycleHooks(hooks))
	if err != nil {
		return err
	}

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	handlerOpts := []httpAdapter.Option{
		httpAdapter.WithLogger(logger),
		httpAdapter.WithResponseTransport(rt.Engine.Streams()),
	}
	if s.HTTP.MetricsPort == 0 {
		handlerOpts = append(handlerOpts, httpAdapter.WithMetricsHandler(metricsHandler))
	}

	servers := []*http.Server{{
		Addr:              fmt.Sprintf(":%d", s.HTTP.Port),
		Handler:           httpAdapter.NewHandler(rt.Engine, handlerOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if s.HTTP.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", s.HTTP.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr, "dir", s.Dir)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	if s.HTTP.Watch {
		g.Go(func() error {
			changes, err := rt.Engine.Watch(gctx)
			if err != nil {
				logger.Warn("hot reload disabled", "err", err)
				return nil
			}
			for name := range changes {
				logger.Info("configuration reloaded", "trigger", name)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := rt.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		logger.Info("server stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}
