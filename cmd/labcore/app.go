package main

import (
	"context"
	"errors"
	"fmt"

	"labcore/internal/config"
	"labcore/internal/core"
	"labcore/internal/incident"
	"labcore/internal/logging"
)

// app is the wired process: store, sinks, and the service on top.
type app struct {
	cfg       config.Config
	logger    logging.Logger
	svc       *core.Service
	metrics   core.Exporter
	incidents *incident.Dispatcher
	closers   []func() error
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, base, err := logging.NewDevelopment(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		_ = base.Sync()
		return nil
	})

	store, err := core.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}
	a.closers = append(a.closers, store.Close)

	sink, err := core.OpenMediaSink(ctx, cfg.Blob, logger)
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}
	dismissals, closeDismissals, err := core.OpenDismissals(ctx, cfg.Dismissals)
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}
	a.closers = append(a.closers, closeDismissals)

	metrics, tracer, closeTracer, err := core.OpenObservability(cfg.Observability)
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}
	a.closers = append(a.closers, closeTracer)
	a.metrics = metrics

	a.incidents = core.OpenIncidents(cfg.IncidentQueue, logger)
	a.svc = core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(a.metrics),
		core.WithTracer(tracer),
		core.WithMediaSink(sink),
		core.WithDismissals(dismissals),
		core.WithIncidentSink(a.incidents),
	)
	logger.Info("labcore ready",
		"storage", cfg.Storage.Driver,
		"blob", cfg.Blob.Driver,
		"dismissals", cfg.Dismissals.Driver,
		"metrics", cfg.Observability.Metrics,
	)
	return a, nil
}

// close drains pending incidents then releases resources in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.incidents != nil {
		if err := a.incidents.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain incidents: %w", err))
		}
		a.incidents = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
