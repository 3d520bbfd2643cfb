package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hamzalsheikh/howl/internal/service"
	"github.com/hamzalsheikh/howl/pkg/version"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// config file is optional, the environment can carry everything
	var path string
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := service.LoadConfig(path)
	if err != nil {
		return err
	}

	logger, closer, err := service.CreateLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceProvider, tracer, err := service.CreateTracer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = traceProvider.Shutdown(context.Background()) }()

	meterProvider, err := service.CreateMeterProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("couldn't create meter provider: %w", err)
	}
	// Handle shutdown properly so nothing leaks.
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("meter provider shutdown")
		}
	}()

	logger.Info().Str("version", version.Version()).Str("registry", cfg.RegistryAddr).Msg("starting")

	agent, err := service.Start(ctx, cfg, service.Telemetry{
		Logger: logger,
		Tracer: tracer,
		Meter:  meterProvider.Meter(string(cfg.ServiceName) + "Agent"),
	})
	if err != nil {
		logger.Error().Err(err).Msg("couldn't start")
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info().Msgf("Shutting down %v", cfg.ServiceName)
	case <-agent.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return agent.Shutdown(shutdownCtx)
}
