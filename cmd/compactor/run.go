package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/compactor/pkg/api"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compact the cluster continuously",
	Long: `Run keeps one worker per live node, replanning each node as its
regions are compacted or its queue goes idle, until interrupted.

Progress is served over HTTP (/status, /metrics, /health, /ready) and
per-node worker health over the gRPC health protocol.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.WithComponent("cli")

		inst, err := openInstance(cfg)
		if err != nil {
			return err
		}
		defer inst.close()

		health := metrics.DefaultHealth
		health.SetVersion(Version)
		health.Update("catalog", true, cfg.Catalog.Path)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		statusServer := api.NewStatusServer(cfg.API.HTTPAddr, inst.scheduler, health)
		healthService := api.NewHealthService()
		sub := inst.broker.Subscribe()
		defer inst.broker.Unsubscribe(sub)
		go healthService.Follow(ctx, sub, inst.scheduler)

		var reporter *metrics.Reporter
		if cfg.Scheduler.ReportInterval > 0 {
			reporter = metrics.NewReporter(inst.scheduler, cfg.Scheduler.ReportInterval)
			reporter.Start()
		}

		errCh := make(chan error, 2)
		go func() {
			if err := statusServer.Start(); err != nil {
				errCh <- err
			}
		}()
		go func() {
			if err := healthService.Start(cfg.API.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("gRPC health service error: %w", err)
			}
		}()

		done := make(chan error, 1)
		go func() {
			done <- inst.scheduler.RunContinuous(ctx)
		}()
		health.Update("scheduler", true, "continuous")
		logger.Info().Str("http", cfg.API.HTTPAddr).Str("grpc", cfg.API.GRPCAddr).
			Msg("Compactor is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		var runErr error
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case runErr = <-errCh:
			logger.Error().Err(runErr).Msg("Shutting down after server failure")
		case runErr = <-done:
			logger.Warn().Err(runErr).Msg("Continuous compaction stopped")
		}

		health.Update("scheduler", false, "shutting down")
		cancel()
		if reporter != nil {
			reporter.Stop()
			reporter.Report()
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer stop()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop status server")
		}
		healthService.Stop()

		logger.Info().Msg("Shutdown complete")
		return runErr
	},
}
