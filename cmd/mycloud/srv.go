package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mycloud/internal/config"
	"mycloud/internal/files"
	"mycloud/internal/models"
	"mycloud/internal/server"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the mycloud API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stack, err := openLocalStack(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer stack.Close()

			if err := server.RegisterBlobDeleteFailures(prometheus.DefaultRegisterer, stack.registry.BlobDeleteFailures); err != nil {
				return err
			}

			go runSweeper(ctx, stack.files, cfg.Storage.SweepInterval.Duration, logger.With("component", "sweeper"))

			srv := server.New(addr, stack.files, stack.auth, server.Options{
				MaxUploadBytes:     cfg.Limits.MaxUploadBytes,
				MultipartMaxMemory: cfg.Limits.MultipartMaxMemory,
				LoginMaxFailures:   cfg.Auth.LoginMaxFailures,
				Logger:             logger,
			})
			return srv.ListenAndServe(ctx)
		},
	}
}

// runSweeper removes stale pending reservations and orphaned content every
// interval until ctx is done. A non-positive interval disables it.
func runSweeper(ctx context.Context, service *files.Service, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		logger.Info("background sweeper disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := service.Maintenance(ctx, models.SystemPrincipal, false)
			if err != nil {
				logger.Error("sweep failed", "error", err)
				continue
			}
			if report.Pending.Removed > 0 || report.Orphans.Removed > 0 || report.Pending.Failed > 0 || report.Orphans.Failed > 0 {
				logger.Info("sweep completed",
					"pending_removed", report.Pending.Removed,
					"pending_failed", report.Pending.Failed,
					"orphans_removed", report.Orphans.Removed,
					"orphans_failed", report.Orphans.Failed,
				)
			}
		}
	}
}
