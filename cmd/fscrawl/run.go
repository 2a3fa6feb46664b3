package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fscrawl/fscrawl/pkg/common"
)

const defaultShutdownTimeout = 30 * time.Second

func newRunCommand(v *viper.Viper) *cobra.Command {
	var (
		loops           int
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [job...]",
		Short: "Crawl the configured jobs until interrupted",
		Long: `Run starts every configured job, or only the named ones, and rescans each
job whenever its update_rate has elapsed. An interrupted scan resumes from
its checkpoint on the next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, v, appOptions{connect: true, telemetry: true, jobs: args})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(context.Background()); err != nil {
					a.log.Error(context.Background(), "failed to release resources", "error", err)
				}
			}()

			if addr := a.cfg.Telemetry.MetricsAddr; addr != "" {
				go func() {
					if err := common.RunMetricsServer(ctx, addr); err != nil {
						a.log.Error(ctx, "metrics server stopped", "addr", addr, "error", err)
					}
				}()
			}

			a.log.Info(ctx, "crawler started", "jobs", a.service.Jobs(), "loops", loops)
			runErr := a.service.RunAll(ctx, loops)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.service.Shutdown(shutdownCtx); err != nil {
				a.log.Error(shutdownCtx, "graceful shutdown failed", "error", err)
			}
			a.log.Info(shutdownCtx, "crawler stopped")
			return runErr
		},
	}

	cmd.Flags().IntVar(&loops, "loop", 0, "stop after this many completed scans per job; 0 runs forever")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", defaultShutdownTimeout,
		"how long to wait for in-flight batches on shutdown")
	return cmd
}
