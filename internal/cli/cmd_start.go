package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/randalmurphal/baton-dispatcher/internal/config"
	"github.com/randalmurphal/baton-dispatcher/internal/events"
	"github.com/randalmurphal/baton-dispatcher/internal/executor"
	"github.com/randalmurphal/baton-dispatcher/internal/gitlock"
	"github.com/randalmurphal/baton-dispatcher/internal/httpapi"
	"github.com/randalmurphal/baton-dispatcher/internal/integration"
	"github.com/randalmurphal/baton-dispatcher/internal/lifecycle"
	"github.com/randalmurphal/baton-dispatcher/internal/logging"
	"github.com/randalmurphal/baton-dispatcher/internal/portpool"
	"github.com/randalmurphal/baton-dispatcher/internal/scheduler"
	"github.com/randalmurphal/baton-dispatcher/internal/task"
	"github.com/randalmurphal/baton-dispatcher/internal/worker"
	"github.com/randalmurphal/baton-dispatcher/internal/worktree"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the dispatcher in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			root := config.ProjectDir(".")

			cfg, err := config.Load(root)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.New(root, slog.LevelInfo)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}

			store, err := task.NewStore(root)
			if err != nil {
				return fmt.Errorf("init task store: %w", err)
			}

			ports := portpool.New(cfg.PortRangeStart, cfg.PortRangeEnd)
			lock := gitlock.New()
			worktrees := worktree.New(root, lock, worktree.Config{
				SymlinkFiles: cfg.SymlinkFiles,
				CopyFiles:    cfg.CopyFiles,
				PushToRemote: cfg.PushToRemote,
			})
			pipeline := integration.New(root, lock, cfg.TestCommand, cfg.PushToRemote, cfg.MaxMergeRetries)
			supervisor := worker.New(filepath.Join(root, "data"), logger)
			publisher := events.NewMemoryPublisher()
			defer publisher.Close()

			var controller *lifecycle.Controller
			exec := executor.New(root, cfg, store, ports, worktrees, pipeline, supervisor, publisher, logger,
				func() bool { return controller.IsStopping() })
			sched := scheduler.New(store, exec, cfg.MaxParallelWorkers, cfg.PollInterval(), logger)
			controller = lifecycle.New(sched, supervisor, logger)

			server := httpapi.New(root, store, controller, publisher, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := controller.Start(ctx); err != nil {
				return fmt.Errorf("start dispatcher: %w", err)
			}

			httpSrv := &http.Server{Addr: listen, Handler: server.Handler()}
			go func() {
				logger.Info("http server listening", "addr", listen)
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server error", "error", err)
				}
			}()

			<-ctx.Done()
			logger.Info("received shutdown signal")
			_ = controller.Stop()
			_ = httpSrv.Shutdown(context.Background())
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8089", "address to bind the HTTP façade to")
	return cmd
}
