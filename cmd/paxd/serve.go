package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mralfiem591/paxd/internal/extension"
	"github.com/mralfiem591/paxd/internal/trigger"
)

// hostVersion is reported to extensions via the app_start trigger.
const hostVersion = "1.0.0"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the extension host until interrupted",
		Long: `Serve keeps the extension host running: it fires app_start, watches the
extension store for out-of-band changes (extensions dropped in or deleted by
hand) and rescans when they settle, and fires app_exit on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}

			watcher, err := extension.NewWatcher(a.store, a.logger, func() {
				if err := a.manager.Resync(context.Background()); err != nil {
					a.logger.Warn("store resync failed", "error", err)
				}
			})
			if err != nil {
				return err
			}
			defer watcher.Close()

			a.dispatcher.Fire(ctx, trigger.AppStart, map[string]any{"version": hostVersion})
			okColor.Println("paxd extension host running (ctrl-c to stop)")

			<-ctx.Done()
			stop()

			// The serve context is already cancelled; shutdown handlers get
			// a fresh one so they still run under their own budget.
			a.dispatcher.Fire(context.Background(), trigger.AppExit, map[string]any{"exit_code": 0})
			return nil
		},
	}
}
