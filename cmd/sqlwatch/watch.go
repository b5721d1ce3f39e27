package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sqlwatch/sqlwatch/internal/change"
	"github.com/sqlwatch/sqlwatch/internal/daemon"
	"github.com/sqlwatch/sqlwatch/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Watch the definition files and apply every change",
	Long: `Scan the root directory, build the dependency graph, then watch for
changes until interrupted.

Each saved file is applied in one transaction: objects that reference it are
dropped, the object is recreated, then the dependents are recreated. A failed
change is rolled back and logged; watching continues.

Example usage:
  sqlwatch watch --root ./db --connection "sqlserver://sa:pw@localhost?database=app"
  sqlwatch watch --dashboard-port 8080     # also serve the live dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		p, _, err := loadProject(ctx)
		if err != nil {
			return err
		}

		handler := change.NewHandler(p.Graph, db, change.Options{
			Schema:    cfg.Database.Schema,
			Variables: cfg.Variables,
			Reader:    cfg.Reader(logger),
			Logger:    logger,
		})

		d, err := daemon.New(handler, &daemon.Config{
			Root:          p.Root,
			Extension:     cfg.Extension,
			Debounce:      cfg.DebounceConfig(),
			Dashboard:     cfg.Dashboard.Port > 0,
			DashboardHost: cfg.Dashboard.Host,
			DashboardPort: cfg.Dashboard.Port,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s watching %s (%d objects)\n", ui.RenderPass("✓"), ui.RenderAccent(p.Root), p.Graph.Len())
		if d.Dashboard() != nil {
			fmt.Printf("  dashboard: http://%s:%d\n", cfg.Dashboard.Host, cfg.Dashboard.Port)
		}
		fmt.Println(ui.RenderMuted("Press Ctrl+C to stop..."))

		if err := d.Start(ctx); err != nil && err != context.Canceled {
			return err
		}
		fmt.Println("\nStopped watching")
		return nil
	},
}

func init() {
	watchCmd.Flags().Int("dashboard-port", 0, "serve the live dashboard on this port (0 disables)")
	watchCmd.Flags().Duration("debounce-min", 0, "quiet period before a change is applied")
	if err := settings.BindPFlag("dashboard.port", watchCmd.Flags().Lookup("dashboard-port")); err != nil {
		panic(err)
	}
	if err := settings.BindPFlag("debounce.min", watchCmd.Flags().Lookup("debounce-min")); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(watchCmd)
}
