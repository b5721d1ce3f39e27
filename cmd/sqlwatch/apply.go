package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlwatch/sqlwatch/internal/change"
	"github.com/sqlwatch/sqlwatch/internal/sqlexec"
	"github.com/sqlwatch/sqlwatch/internal/ui"
)

var applyCmd = &cobra.Command{
	Use:     "apply <file>",
	GroupID: "sync",
	Short:   "Apply one changed file and exit",
	Long: `Apply a single change the same way watch does, then exit.

The file is treated as saved. If it no longer exists it is treated as
deleted. Use --from to apply a rename.

Example usage:
  sqlwatch apply views/Orders.sql
  sqlwatch apply views/OrderTotals.sql --from views/Orders.sql
  sqlwatch apply views/Orders.sql --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		from, _ := cmd.Flags().GetString("from")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if from != "" {
			if from, err = filepath.Abs(from); err != nil {
				return err
			}
		}

		var (
			handler *change.Handler
			closeDB = func() {}
		)
		p, _, err := loadProject(ctx)
		if err != nil {
			return err
		}
		opts := change.Options{
			Schema:    cfg.Database.Schema,
			Variables: cfg.Variables,
			Reader:    cfg.Reader(logger),
			Logger:    logger,
		}
		if dryRun {
			handler = change.NewHandler(p.Graph, dryRunDB{}, opts)
		} else {
			db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			closeDB = func() { _ = db.Close() }
			handler = change.NewHandler(p.Graph, db, opts)
		}
		defer closeDB()

		report, err := handler.Apply(ctx, from, path)
		printReport(report, dryRun)
		return err
	},
}

func printReport(r *change.Report, dryRun bool) {
	if r == nil {
		return
	}
	name := r.Name
	if name == "" {
		name = filepath.Base(r.Path)
	}

	switch r.Outcome {
	case change.Applied:
		verb := "applied"
		if dryRun {
			verb = "planned"
		}
		fmt.Printf("%s %s %s in %s\n", ui.RenderPass("✓"), verb, ui.RenderBold(name), r.Duration.Round(time.Millisecond))
	case change.FakeUpdate, change.Moved, change.Skipped:
		fmt.Printf("%s %s: %s\n", ui.RenderMuted("-"), name, strings.ReplaceAll(string(r.Outcome), "_", " "))
	default:
		fmt.Printf("%s %s: %s\n", ui.RenderFail("✗"), name, r.Outcome)
	}

	for _, stmt := range r.Planned {
		fmt.Printf("  %s\n", stmt)
	}
	for _, stmt := range r.Skipped {
		fmt.Printf("  %s %s\n", ui.RenderMuted(stmt), ui.RenderMuted("(did not exist)"))
	}
}

func init() {
	applyCmd.Flags().String("from", "", "previous path of a renamed file")
	applyCmd.Flags().Bool("dry-run", false, "plan the change without connecting to the database")
	rootCmd.AddCommand(applyCmd)
}

// dryRunDB accepts every statement without a database.
type dryRunDB struct{}

func (dryRunDB) Begin(context.Context) (sqlexec.Tx, error) { return dryRunTx{}, nil }

type dryRunTx struct{}

func (dryRunTx) Exec(context.Context, string) error { return nil }
func (dryRunTx) Commit() error                      { return nil }
func (dryRunTx) Rollback() error                    { return nil }
