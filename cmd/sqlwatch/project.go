package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sqlwatch/sqlwatch/internal/diagnostics"
	"github.com/sqlwatch/sqlwatch/internal/project"
	"github.com/sqlwatch/sqlwatch/internal/sqlexec"
)

// loadProject scans the configured root and prints the non-blocking
// diagnostics to stderr. It reports whether any were found.
func loadProject(ctx context.Context) (*project.Project, bool, error) {
	p, err := project.Load(ctx, cfg.Root, cfg.ProjectOptions(logger))
	if err != nil {
		return nil, false, err
	}

	entities := p.Graph.Entities()
	undefined := diagnostics.UndefinedVariables(entities)
	diagnostics.RenderUndefined(os.Stderr, undefined)

	found := len(undefined) > 0
	if dups := p.Graph.Duplicates(); len(dups) > 0 {
		diagnostics.RenderDuplicates(os.Stderr, dups)
		found = true
	}
	if cfg.Graph.DetectCycles {
		if cycles := p.Graph.Cycles(); len(cycles) > 0 {
			diagnostics.RenderCycles(os.Stderr, cycles)
			found = true
		}
	}
	return p, found, nil
}

// openDatabase validates the full configuration and connects.
func openDatabase(ctx context.Context) (*sqlexec.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	driver, err := sqlexec.NormalizeDriver(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlexec.Open(ctx, driver, cfg.Database.Connection)
	if err != nil {
		return nil, err
	}
	logger.WithField("driver", driver).Info("connected to database")
	if !db.TransactionalDDL() {
		logger.WithField("driver", driver).Warn("DDL commits implicitly on this database; a failed change is not rolled back")
	}
	return db, nil
}
