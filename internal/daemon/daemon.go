// Package daemon runs the watch loop: it feeds file notifications through the
// debounce aggregator into the change handler, and optionally serves the
// dashboard.
//
// The daemon:
//  1. Watches the project root recursively for definition files
//  2. Coalesces bursts of notifications into settled changes
//  3. Applies each change to the database in its own transaction
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sqlwatch/sqlwatch/internal/change"
	"github.com/sqlwatch/sqlwatch/internal/dashboard"
	"github.com/sqlwatch/sqlwatch/internal/debounce"
	"github.com/sqlwatch/sqlwatch/internal/project"
	"github.com/sqlwatch/sqlwatch/internal/watch"
)

// Config holds configuration for the daemon.
type Config struct {
	// Root is the directory to watch
	Root string

	// Extension selects watched files (default .sql)
	Extension string

	// Debounce controls how long bursts of notifications are held back
	Debounce debounce.Config

	// Dashboard enables the dashboard server on DashboardHost:DashboardPort.
	// A zero port picks a free one.
	Dashboard     bool
	DashboardHost string
	DashboardPort int

	// Logger for daemon activity
	Logger logrus.FieldLogger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Extension:     project.DefaultExtension,
		Debounce:      debounce.DefaultConfig(),
		DashboardHost: "127.0.0.1",
		DashboardPort: 8080,
		Logger:        logrus.StandardLogger(),
	}
}

// Daemon orchestrates file watching and change handling.
type Daemon struct {
	config  *Config
	handler *change.Handler
	logger  logrus.FieldLogger

	watcher    *watch.FileWatcher
	aggregator *debounce.Aggregator
	dashboard  *dashboard.Server

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a daemon applying changes through handler.
//
// Use Start() to begin watching.
func New(handler *change.Handler, config *Config) (*Daemon, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Root == "" {
		return nil, errors.New("root cannot be empty")
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Extension == "" {
		config.Extension = project.DefaultExtension
	}

	logger := config.Logger.WithField("component", "daemon")

	watcher, err := watch.NewFileWatcher(config.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	d := &Daemon{
		config:  config,
		handler: handler,
		logger:  logger,
		watcher: watcher,
	}
	d.aggregator = debounce.New(config.Debounce, handler.HandleBatch, config.Logger)

	if config.Dashboard {
		d.dashboard = dashboard.NewServer(&dashboard.Config{
			Host:   config.DashboardHost,
			Port:   config.DashboardPort,
			Graph:  handler,
			Logger: config.Logger,
		})
		events := dashboard.NewHandler(d.dashboard, handler, config.Logger)
		handler.Observe(events.OnReport)
	}

	return d, nil
}

// Dashboard returns the dashboard server, or nil when it is disabled.
func (d *Daemon) Dashboard() *dashboard.Server {
	return d.dashboard
}

// Start begins watching. It blocks until ctx is cancelled, Stop is called,
// or a component fails. Changes still waiting for their quiet period when
// the daemon stops are discarded.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.done != nil {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()
	defer close(d.done)
	defer cancel()

	if err := d.watcher.Start(d.config.Root, d.config.Extension); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.config.Root, err)
	}
	defer func() {
		if err := d.watcher.Stop(); err != nil {
			d.logger.WithError(err).Warn("error closing watcher")
		}
	}()

	if d.dashboard != nil {
		if err := d.dashboard.Start(); err != nil {
			return err
		}
		defer func() {
			if err := d.dashboard.Stop(); err != nil {
				d.logger.WithError(err).Warn("error stopping dashboard")
			}
		}()
	}

	d.logger.WithField("root", d.watcher.Root()).Info("watching for changes")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.aggregator.Run(gctx)
	})
	g.Go(func() error {
		d.forwardEvents(gctx)
		return nil
	})

	err := g.Wait()
	d.logger.Info("daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// forwardEvents passes watcher notifications to the aggregator until ctx is
// done or the watcher closes its channels.
func (d *Daemon) forwardEvents(ctx context.Context) {
	events := d.watcher.Events()
	errs := d.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.logger.WithFields(logrus.Fields{
				"op":   ev.Op.String(),
				"path": ev.Path,
			}).Debug("file event")
			d.aggregator.Notify(ev.Change())
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.WithError(err).Debug("watcher error")
		}
	}
}

// Stop asks a running daemon to shut down and waits for it.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
