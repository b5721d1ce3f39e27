// Package change turns a settled file change into one database transaction
// and keeps the dependency graph in step with what was committed.
package change

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sqlwatch/sqlwatch/internal/command"
	"github.com/sqlwatch/sqlwatch/internal/debounce"
	"github.com/sqlwatch/sqlwatch/internal/entity"
	"github.com/sqlwatch/sqlwatch/internal/graph"
	"github.com/sqlwatch/sqlwatch/internal/project"
	"github.com/sqlwatch/sqlwatch/internal/sqlexec"
)

// DefaultSchema owns every generated DROP statement unless configured.
const DefaultSchema = "dbo"

// Observer receives every report after a change is handled.
type Observer func(*Report)

// Options configures a Handler.
type Options struct {
	Schema    string
	Variables map[string]string
	Reader    *project.Reader
	Logger    logrus.FieldLogger
}

// Handler applies file changes one at a time. The graph is only read or
// written while holding its lock.
type Handler struct {
	mu     sync.Mutex
	graph  *graph.Graph
	db     sqlexec.Beginner
	reader *project.Reader
	schema string
	vars   map[string]string
	logger logrus.FieldLogger

	obsMu     sync.RWMutex
	observers []Observer
}

// NewHandler returns a Handler that owns g from now on.
func NewHandler(g *graph.Graph, db sqlexec.Beginner, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	schema := opts.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	reader := opts.Reader
	if reader == nil {
		reader = project.DefaultReader(logger)
	}
	return &Handler{
		graph:  g,
		db:     db,
		reader: reader,
		schema: schema,
		vars:   opts.Variables,
		logger: logger,
	}
}

// Observe registers fn to be called with every report.
func (h *Handler) Observe(fn Observer) {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	h.observers = append(h.observers, fn)
}

// View runs fn with the graph while no change is in progress. fn must not
// keep references to the graph after returning.
func (h *Handler) View(fn func(*graph.Graph)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.graph)
}

// HandleBatch handles a flushed debounce batch in order.
func (h *Handler) HandleBatch(ctx context.Context, changes []debounce.Change) {
	for _, c := range changes {
		if ctx.Err() != nil {
			return
		}
		h.Handle(ctx, c)
	}
}

// Handle applies a change and logs the result. It never panics and never
// returns an error, so the watch loop keeps running.
func (h *Handler) Handle(ctx context.Context, c debounce.Change) {
	var report *Report
	defer func() {
		if r := recover(); r != nil {
			report = &Report{Path: c.Path, OldPath: c.OldPath, Started: time.Now()}
			report.finish(Failed, fmt.Errorf("panic: %v", r))
			h.logger.WithField("path", c.Path).Errorf("change handling panicked: %v", r)
		}
		h.notify(report)
	}()

	report, _ = h.Apply(ctx, c.OldPath, c.Path)
	h.log(report)
}

func (h *Handler) notify(r *Report) {
	if r == nil {
		return
	}
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	for _, fn := range h.observers {
		fn(r)
	}
}

func (h *Handler) log(r *Report) {
	fields := logrus.Fields{
		"path":     r.Path,
		"duration": r.Duration,
	}
	if r.OldPath != "" {
		fields["old_path"] = r.OldPath
	}
	if r.Name != "" {
		fields["entity"] = r.Name
	}
	logger := h.logger.WithFields(fields)

	switch r.Outcome {
	case Applied:
		logger.Infof("change applied in %s", r.Duration.Round(time.Millisecond))
	case FakeUpdate:
		logger.Debug("fake update, content unchanged")
	case Moved:
		logger.Info("file moved, object unchanged")
	case Skipped:
		if r.Err != nil {
			logger.WithError(r.Err).Warn("change skipped")
		} else {
			logger.Debug("change skipped, nothing to do")
		}
	case Aborted:
		logger.WithError(r.Err).Error("change aborted")
	case Failed:
		logger.WithError(r.Err).Error("change failed, transaction rolled back")
	}
}

// Apply handles one change: a write to path, a delete of path, or a rename
// from oldPath to path. The returned error is also recorded in the report.
func (h *Handler) Apply(ctx context.Context, oldPath, path string) (*Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if oldPath == path {
		oldPath = ""
	}
	r := &Report{Path: path, OldPath: oldPath, Started: time.Now()}

	prev := h.resolve(oldPath, path)
	var dependants, reversed []*entity.Entity
	if prev != nil {
		r.Name = prev.Name
		var cycles []graph.Cycle
		dependants, cycles = h.graph.DependentsOf(prev.Name, graph.DropOrder)
		reversed, _ = h.graph.DependentsOf(prev.Name, graph.CreateOrder)
		for _, c := range cycles {
			h.logger.WithField("entity", prev.Name).Warnf("reference cycle ignored: %s", c)
		}
	}

	content, err := h.reader.Read(ctx, path)
	exists := true
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	default:
		return r.finish(Skipped, err), err
	}

	q := command.NewQueue(h.logger)

	if !exists {
		if prev == nil {
			return r.finish(Skipped, nil), nil
		}
		if len(dependants) > 0 {
			err := &DependentsError{Entity: prev.Name, Dependents: displayNames(dependants)}
			return r.finish(Aborted, err), err
		}
		q.Push(command.Drop(prev, h.schema))
		return h.execute(ctx, r, q)
	}

	next := entity.Parse(path, content, h.vars)
	if next.Kind != entity.Unknown {
		r.Name = next.Name
	}

	if prev != nil && prev.Content == next.Content && prev.Kind == next.Kind {
		if oldPath == "" || prev.Path == path {
			return r.finish(FakeUpdate, nil), nil
		}
		if _, taken := h.graph.ByPath(path); !taken {
			h.graph.Move(prev.Path, path)
			return r.finish(Moved, nil), nil
		}
	}

	if prev == nil && next.Kind == entity.Unknown {
		return r.finish(Skipped, nil), nil
	}

	// A rename onto a tracked path replaces the object defined there.
	var displaced *entity.Entity
	if oldPath != "" && prev != nil {
		if e, ok := h.graph.ByPath(path); ok && e != prev {
			displaced = e
		}
	}
	sameAsDisplaced := displaced != nil && next.Kind != entity.Unknown &&
		strings.EqualFold(displaced.Name, next.Name)
	if displaced != nil {
		more, _ := h.graph.DependentsOf(displaced.Name, graph.DropOrder)
		moreReversed, _ := h.graph.DependentsOf(displaced.Name, graph.CreateOrder)
		more = without(more, prev)
		if len(more) > 0 && !sameAsDisplaced {
			err := &DependentsError{Entity: displaced.Name, Dependents: displayNames(more)}
			return r.finish(Aborted, err), err
		}
		dependants = appendNew(without(dependants, displaced), more)
		reversed = appendNew(without(reversed, displaced), without(moreReversed, prev))
	}

	for _, d := range dependants {
		q.Push(command.Drop(d, h.schema))
	}
	if prev != nil {
		q.Push(command.Drop(prev, h.schema))
	}
	if displaced != nil {
		q.Push(command.Drop(displaced, h.schema))
	}
	if next.Kind != entity.Unknown {
		renamed := prev == nil || !strings.EqualFold(prev.Name, next.Name) || prev.Kind != next.Kind
		if renamed && !sameAsDisplaced {
			q.Push(command.Drop(next, h.schema))
		}
		q.Push(command.Create(next))
	} else {
		h.logger.WithField("path", path).Warn("no object definition found; dropping the previous object")
	}
	for _, d := range reversed {
		q.Push(command.Create(d))
	}

	return h.execute(ctx, r, q)
}

// resolve finds the entity the change replaces, preferring the rename source.
func (h *Handler) resolve(oldPath, path string) *entity.Entity {
	if oldPath != "" {
		if e, ok := h.graph.ByPath(oldPath); ok {
			return e
		}
	}
	if e, ok := h.graph.ByPath(path); ok {
		return e
	}
	return nil
}

func (h *Handler) execute(ctx context.Context, r *Report, q *command.Queue) (*Report, error) {
	r.Planned = q.Commands()

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return r.finish(Failed, err), err
	}

	summary, err := q.Run(ctx, tx)
	if err != nil {
		return r.finish(Failed, err), err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return r.finish(Failed, err), err
	}

	summary.Apply(h.graph)
	r.Executed = summary.Executed
	r.Skipped = summary.Skipped
	return r.finish(Applied, nil), nil
}

func without(es []*entity.Entity, drop *entity.Entity) []*entity.Entity {
	out := es[:0:0]
	for _, e := range es {
		if e != drop {
			out = append(out, e)
		}
	}
	return out
}

// appendNew appends the entities of src not already in dst, by path.
func appendNew(dst, src []*entity.Entity) []*entity.Entity {
	seen := make(map[string]bool, len(dst))
	for _, e := range dst {
		seen[e.Path] = true
	}
	for _, e := range src {
		if !seen[e.Path] {
			seen[e.Path] = true
			dst = append(dst, e)
		}
	}
	return dst
}

func displayNames(es []*entity.Entity) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Name)
	}
	return out
}
