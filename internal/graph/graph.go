// Package graph tracks which database objects reference which, so a change
// to one object can be propagated to everything built on top of it.
package graph

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/sqlwatch/sqlwatch/internal/entity"
)

// Graph holds the current project state: every known entity indexed by
// path and by name, plus the reverse reference relation.
//
// Graph is not safe for concurrent use; callers serialize access.
type Graph struct {
	byPath map[string]*entity.Entity
	byName map[string]*entity.Entity

	// dependents maps an entity key to the entities whose text mentions it.
	dependents map[string][]*entity.Entity

	schemaBoundOnly bool
	logger          logrus.FieldLogger
}

// Option configures a Graph.
type Option func(*Graph)

// WithSchemaBoundOnly restricts dependency tracking to schema-bound objects.
func WithSchemaBoundOnly(enabled bool) Option {
	return func(g *Graph) {
		g.schemaBoundOnly = enabled
	}
}

// WithLogger sets the logger used for consistency warnings.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New returns an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		byPath:     make(map[string]*entity.Entity),
		byName:     make(map[string]*entity.Entity),
		dependents: make(map[string][]*entity.Entity),
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Build indexes entities and derives the full dependents relation in one pass.
// Entities of kind Unknown are ignored. Token sets are released afterwards.
func Build(entities []*entity.Entity, opts ...Option) *Graph {
	g := New(opts...)
	for _, e := range entities {
		if e.Kind == entity.Unknown {
			continue
		}
		g.byPath[e.Path] = e
		g.byName[e.Key()] = e
	}

	// Walk paths in sorted order so dependents lists are deterministic.
	for _, e := range g.Entities() {
		words := e.Words
		if words == nil {
			words = entity.Tokenize(e.Content)
		}
		for w := range words {
			target, ok := g.byName[w]
			if !ok || w == e.Key() || !g.tracks(target) {
				continue
			}
			g.dependents[w] = append(g.dependents[w], e)
		}
	}

	for _, e := range g.byPath {
		e.ReleaseWords()
	}
	return g
}

func (g *Graph) tracks(target *entity.Entity) bool {
	return !g.schemaBoundOnly || target.SchemaBound
}

// ByPath returns the entity sourced from path.
func (g *Graph) ByPath(path string) (*entity.Entity, bool) {
	e, ok := g.byPath[path]
	return e, ok
}

// ByName returns the entity with the given name, ignoring case.
func (g *Graph) ByName(name string) (*entity.Entity, bool) {
	e, ok := g.byName[entity.Key(name)]
	return e, ok
}

// Len returns the number of known entities.
func (g *Graph) Len() int {
	return len(g.byPath)
}

// Entities returns all known entities ordered by path.
func (g *Graph) Entities() []*entity.Entity {
	out := make([]*entity.Entity, 0, len(g.byPath))
	for _, e := range g.byPath {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Dependents returns the direct dependents of name.
func (g *Graph) Dependents(name string) []*entity.Entity {
	deps := g.dependents[entity.Key(name)]
	out := make([]*entity.Entity, len(deps))
	copy(out, deps)
	return out
}

// Duplicates returns object names defined by more than one file, mapped to
// the files that define them.
func (g *Graph) Duplicates() map[string][]string {
	paths := make(map[string][]string)
	for _, e := range g.Entities() {
		paths[e.Key()] = append(paths[e.Key()], e.Path)
	}
	for k, v := range paths {
		if len(v) < 2 {
			delete(paths, k)
		}
	}
	return paths
}
