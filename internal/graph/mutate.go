package graph

import (
	"github.com/sirupsen/logrus"

	"github.com/sqlwatch/sqlwatch/internal/entity"
)

// Upsert records a newly created entity. Any entity previously sourced from
// the same path is replaced. References are derived in both directions: the
// entity becomes a dependent of every known object it mentions, and every
// known object that mentions it becomes its dependent.
func (g *Graph) Upsert(e *entity.Entity) {
	if e == nil || e.Kind == entity.Unknown {
		return
	}
	if prev, ok := g.byPath[e.Path]; ok && prev != e {
		g.detach(prev)
	}

	g.byPath[e.Path] = e
	g.byName[e.Key()] = e

	words := e.Words
	if words == nil {
		words = entity.Tokenize(e.Content)
	}
	for key, target := range g.byName {
		if _, ok := words[key]; !ok || key == e.Key() || !g.tracks(target) {
			continue
		}
		g.addDependent(key, e)
	}

	if g.tracks(e) {
		for _, other := range g.Entities() {
			if other.Path == e.Path || other.Key() == e.Key() {
				continue
			}
			if other.Mentions(e.Name) {
				g.addDependent(e.Key(), other)
			}
		}
	}

	e.ReleaseWords()
}

// Remove forgets a dropped entity: it leaves both indices and every
// dependents list. Dependents still registered under its name afterwards
// mean the drop sequence missed a consumer, which is logged as a bug.
func (g *Graph) Remove(e *entity.Entity) {
	if e == nil {
		return
	}
	g.detach(e)

	key := e.Key()
	if owner, ok := g.byName[key]; ok && owner.Path != e.Path {
		// Another file still defines this name; its dependents stay.
		return
	}
	if remaining := g.dependents[key]; len(remaining) > 0 {
		names := make([]string, 0, len(remaining))
		for _, d := range remaining {
			names = append(names, d.Name)
		}
		g.logger.WithFields(logrus.Fields{
			"entity":     e.Name,
			"dependents": names,
		}).Error("impossible: dropped object still has registered dependents")
	}
	delete(g.dependents, key)
}

// Move re-keys an entity after a file rename that did not change its content.
func (g *Graph) Move(oldPath, newPath string) bool {
	e, ok := g.byPath[oldPath]
	if !ok {
		return false
	}
	delete(g.byPath, oldPath)
	e.Path = newPath
	g.byPath[newPath] = e
	return true
}

// detach removes e from the indices and strips it from every dependents list.
func (g *Graph) detach(e *entity.Entity) {
	if cur, ok := g.byPath[e.Path]; ok && (cur == e || cur.Path == e.Path) {
		delete(g.byPath, e.Path)
		if owner, ok := g.byName[cur.Key()]; ok && owner.Path == e.Path {
			delete(g.byName, cur.Key())
		}
	}
	if owner, ok := g.byName[e.Key()]; ok && owner.Path == e.Path {
		delete(g.byName, e.Key())
	}

	for key, deps := range g.dependents {
		kept := deps[:0]
		for _, d := range deps {
			if d.Path != e.Path {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			delete(g.dependents, key)
			continue
		}
		g.dependents[key] = kept
	}
}

func (g *Graph) addDependent(key string, e *entity.Entity) {
	for _, d := range g.dependents[key] {
		if d.Path == e.Path {
			return
		}
	}
	g.dependents[key] = append(g.dependents[key], e)
}
