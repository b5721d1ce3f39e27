package graph

import (
	"strings"

	"github.com/sqlwatch/sqlwatch/internal/entity"
)

// Order selects how transitive dependents are sequenced.
type Order int

const (
	// DropOrder yields outermost consumers first (post-order), so objects are
	// dropped before the objects they are built on.
	DropOrder Order = iota
	// CreateOrder yields shallow dependents first (pre-order), so objects are
	// recreated after the objects they are built on.
	CreateOrder
)

func (o Order) String() string {
	if o == CreateOrder {
		return "create"
	}
	return "drop"
}

// Cycle is a chain of entity names that leads back to its first element.
type Cycle []string

func (c Cycle) String() string {
	return strings.Join(c, " -> ")
}

type frame struct {
	key  string
	e    *entity.Entity
	next int
}

// DependentsOf returns every transitive dependent of name in the requested
// order, each entity once at its first occurrence. A reference back into the
// current traversal path is not followed; it is reported as a Cycle instead.
func (g *Graph) DependentsOf(name string, order Order) ([]*entity.Entity, []Cycle) {
	root := entity.Key(name)

	var (
		out     []*entity.Entity
		cycles  []Cycle
		visited = make(map[string]bool)
		onPath  = map[string]bool{root: true}
		stack   = []*frame{{key: root}}
	)

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		deps := g.dependents[top.key]

		if top.next >= len(deps) {
			stack = stack[:len(stack)-1]
			onPath[top.key] = false
			if order == DropOrder && top.e != nil {
				out = append(out, top.e)
			}
			continue
		}

		dep := deps[top.next]
		top.next++
		key := dep.Key()

		if onPath[key] {
			cycles = append(cycles, g.cycleFrom(stack, key))
			continue
		}
		if visited[dep.Path] {
			continue
		}
		visited[dep.Path] = true

		if order == CreateOrder {
			out = append(out, dep)
		}
		onPath[key] = true
		stack = append(stack, &frame{key: key, e: dep})
	}

	return out, cycles
}

func (g *Graph) cycleFrom(stack []*frame, key string) Cycle {
	var c Cycle
	for i := range stack {
		if stack[i].key != key && len(c) == 0 {
			continue
		}
		c = append(c, g.displayName(stack[i].key))
	}
	return append(c, g.displayName(key))
}

func (g *Graph) displayName(key string) string {
	if e, ok := g.byName[key]; ok {
		return e.Name
	}
	return key
}

// Cycles walks every known name and reports reference cycles. It is a
// diagnostic; traversal already refuses to follow cyclic edges.
func (g *Graph) Cycles() []Cycle {
	var all []Cycle
	seen := make(map[string]bool)
	for _, e := range g.Entities() {
		_, cycles := g.DependentsOf(e.Name, DropOrder)
		for _, c := range cycles {
			id := canonical(c)
			if seen[id] {
				continue
			}
			seen[id] = true
			all = append(all, c)
		}
	}
	return all
}

// canonical identifies a cycle independent of where it was entered.
func canonical(c Cycle) string {
	if len(c) < 2 {
		return strings.Join(c, ",")
	}
	ring := c[:len(c)-1]
	start := 0
	for i := range ring {
		if strings.ToLower(ring[i]) < strings.ToLower(ring[start]) {
			start = i
		}
	}
	parts := make([]string, 0, len(ring))
	for i := range ring {
		parts = append(parts, strings.ToLower(ring[(start+i)%len(ring)]))
	}
	return strings.Join(parts, ",")
}
