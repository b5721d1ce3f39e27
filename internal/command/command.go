// Package command models the SQL steps of one change as a queue of commands.
//
// Commands never touch the dependency graph directly. Each successful command
// returns the graph mutations it implies, and the caller applies them only
// after the transaction commits, so a rolled back change leaves the graph as
// it was.
package command

import (
	"context"
	"fmt"

	"github.com/sqlwatch/sqlwatch/internal/entity"
	"github.com/sqlwatch/sqlwatch/internal/graph"
	"github.com/sqlwatch/sqlwatch/internal/sqlexec"
)

// Mutation is a deferred change to the in-memory graph.
type Mutation func(*graph.Graph)

// Result is what a command produced.
type Result struct {
	Mutations []Mutation
	// Skipped is set when the statement had nothing to do, such as dropping
	// an object that is already gone.
	Skipped bool
}

// Command is one step of a change.
type Command interface {
	Apply(ctx context.Context, tx sqlexec.Tx) (Result, error)
	String() string
}

// Drop returns a command that drops e from schema. A missing object is not
// an error; the graph is updated either way.
func Drop(e *entity.Entity, schema string) Command {
	return &dropCommand{entity: e, schema: schema}
}

// Create returns a command that executes e's definition verbatim.
func Create(e *entity.Entity) Command {
	return &createCommand{entity: e}
}

// Lambda returns a command that runs no SQL and only carries fn, for graph
// changes that must wait for the commit. Drop and Create return their own
// mutations and do not use it.
func Lambda(name string, fn Mutation) Command {
	return &lambdaCommand{name: name, fn: fn}
}

type dropCommand struct {
	entity *entity.Entity
	schema string
}

func (c *dropCommand) Apply(ctx context.Context, tx sqlexec.Tx) (Result, error) {
	e := c.entity
	remove := func(g *graph.Graph) { g.Remove(e) }

	err := tx.Exec(ctx, e.DropStatement(c.schema))
	switch {
	case err == nil:
		return Result{Mutations: []Mutation{remove}}, nil
	case sqlexec.IsObjectNotExist(err):
		return Result{Mutations: []Mutation{remove}, Skipped: true}, nil
	default:
		return Result{}, err
	}
}

func (c *dropCommand) String() string {
	return "drop " + c.entity.String()
}

type createCommand struct {
	entity *entity.Entity
}

func (c *createCommand) Apply(ctx context.Context, tx sqlexec.Tx) (Result, error) {
	e := c.entity
	if e.Kind == entity.Unknown {
		return Result{}, fmt.Errorf("cannot create %s: no object definition found", e.Path)
	}
	if err := tx.Exec(ctx, e.Content); err != nil {
		return Result{}, err
	}
	return Result{Mutations: []Mutation{func(g *graph.Graph) { g.Upsert(e) }}}, nil
}

func (c *createCommand) String() string {
	return "create " + c.entity.String()
}

type lambdaCommand struct {
	name string
	fn   Mutation
}

func (c *lambdaCommand) Apply(context.Context, sqlexec.Tx) (Result, error) {
	return Result{Mutations: []Mutation{c.fn}}, nil
}

func (c *lambdaCommand) String() string {
	return c.name
}
