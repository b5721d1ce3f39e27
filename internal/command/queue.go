package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sqlwatch/sqlwatch/internal/graph"
	"github.com/sqlwatch/sqlwatch/internal/sqlexec"
)

// CriticalError reports the command that aborted a change. The transaction
// has already been rolled back when it is returned.
type CriticalError struct {
	Command string
	Err     error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *CriticalError) Unwrap() error {
	return e.Err
}

// Summary describes a successful run.
type Summary struct {
	Executed  []string
	Skipped   []string
	Mutations []Mutation
}

// Apply runs the collected mutations against g in command order.
func (s *Summary) Apply(g *graph.Graph) {
	for _, m := range s.Mutations {
		m(g)
	}
}

// Queue is an ordered list of commands for one transaction.
type Queue struct {
	commands []Command
	logger   logrus.FieldLogger
}

// NewQueue returns an empty queue.
func NewQueue(logger logrus.FieldLogger) *Queue {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Queue{logger: logger}
}

// Push appends commands to the queue.
func (q *Queue) Push(cmds ...Command) {
	q.commands = append(q.commands, cmds...)
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	return len(q.commands)
}

// Commands returns the queued commands as display strings.
func (q *Queue) Commands() []string {
	out := make([]string, 0, len(q.commands))
	for _, c := range q.commands {
		out = append(out, c.String())
	}
	return out
}

// Run executes the queue in order against tx. The first critical error rolls
// tx back and is returned as a *CriticalError; nothing after it runs. On
// success tx is left open for the caller to commit, and the mutations to
// apply after the commit are returned.
func (q *Queue) Run(ctx context.Context, tx sqlexec.Tx) (*Summary, error) {
	summary := &Summary{}
	for _, cmd := range q.commands {
		if err := ctx.Err(); err != nil {
			q.rollback(tx)
			return nil, &CriticalError{Command: cmd.String(), Err: err}
		}

		res, err := cmd.Apply(ctx, tx)
		if err != nil {
			q.logger.WithError(err).Errorf("%s failed, rolling back", cmd)
			q.rollback(tx)
			return nil, &CriticalError{Command: cmd.String(), Err: err}
		}

		if res.Skipped {
			q.logger.Debugf("%s skipped: object does not exist", cmd)
			summary.Skipped = append(summary.Skipped, cmd.String())
		} else {
			if _, ok := cmd.(*lambdaCommand); !ok {
				q.logger.Info(pastTense(cmd.String()))
			}
			summary.Executed = append(summary.Executed, cmd.String())
		}
		summary.Mutations = append(summary.Mutations, res.Mutations...)
	}
	return summary, nil
}

func (q *Queue) rollback(tx sqlexec.Tx) {
	if err := tx.Rollback(); err != nil {
		q.logger.WithError(err).Error("rollback failed")
	}
}

// pastTense turns "drop view v" into "dropped view v" for log lines.
func pastTense(s string) string {
	if rest, ok := strings.CutPrefix(s, "drop "); ok {
		return "dropped " + rest
	}
	if rest, ok := strings.CutPrefix(s, "create "); ok {
		return "created " + rest
	}
	return s
}
