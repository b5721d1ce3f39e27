// Package sqlexectest provides an in-memory transactional backend that
// records statements, for tests of code that drives sqlexec.
package sqlexectest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sqlwatch/sqlwatch/internal/sqlexec"
)

// Recorder implements sqlexec.Beginner. Statements executed in committed
// transactions are kept in Committed; every statement ever attempted is
// kept in Attempted.
type Recorder struct {
	mu sync.Mutex

	// Fail maps a statement prefix (case-insensitive) to the error Exec returns.
	Fail map[string]error
	// BeginErr, when set, is returned by Begin.
	BeginErr error

	attempted []string
	committed []string
	rollbacks int
	commits   int
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{Fail: make(map[string]error)}
}

// FailOn makes statements starting with prefix fail with err.
func (r *Recorder) FailOn(prefix string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail[strings.ToLower(prefix)] = err
}

// Missing makes statements starting with prefix fail as a missing object.
func (r *Recorder) Missing(prefix string) {
	r.FailOn(prefix, fmt.Errorf("%w: Cannot drop it, because it does not exist", sqlexec.ErrObjectNotExist))
}

// Begin starts a recorded transaction.
func (r *Recorder) Begin(ctx context.Context) (sqlexec.Tx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.BeginErr != nil {
		return nil, r.BeginErr
	}
	return &tx{r: r}, nil
}

// Attempted returns every statement passed to Exec, in order.
func (r *Recorder) Attempted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.attempted...)
}

// Committed returns the successful statements of committed transactions.
func (r *Recorder) Committed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.committed...)
}

// Commits returns the number of committed transactions.
func (r *Recorder) Commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}

// Rollbacks returns the number of rolled back transactions.
func (r *Recorder) Rollbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollbacks
}

type tx struct {
	r       *Recorder
	pending []string
	done    bool
}

func (t *tx) Exec(ctx context.Context, stmt string) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.r.attempted = append(t.r.attempted, stmt)
	lower := strings.ToLower(stmt)
	for prefix, err := range t.r.Fail {
		if strings.HasPrefix(lower, prefix) {
			return err
		}
	}
	t.pending = append(t.pending, stmt)
	return nil
}

func (t *tx) Commit() error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.r.commits++
	t.r.committed = append(t.r.committed, t.pending...)
	return nil
}

func (t *tx) Rollback() error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.r.rollbacks++
	return nil
}
