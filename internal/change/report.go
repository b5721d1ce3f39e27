package change

import (
	"fmt"
	"strings"
	"time"
)

// Outcome classifies how a change ended.
type Outcome string

const (
	// Applied means the planned commands ran and were committed.
	Applied Outcome = "applied"
	// FakeUpdate means the file content was identical to what is deployed.
	FakeUpdate Outcome = "fake_update"
	// Moved means a file was renamed without changing its object.
	Moved Outcome = "moved"
	// Skipped means there was nothing to do, or the file could not be read.
	Skipped Outcome = "skipped"
	// Aborted means the change was refused before touching the database.
	Aborted Outcome = "aborted"
	// Failed means the transaction was rolled back.
	Failed Outcome = "failed"
)

// Report describes one handled change.
type Report struct {
	Path     string        `json:"path"`
	OldPath  string        `json:"old_path,omitempty"`
	Name     string        `json:"name,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Planned  []string      `json:"planned,omitempty"`
	Executed []string      `json:"executed,omitempty"`
	Skipped  []string      `json:"skipped,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

func (r *Report) finish(outcome Outcome, err error) *Report {
	r.Outcome = outcome
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
	r.Duration = time.Since(r.Started)
	return r
}

// DependentsError refuses to delete an object that others still use.
type DependentsError struct {
	Entity     string
	Dependents []string
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("%s was deleted but is still used by %s", e.Entity, strings.Join(e.Dependents, ", "))
}
