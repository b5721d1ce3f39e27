// Package debounce coalesces bursts of file notifications into one settled
// change per path.
//
// Editors and version control tools often touch a file several times in a
// row (write temp file, rename, chmod). The Aggregator waits until the
// notifications stop for a while, then hands the collected changes to a
// single worker in the order they were first seen.
package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Change is a settled notification for one file. OldPath is set when the
// file was renamed; Path is its current location.
type Change struct {
	OldPath string `json:"old_path,omitempty"`
	Path    string `json:"path"`
}

// Config controls the quiet period.
type Config struct {
	// MinDelay is the base quiet period.
	MinDelay time.Duration
	// Step is added per notification in the current burst.
	Step time.Duration
	// MaxDelay caps the quiet period.
	MaxDelay time.Duration
}

// DefaultConfig returns the standard delays: 100ms growing by 50ms per
// notification up to 2s.
func DefaultConfig() Config {
	return Config{
		MinDelay: 100 * time.Millisecond,
		Step:     50 * time.Millisecond,
		MaxDelay: 2 * time.Second,
	}
}

// Delay returns the quiet period while pending changes are waiting.
func (c Config) Delay(pending int) time.Duration {
	d := c.MinDelay + time.Duration(pending)*c.Step
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if d < c.MinDelay {
		d = c.MinDelay
	}
	return d
}

// HandlerFunc processes one flushed batch. It is never called concurrently.
type HandlerFunc func(ctx context.Context, changes []Change)

// Aggregator collects notifications and flushes them after a quiet period.
type Aggregator struct {
	cfg     Config
	handle  HandlerFunc
	logger  logrus.FieldLogger
	in      chan Change
	done    chan struct{}
	stopped sync.Once
}

// New creates an Aggregator. Call Run to start it.
func New(cfg Config, handle HandlerFunc, logger logrus.FieldLogger) *Aggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Aggregator{
		cfg:    cfg,
		handle: handle,
		logger: logger,
		in:     make(chan Change, 256),
		done:   make(chan struct{}),
	}
}

// Notify records a change. It does not block once Run has returned.
func (a *Aggregator) Notify(c Change) {
	if c.OldPath == c.Path {
		c.OldPath = ""
	}
	select {
	case a.in <- c:
	case <-a.done:
	}
}

// Run owns the pending set until ctx is cancelled. Batches are handed to a
// single worker goroutine so a slow change never delays collecting the next
// burst. Pending changes are discarded on shutdown; Run waits for the batch
// in progress to finish.
func (a *Aggregator) Run(ctx context.Context) error {
	defer a.stopped.Do(func() { close(a.done) })

	batches := make(chan []Change, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for batch := range batches {
			a.handle(ctx, batch)
		}
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	pending := newPendingSet()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			if n := pending.len(); n > 0 {
				a.logger.Debugf("discarding %d pending changes on shutdown", n)
			}
			close(batches)
			wg.Wait()
			return nil

		case c := <-a.in:
			pending.add(c)
			delay := a.cfg.Delay(pending.len())
			timer.Reset(delay)
			a.logger.Debugf("delaying for %dms", delay.Milliseconds())

		case <-timer.C:
			batch := pending.drain()
			if len(batch) == 0 {
				continue
			}
			select {
			case batches <- batch:
			case <-ctx.Done():
			}
		}
	}
}

// pendingSet keeps one change per current path in first-seen order.
type pendingSet struct {
	order   []string
	changes map[string]*Change
}

func newPendingSet() *pendingSet {
	return &pendingSet{changes: make(map[string]*Change)}
}

func (p *pendingSet) len() int {
	return len(p.changes)
}

func (p *pendingSet) add(c Change) {
	if c.OldPath != "" {
		if prev, ok := p.changes[c.OldPath]; ok {
			// A pending file moved again: re-key it, keeping where it came
			// from originally.
			oldest := prev.OldPath
			if oldest == "" {
				oldest = c.OldPath
			}
			if oldest == c.Path {
				oldest = ""
			}
			p.remove(c.Path)
			delete(p.changes, c.OldPath)
			p.rename(c.OldPath, c.Path)
			p.changes[c.Path] = &Change{OldPath: oldest, Path: c.Path}
			return
		}
	}

	if prev, ok := p.changes[c.Path]; ok {
		if prev.OldPath == "" {
			prev.OldPath = c.OldPath
		}
		return
	}

	p.order = append(p.order, c.Path)
	p.changes[c.Path] = &Change{OldPath: c.OldPath, Path: c.Path}
}

func (p *pendingSet) remove(path string) {
	if _, ok := p.changes[path]; !ok {
		return
	}
	delete(p.changes, path)
	for i, o := range p.order {
		if o == path {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

func (p *pendingSet) rename(from, to string) {
	for i, o := range p.order {
		if o == from {
			p.order[i] = to
			return
		}
	}
}

func (p *pendingSet) drain() []Change {
	out := make([]Change, 0, len(p.order))
	for _, path := range p.order {
		out = append(out, *p.changes[path])
	}
	p.order = nil
	p.changes = make(map[string]*Change)
	return out
}
