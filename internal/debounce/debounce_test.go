package debounce

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Delay(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		pending int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 150 * time.Millisecond},
		{10, 600 * time.Millisecond},
		{38, 2 * time.Second},
		{1000, 2 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Delay(tt.pending), "pending=%d", tt.pending)
	}

	negative := Config{MinDelay: 10 * time.Millisecond, Step: -time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 10*time.Millisecond, negative.Delay(5), "never below the minimum")
}

func TestPendingSet(t *testing.T) {
	tests := []struct {
		name   string
		events []Change
		want   []Change
	}{
		{
			name:   "repeated writes collapse",
			events: []Change{{Path: "a.sql"}, {Path: "a.sql"}, {Path: "a.sql"}},
			want:   []Change{{Path: "a.sql"}},
		},
		{
			name:   "first seen order",
			events: []Change{{Path: "b.sql"}, {Path: "a.sql"}, {Path: "b.sql"}, {Path: "c.sql"}},
			want:   []Change{{Path: "b.sql"}, {Path: "a.sql"}, {Path: "c.sql"}},
		},
		{
			name:   "write then rename keeps the old path",
			events: []Change{{Path: "a.sql"}, {Path: "b.sql"}, {OldPath: "a.sql", Path: "z.sql"}},
			want:   []Change{{OldPath: "a.sql", Path: "z.sql"}, {Path: "b.sql"}},
		},
		{
			name:   "chained renames keep the oldest path",
			events: []Change{{OldPath: "x.sql", Path: "a.sql"}, {OldPath: "a.sql", Path: "b.sql"}},
			want:   []Change{{OldPath: "x.sql", Path: "b.sql"}},
		},
		{
			name:   "write after rename keeps the rename",
			events: []Change{{OldPath: "a.sql", Path: "b.sql"}, {Path: "b.sql"}},
			want:   []Change{{OldPath: "a.sql", Path: "b.sql"}},
		},
		{
			name:   "rename back and forth is a plain write",
			events: []Change{{Path: "a.sql"}, {OldPath: "a.sql", Path: "b.sql"}, {OldPath: "b.sql", Path: "a.sql"}},
			want:   []Change{{Path: "a.sql"}},
		},
		{
			name:   "rename onto a pending path merges",
			events: []Change{{Path: "a.sql"}, {Path: "b.sql"}, {OldPath: "a.sql", Path: "b.sql"}},
			want:   []Change{{OldPath: "a.sql", Path: "b.sql"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPendingSet()
			for _, e := range tt.events {
				p.add(e)
			}
			assert.Equal(t, tt.want, p.drain())
			assert.Equal(t, 0, p.len())
		})
	}
}

type collector struct {
	mu      sync.Mutex
	batches [][]Change
	ch      chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 16)}
}

func (c *collector) handle(_ context.Context, batch []Change) {
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a batch")
	}
}

func (c *collector) snapshot() [][]Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Change(nil), c.batches...)
}

func testConfig() Config {
	return Config{MinDelay: 30 * time.Millisecond, Step: 5 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
}

func startAggregator(t *testing.T, c *collector) *Aggregator {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	agg := New(testConfig(), c.handle, logger)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- agg.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})
	return agg
}

func TestAggregator_CoalescesBurst(t *testing.T) {
	c := newCollector()
	agg := startAggregator(t, c)

	for i := 0; i < 5; i++ {
		agg.Notify(Change{Path: "a.sql"})
	}
	agg.Notify(Change{Path: "b.sql"})
	agg.Notify(Change{OldPath: "a.sql", Path: "c.sql"})

	c.wait(t)
	batches := c.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []Change{{OldPath: "a.sql", Path: "c.sql"}, {Path: "b.sql"}}, batches[0])
}

func TestAggregator_DelayFollowsPendingChanges(t *testing.T) {
	c := newCollector()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	agg := New(testConfig(), c.handle, logger)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- agg.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})

	// Repeated writes to one file do not stretch the quiet period.
	for i := 0; i < 20; i++ {
		agg.Notify(Change{Path: "a.sql"})
	}
	c.wait(t)

	var delays []string
	for _, entry := range hook.AllEntries() {
		if strings.HasPrefix(entry.Message, "delaying for") {
			delays = append(delays, entry.Message)
		}
	}
	require.NotEmpty(t, delays)
	for _, d := range delays {
		assert.Equal(t, "delaying for 35ms", d)
	}
	assert.Equal(t, []Change{{Path: "a.sql"}}, c.snapshot()[0])
}

func TestAggregator_SeparateBursts(t *testing.T) {
	c := newCollector()
	agg := startAggregator(t, c)

	agg.Notify(Change{Path: "a.sql"})
	c.wait(t)
	agg.Notify(Change{Path: "a.sql"})
	c.wait(t)

	batches := c.snapshot()
	require.Len(t, batches, 2)
	assert.Equal(t, []Change{{Path: "a.sql"}}, batches[1])
}

func TestAggregator_IdenticalPathsIsAWrite(t *testing.T) {
	c := newCollector()
	agg := startAggregator(t, c)

	agg.Notify(Change{OldPath: "a.sql", Path: "a.sql"})
	c.wait(t)

	assert.Equal(t, []Change{{Path: "a.sql"}}, c.snapshot()[0])
}

func TestAggregator_NotifyAfterStopDoesNotBlock(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	agg := New(testConfig(), func(context.Context, []Change) {}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, agg.Run(ctx))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			agg.Notify(Change{Path: "a.sql"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked after Run returned")
	}
}
