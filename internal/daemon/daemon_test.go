package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/sqlwatch/sqlwatch/internal/change"
	"github.com/sqlwatch/sqlwatch/internal/debounce"
	"github.com/sqlwatch/sqlwatch/internal/project"
	"github.com/sqlwatch/sqlwatch/internal/sqlexec/sqlexectest"
)

// setupProject writes definition files into a temporary root and loads them.
func setupProject(t *testing.T, files map[string]string) (string, *change.Handler, *sqlexectest.Recorder) {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	logger, _ := logtest.NewNullLogger()
	p, err := project.Load(context.Background(), root, project.Options{Logger: logger})
	if err != nil {
		t.Fatalf("Failed to load project: %v", err)
	}

	rec := sqlexectest.New()
	h := change.NewHandler(p.Graph, rec, change.Options{Logger: logger})
	return p.Root, h, rec
}

func testConfig(root string) *Config {
	logger, _ := logtest.NewNullLogger()
	config := DefaultConfig()
	config.Root = root
	config.Logger = logger
	config.Debounce = debounce.Config{
		MinDelay: 30 * time.Millisecond,
		Step:     5 * time.Millisecond,
		MaxDelay: 100 * time.Millisecond,
	}
	return config
}

// startDaemon runs d in the background and stops it when the test ends.
func startDaemon(t *testing.T, d *Daemon) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(context.Background())
	}()
	t.Cleanup(func() { _ = d.Stop() })

	// Give the watcher time to register directories
	time.Sleep(100 * time.Millisecond)
	return errCh
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestNew(t *testing.T) {
	root, h, _ := setupProject(t, nil)

	tests := []struct {
		name    string
		handler *change.Handler
		config  *Config
		wantErr bool
	}{
		{name: "valid", handler: h, config: testConfig(root)},
		{name: "nil handler", handler: nil, config: testConfig(root), wantErr: true},
		{name: "empty root", handler: h, config: testConfig(""), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.handler, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && d.Dashboard() != nil {
				t.Error("Dashboard should be disabled by default")
			}
		})
	}
}

func TestDaemon_AppliesChanges(t *testing.T) {
	root, h, rec := setupProject(t, map[string]string{
		"Base.sql":     "CREATE VIEW Base AS SELECT 1 AS x",
		"Consumer.sql": "CREATE VIEW Consumer AS SELECT x FROM Base",
	})

	d, err := New(h, testConfig(root))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	newBase := "CREATE VIEW Base AS SELECT 2 AS x"
	if err := os.WriteFile(filepath.Join(root, "Base.sql"), []byte(newBase), 0o644); err != nil {
		t.Fatalf("Failed to rewrite Base.sql: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return rec.Commits() >= 1 }) {
		t.Fatalf("change was not applied; attempted: %v", rec.Attempted())
	}

	want := []string{
		"DROP VIEW dbo.Consumer",
		"DROP VIEW dbo.Base",
		newBase,
		"CREATE VIEW Consumer AS SELECT x FROM Base",
	}
	got := rec.Committed()
	if len(got) < len(want) {
		t.Fatalf("Committed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Committed[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDaemon_StopReturnsFromStart(t *testing.T) {
	root, h, _ := setupProject(t, nil)

	d, err := New(h, testConfig(root))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	errCh := startDaemon(t, d)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestDaemon_ContextCancel(t *testing.T) {
	root, h, _ := setupProject(t, nil)

	d, err := New(h, testConfig(root))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestDaemon_MissingRoot(t *testing.T) {
	_, h, _ := setupProject(t, nil)

	d, err := New(h, testConfig(filepath.Join(t.TempDir(), "missing")))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := d.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing root")
	}
}

func TestDaemon_Dashboard(t *testing.T) {
	root, h, _ := setupProject(t, map[string]string{
		"Base.sql": "CREATE VIEW Base AS SELECT 1 AS x",
	})

	config := testConfig(root)
	config.Dashboard = true
	config.DashboardPort = 0

	d, err := New(h, config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if d.Dashboard() == nil {
		t.Fatal("Dashboard should be enabled")
	}
	startDaemon(t, d)

	resp, err := http.Get("http://" + d.Dashboard().GetAddr() + "/api/entities")
	if err != nil {
		t.Fatalf("GET /api/entities: %v", err)
	}
	defer resp.Body.Close()

	var entities []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(entities) != 1 || !strings.EqualFold(entities[0]["name"].(string), "base") {
		t.Errorf("Unexpected entities %v", entities)
	}
}
