package worker

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kmorand/ensemble/internal/backend"
	"github.com/kmorand/ensemble/internal/workspace"
	"github.com/kmorand/ensemble/pkg/models"
)

// recordingStrategy wraps another strategy and remembers what it handed out.
type recordingStrategy struct {
	workspace.Strategy

	mu       sync.Mutex
	created  []*workspace.Workspace
	released []*workspace.Workspace
}

func (r *recordingStrategy) Create(unitID string) (*workspace.Workspace, error) {
	ws, err := r.Strategy.Create(unitID)
	if err == nil {
		r.mu.Lock()
		r.created = append(r.created, ws)
		r.mu.Unlock()
	}
	return ws, err
}

func (r *recordingStrategy) Cleanup(ws *workspace.Workspace) error {
	r.mu.Lock()
	r.released = append(r.released, ws)
	r.mu.Unlock()
	return r.Strategy.Cleanup(ws)
}

func newTestWorker(t *testing.T, b backend.Backend) (*Worker, *recordingStrategy) {
	t.Helper()
	strat := &recordingStrategy{Strategy: workspace.NewTempDir(t.TempDir())}
	return New(Config{Backend: b, Workspace: strat}), strat
}

func unit(id string) *models.WorkUnit {
	return &models.WorkUnit{ID: id, Title: id, Prompt: "do " + id}
}

func TestRunSucceeds(t *testing.T) {
	w, strat := newTestWorker(t, backend.NewSim(backend.SimConfig{}))

	res := w.Run(context.Background(), unit("u1"))

	if !res.Success {
		t.Fatalf("Run() failed: %s (%s)", res.Error, res.Class)
	}
	if res.Output != "simulated result for u1" {
		t.Errorf("output = %q", res.Output)
	}
	if res.WorkspacePath == "" {
		t.Error("workspace path not recorded")
	}
	if res.Duration <= 0 {
		t.Error("duration not recorded")
	}
	if len(strat.created) != 1 || len(strat.released) != 1 {
		t.Errorf("workspace created %d times, released %d times, want 1 and 1",
			len(strat.created), len(strat.released))
	}
}

func TestRunBackendFailure(t *testing.T) {
	w, _ := newTestWorker(t, backend.NewSim(backend.SimConfig{
		FailFirst: map[string]int{"u1": 1},
	}))

	res := w.Run(context.Background(), unit("u1"))

	if res.Success {
		t.Fatal("Run() succeeded, want failure")
	}
	if res.Class != models.ErrorClassBackendError {
		t.Errorf("class = %q, want %q", res.Class, models.ErrorClassBackendError)
	}
	if !strings.Contains(res.Error, "simulated failure") {
		t.Errorf("error = %q, want simulated failure detail", res.Error)
	}
}

func TestRunTimesOut(t *testing.T) {
	b := backend.NewSim(backend.SimConfig{Hang: map[string]bool{"u1": true}})
	strat := &recordingStrategy{Strategy: workspace.NewTempDir(t.TempDir())}
	w := New(Config{Backend: b, Workspace: strat, Timeout: 30 * time.Millisecond})

	res := w.Run(context.Background(), unit("u1"))

	if res.Success {
		t.Fatal("Run() succeeded, want timeout")
	}
	if res.Class != models.ErrorClassTimeout {
		t.Errorf("class = %q, want %q", res.Class, models.ErrorClassTimeout)
	}
	if len(strat.released) != 1 {
		t.Errorf("workspace released %d times after timeout, want 1", len(strat.released))
	}
}

func TestRunCancelled(t *testing.T) {
	w, _ := newTestWorker(t, backend.NewSim(backend.SimConfig{Hang: map[string]bool{"u1": true}}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := w.Run(ctx, unit("u1"))

	if res.Success {
		t.Fatal("Run() succeeded, want cancellation")
	}
	if res.Class != models.ErrorClassCancelled {
		t.Errorf("class = %q, want %q", res.Class, models.ErrorClassCancelled)
	}
}

func TestRunBackendUnavailable(t *testing.T) {
	w, _ := newTestWorker(t, backend.NewSim(backend.SimConfig{Unavailable: true}))

	res := w.Run(context.Background(), unit("u1"))

	if res.Success {
		t.Fatal("Run() succeeded, want failure")
	}
	if res.Class != models.ErrorClassBackendUnavailable {
		t.Errorf("class = %q, want %q", res.Class, models.ErrorClassBackendUnavailable)
	}
}

func TestRunCleansUpTempWorkspace(t *testing.T) {
	w, strat := newTestWorker(t, backend.NewSim(backend.SimConfig{}))

	res := w.Run(context.Background(), unit("u1"))

	if len(strat.created) != 1 {
		t.Fatalf("workspace created %d times, want 1", len(strat.created))
	}
	if _, err := os.Stat(strat.created[0].Path); !os.IsNotExist(err) {
		t.Errorf("workspace %s still exists after run", res.WorkspacePath)
	}
}

func TestRunReportsProgress(t *testing.T) {
	b := backend.NewSim(backend.SimConfig{})
	strat := workspace.NewTempDir(t.TempDir())

	var mu sync.Mutex
	var chunks []string
	w := New(Config{
		Backend:   b,
		Workspace: strat,
		OnProgress: func(unitID, text string) {
			mu.Lock()
			chunks = append(chunks, text)
			mu.Unlock()
		},
	})

	if res := w.Run(context.Background(), unit("u1")); !res.Success {
		t.Fatalf("Run() failed: %s", res.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(chunks) == 0 {
		t.Error("no progress chunks reported")
	}
}
