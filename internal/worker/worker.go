// Package worker runs a single unit of work end to end: acquire a
// workspace, open a backend session, stream the exchange, and dispose of
// everything afterwards. Disposal is deferred so it happens on every path,
// including timeouts and cancellation.
package worker

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/kmorand/ensemble/internal/backend"
	"github.com/kmorand/ensemble/internal/workspace"
	"github.com/kmorand/ensemble/pkg/models"
)

// Config holds the collaborators a worker needs.
type Config struct {
	// Backend executes the unit's prompt.
	Backend backend.Backend
	// Workspace provides the isolated directory the unit runs in.
	Workspace workspace.Strategy
	// Timeout bounds a single attempt. Zero means no per-unit timeout.
	Timeout time.Duration
	// OnProgress, when set, receives partial output as it streams in.
	OnProgress func(unitID, text string)
}

// Worker executes units. It holds no per-unit state, so one worker may run
// attempts for different units concurrently.
type Worker struct {
	cfg Config
}

// New creates a worker.
func New(cfg Config) *Worker {
	return &Worker{cfg: cfg}
}

// Run executes one attempt for the unit and always returns a non-nil
// result. Failures are reported through the result's error class rather
// than an error return so callers apply one retry policy to every kind of
// fault.
func (w *Worker) Run(ctx context.Context, unit *models.WorkUnit) *models.ExecutionResult {
	start := time.Now()
	res := &models.ExecutionResult{UnitID: unit.ID}
	if m, ok := w.cfg.Backend.(interface{ Model() string }); ok {
		res.Model = m.Model()
	}

	fail := func(class models.ErrorClass, msg string) *models.ExecutionResult {
		res.Success = false
		res.Class = class
		res.Error = msg
		res.Duration = time.Since(start)
		return res
	}

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	ws, err := w.cfg.Workspace.Create(unit.ID)
	if err != nil {
		return fail(backend.Classify(err), "create workspace: "+err.Error())
	}
	defer func() {
		if changed, err := w.cfg.Workspace.Changes(ws); err != nil {
			log.Printf("[worker] unit %s: listing workspace changes failed: %v", unit.ID, err)
		} else {
			res.FilesChanged = changed
		}
		if err := w.cfg.Workspace.Cleanup(ws); err != nil {
			log.Printf("[worker] unit %s: workspace cleanup failed: %v", unit.ID, err)
		}
	}()
	res.WorkspacePath = ws.Path

	sess, err := w.cfg.Backend.Open(ctx, backend.OpenOptions{
		UnitID:  unit.ID,
		Role:    unit.Role,
		WorkDir: ws.Path,
	})
	if err != nil {
		return fail(backend.Classify(err), "open session: "+err.Error())
	}
	defer sess.Close()

	events, err := sess.Send(ctx, unit.Prompt)
	if err != nil {
		return fail(backend.Classify(err), "send prompt: "+err.Error())
	}

	var output strings.Builder
	var final *backend.Event
	for {
		select {
		case <-ctx.Done():
			sess.Cancel()
			return fail(backend.Classify(ctx.Err()), "attempt interrupted: "+ctx.Err().Error())
		case ev, ok := <-events:
			if !ok {
				return w.collect(res, start, ctx, &output, final)
			}
			switch ev.Type {
			case backend.EventChunk:
				output.WriteString(ev.Text)
				if w.cfg.OnProgress != nil {
					w.cfg.OnProgress(unit.ID, ev.Text)
				}
			case backend.EventResult:
				result := ev
				final = &result
			case backend.EventError:
				class := ev.Class
				if class == "" {
					class = models.ErrorClassBackendError
				}
				return fail(class, ev.Err)
			}
		}
	}
}

// collect settles the result once the event stream has closed.
func (w *Worker) collect(res *models.ExecutionResult, start time.Time, ctx context.Context, output *strings.Builder, final *backend.Event) *models.ExecutionResult {
	res.Duration = time.Since(start)

	if final == nil {
		res.Success = false
		if err := ctx.Err(); err != nil {
			res.Class = backend.Classify(err)
			res.Error = "attempt interrupted: " + err.Error()
		} else {
			res.Class = models.ErrorClassBackendError
			res.Error = "stream ended without a result"
		}
		return res
	}

	res.Success = true
	res.Output = final.Text
	if res.Output == "" {
		res.Output = output.String()
	}
	res.TokensUsed = final.TokensIn + final.TokensOut
	res.Cost = final.Cost
	return res
}
