package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ScriptConfig holds the settings for the external command backend.
type ScriptConfig struct {
	// Command is the argv to run per exchange. The prompt is appended as
	// the final argument. The command runs in the session's workspace and
	// may emit NDJSON events on stdout ({"type":"chunk","text":...},
	// {"type":"result",...}, {"type":"error",...}). Plain text lines are
	// treated as chunks, and a clean exit without a result event yields
	// the accumulated output as the result.
	Command []string
}

// ScriptBackend executes units by running an external command per exchange.
type ScriptBackend struct {
	command []string
}

var _ Backend = (*ScriptBackend)(nil)

// NewScript creates a script backend. It verifies the command exists up
// front so a missing binary surfaces as unavailable rather than as a
// per-unit failure.
func NewScript(cfg ScriptConfig) (*ScriptBackend, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("script backend: command is empty")
	}
	if _, err := exec.LookPath(cfg.Command[0]); err != nil {
		return nil, fmt.Errorf("command %q not found: %w", cfg.Command[0], ErrUnavailable)
	}
	return &ScriptBackend{command: cfg.Command}, nil
}

// Name identifies the backend kind.
func (b *ScriptBackend) Name() string { return "script" }

// Close releases backend-level resources. The script backend holds none.
func (b *ScriptBackend) Close() error { return nil }

// Open creates a session bound to the given unit.
func (b *ScriptBackend) Open(ctx context.Context, opts OpenOptions) (Session, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &scriptSession{command: b.command, opts: opts}, nil
}

// scriptSession runs one command per exchange and streams its NDJSON
// output as events.
type scriptSession struct {
	command []string
	opts    OpenOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

var _ Session = (*scriptSession)(nil)

// Send starts the command with the prompt as its final argument and streams
// parsed stdout lines on the returned channel. The channel closes after the
// process exits.
func (s *scriptSession) Send(ctx context.Context, prompt string) (<-chan Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("session closed")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	args := append(append([]string{}, s.command[1:]...), prompt)
	cmd := exec.CommandContext(ctx, s.command[0], args...)
	cmd.Dir = s.opts.WorkDir
	cmd.Env = append(os.Environ(),
		"ENSEMBLE_UNIT_ID="+s.opts.UnitID,
		"ENSEMBLE_ROLE="+s.opts.Role,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %q: %w", s.command[0], ErrUnavailable)
	}

	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		defer cancel()

		var output strings.Builder
		sawTerminal := false

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			ev := parseScriptLine(line)
			switch ev.Type {
			case EventChunk:
				output.WriteString(ev.Text)
			case EventResult, EventError:
				sawTerminal = true
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}

		waitErr := cmd.Wait()
		if ctx.Err() != nil {
			return
		}
		if waitErr != nil {
			msg := fmt.Sprintf("command exited: %v", waitErr)
			if errOut := strings.TrimSpace(stderr.String()); errOut != "" {
				msg += ": " + errOut
			}
			events <- Event{Type: EventError, Err: msg}
			return
		}
		if !sawTerminal {
			events <- Event{Type: EventResult, Text: output.String()}
		}
	}()

	return events, nil
}

// parseScriptLine decodes one stdout line. Lines that are not valid event
// JSON pass through as chunk text so plain commands work unmodified.
func parseScriptLine(line string) Event {
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err == nil {
		switch ev.Type {
		case EventChunk, EventResult, EventError:
			ev.Raw = json.RawMessage(line)
			return ev
		}
	}
	return Event{Type: EventChunk, Text: line + "\n"}
}

// Cancel kills the in-flight command, if any.
func (s *scriptSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Close marks the session closed and kills any in-flight command.
func (s *scriptSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
