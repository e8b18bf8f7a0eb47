package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

// SimConfig shapes the behavior of the in-process simulator.
type SimConfig struct {
	// Latency is the simulated work time per exchange.
	Latency time.Duration
	// FailFirst maps a unit ID to a number of attempts that fail with a
	// retryable backend error before the unit starts succeeding.
	FailFirst map[string]int
	// Hang lists unit IDs whose exchanges block until the context expires.
	Hang map[string]bool
	// Unavailable makes every Open fail as if the backend were down.
	Unavailable bool
	// Output generates the result text. Defaults to a short summary line.
	Output func(unitID, prompt string) string
}

// SimBackend is a deterministic in-process backend used by dry runs and
// tests. It never talks to the network.
type SimBackend struct {
	cfg SimConfig

	mu       sync.Mutex
	attempts map[string]int
	open     int
	maxOpen  int
}

var _ Backend = (*SimBackend)(nil)

// NewSim creates a simulator backend.
func NewSim(cfg SimConfig) *SimBackend {
	return &SimBackend{cfg: cfg, attempts: make(map[string]int)}
}

// Name identifies the backend kind.
func (b *SimBackend) Name() string { return "sim" }

// Close releases backend-level resources. The simulator holds none.
func (b *SimBackend) Close() error { return nil }

// Open creates a simulated session and tracks how many are open at once.
func (b *SimBackend) Open(ctx context.Context, opts OpenOptions) (Session, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if b.cfg.Unavailable {
		return nil, fmt.Errorf("simulated outage: %w", ErrUnavailable)
	}
	b.mu.Lock()
	b.open++
	if b.open > b.maxOpen {
		b.maxOpen = b.open
	}
	b.mu.Unlock()
	return &simSession{backend: b, opts: opts}, nil
}

// MaxOpen reports the highest number of sessions open at the same time.
func (b *SimBackend) MaxOpen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxOpen
}

// Attempts reports how many exchanges ran for the given unit.
func (b *SimBackend) Attempts(unitID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[unitID]
}

func (b *SimBackend) sessionClosed() {
	b.mu.Lock()
	b.open--
	b.mu.Unlock()
}

// nextAttempt bumps the attempt counter for a unit and reports whether this
// attempt should fail.
func (b *SimBackend) nextAttempt(unitID string) (attempt int, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[unitID]++
	attempt = b.attempts[unitID]
	return attempt, attempt <= b.cfg.FailFirst[unitID]
}

type simSession struct {
	backend *SimBackend
	opts    OpenOptions

	mu        sync.Mutex
	cancel    context.CancelFunc
	closed    bool
	closeOnce sync.Once
}

var _ Session = (*simSession)(nil)

// Send runs one simulated exchange.
func (s *simSession) Send(ctx context.Context, prompt string) (<-chan Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session closed")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		defer cancel()

		if s.backend.cfg.Hang[s.opts.UnitID] {
			<-ctx.Done()
			return
		}

		if s.backend.cfg.Latency > 0 {
			timer := time.NewTimer(s.backend.cfg.Latency)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}

		attempt, fail := s.backend.nextAttempt(s.opts.UnitID)
		if fail {
			events <- Event{
				Type:  EventError,
				Err:   fmt.Sprintf("simulated failure on attempt %d", attempt),
				Class: models.ErrorClassBackendError,
			}
			return
		}

		text := fmt.Sprintf("simulated result for %s", s.opts.UnitID)
		if s.backend.cfg.Output != nil {
			text = s.backend.cfg.Output(s.opts.UnitID, prompt)
		}
		tokensIn := int64(len(prompt) / 4)
		tokensOut := int64(len(text) / 4)
		events <- Event{Type: EventChunk, Text: text}
		events <- Event{
			Type:      EventResult,
			Text:      text,
			TokensIn:  tokensIn,
			TokensOut: tokensOut,
			Cost:      EstimateCost(tokensIn, tokensOut),
		}
	}()

	return events, nil
}

// Cancel aborts the in-flight exchange, if any.
func (s *simSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Close marks the session closed and releases its slot in the gauge.
func (s *simSession) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.closeOnce.Do(s.backend.sessionClosed)
	return nil
}
