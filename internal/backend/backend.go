// Package backend abstracts the execution backends that perform the actual
// work for a unit. A backend opens sessions; a session accepts one prompt at
// a time and streams events back. Implementations exist for the Anthropic
// API, an external command, and an in-process simulator.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/kmorand/ensemble/pkg/models"
)

// ErrUnavailable indicates the backend could not be reached or refused to
// open a session. Failures wrapping it classify as backend_unavailable.
var ErrUnavailable = errors.New("backend unavailable")

// eventBuffer sizes session event channels so producers rarely block.
const eventBuffer = 100

// EventType represents the type of event streamed from a session.
type EventType string

const (
	// EventChunk carries partial output text.
	EventChunk EventType = "chunk"
	// EventResult carries the final output and usage for an exchange.
	EventResult EventType = "result"
	// EventError carries a failure that terminated the exchange.
	EventError EventType = "error"
)

// Event is one streamed item from a session exchange.
type Event struct {
	// Type is the event type.
	Type EventType `json:"type"`
	// Text is the chunk text, or the full output on a result event.
	Text string `json:"text,omitempty"`
	// Err contains error details when Type is EventError.
	Err string `json:"error,omitempty"`
	// Class optionally refines an error event. Empty means backend_error.
	Class models.ErrorClass `json:"class,omitempty"`
	// TokensIn is the input token count, set on result events when known.
	TokensIn int64 `json:"tokens_in,omitempty"`
	// TokensOut is the output token count, set on result events when known.
	TokensOut int64 `json:"tokens_out,omitempty"`
	// Cost is the estimated USD cost of the exchange, set on result events
	// when the backend can price its usage.
	Cost float64 `json:"cost,omitempty"`
	// Raw contains the original payload for debugging.
	Raw json.RawMessage `json:"-"`
}

// EstimateCost prices one exchange in USD at current Sonnet rates.
func EstimateCost(tokensIn, tokensOut int64) float64 {
	return float64(tokensIn)/1_000_000*3.0 + float64(tokensOut)/1_000_000*15.0
}

// OpenOptions carries per-session parameters.
type OpenOptions struct {
	// UnitID is the work unit the session serves.
	UnitID string
	// Role tags the kind of worker the unit asked for.
	Role string
	// WorkDir is the isolated workspace the session should operate in.
	// Empty means the backend's default directory.
	WorkDir string
}

// Session is one open execution context against a backend.
type Session interface {
	// Send submits a prompt. Events arrive on the returned channel, which
	// is closed when the exchange finishes or fails. A session handles one
	// exchange at a time.
	Send(ctx context.Context, prompt string) (<-chan Event, error)
	// Cancel aborts the in-flight exchange, if any.
	Cancel()
	// Close releases the session.
	Close() error
}

// Backend opens execution sessions.
type Backend interface {
	// Open creates a session. It must tolerate the backend being down and
	// surface that as an error wrapping ErrUnavailable.
	Open(ctx context.Context, opts OpenOptions) (Session, error)
	// Name identifies the backend kind ("anthropic", "script", "sim").
	Name() string
	// Close releases backend-level resources.
	Close() error
}

// Classify maps an execution failure to its error class. Context expiry is
// checked first so a timeout or cancellation is never mistaken for a backend
// fault.
func Classify(err error) models.ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorClassTimeout
	case errors.Is(err, context.Canceled):
		return models.ErrorClassCancelled
	case errors.Is(err, ErrUnavailable):
		return models.ErrorClassBackendUnavailable
	default:
		return models.ErrorClassBackendError
	}
}

// TokenTracker accumulates token usage across sessions of one backend.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from one exchange.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of exchanges tracked.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Cost estimates the tracked usage in USD.
func (t *TokenTracker) Cost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return EstimateCost(t.inputTok, t.outputTok)
}
