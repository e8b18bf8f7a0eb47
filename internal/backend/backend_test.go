package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/kmorand/ensemble/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorClass
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, models.ErrorClassTimeout},
		{"wrapped deadline", fmt.Errorf("unit timed out: %w", context.DeadlineExceeded), models.ErrorClassTimeout},
		{"cancelled", context.Canceled, models.ErrorClassCancelled},
		{"unavailable", fmt.Errorf("no route: %w", ErrUnavailable), models.ErrorClassBackendUnavailable},
		{"generic", errors.New("boom"), models.ErrorClassBackendError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestTokenTrackerAccumulates(t *testing.T) {
	tracker := NewTokenTracker()
	tracker.Add(100, 50)
	tracker.Add(200, 150)

	in, out := tracker.Total()
	if in != 300 || out != 200 {
		t.Errorf("Total() = (%d, %d), want (300, 200)", in, out)
	}
	if got := tracker.Calls(); got != 2 {
		t.Errorf("Calls() = %d, want 2", got)
	}
}

func TestTokenTrackerCost(t *testing.T) {
	tracker := NewTokenTracker()
	tracker.Add(1_000_000, 1_000_000)

	want := 3.0 + 15.0
	if got := tracker.Cost(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Cost() = %f, want %f", got, want)
	}
}
