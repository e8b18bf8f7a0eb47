package orchestrator

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatchInstructionsInjectsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instructions.txt")
	if err := os.WriteFile(path, []byte("initial content\n"), 0644); err != nil {
		t.Fatalf("writing initial file: %v", err)
	}

	var mu sync.Mutex
	var injected []string
	w, err := WatchInstructions(path, func(s string) error {
		mu.Lock()
		injected = append(injected, s)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("WatchInstructions() error: %v", err)
	}
	defer w.Close()

	// Content present at startup is treated as already seen.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	if len(injected) != 0 {
		t.Fatalf("initial content was injected: %v", injected)
	}
	mu.Unlock()

	if err := os.WriteFile(path, []byte("focus on error handling\n"), 0644); err != nil {
		t.Fatalf("updating file: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(injected)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for injection")
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if injected[0] != "focus on error handling" {
		t.Errorf("injected = %q, want trimmed file content", injected[0])
	}
}

func TestWatchInstructionsIgnoresUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")

	var mu sync.Mutex
	count := 0
	w, err := WatchInstructions(path, func(string) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("WatchInstructions() error: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("same thing"), 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := count
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for first injection")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Rewriting identical content must not inject again.
	if err := os.WriteFile(path, []byte("same thing"), 0644); err != nil {
		t.Fatalf("rewriting file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("injected %d times, want 1", count)
	}
}

func TestWatchInstructionsCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := WatchInstructions(filepath.Join(dir, "f.txt"), func(string) error { return nil })
	if err != nil {
		t.Fatalf("WatchInstructions() error: %v", err)
	}
	w.Close()
	w.Close()
}
