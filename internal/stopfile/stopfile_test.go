package stopfile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestWatch_FileCreated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "STOP")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logger, func() { close(stopped) })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-stopped:
	case <-ctx.Done():
		t.Fatal("stop not triggered")
	}
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stop file should be consumed")
	}
}

func TestWatch_PresentAtStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "STOP")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	called := false
	if err := Watch(context.Background(), path, logger, func() { called = true }); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if !called {
		t.Error("onStop not called for pre-existing file")
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	called := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, filepath.Join(dir, "STOP"), logger, func() { called <- struct{}{} })
	}()

	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0o644)
	time.Sleep(100 * time.Millisecond)
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
	select {
	case <-called:
		t.Error("onStop called for unrelated file")
	default:
	}
}

func TestWatch_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "STOP")
	if err := Watch(context.Background(), path, logger, func() {}); err == nil {
		t.Error("expected error for missing directory")
	}
}
