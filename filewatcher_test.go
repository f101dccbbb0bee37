package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileWatcherReportsChanges(t *testing.T) {
	old := DebounceDelay
	DebounceDelay = 50 * time.Millisecond
	t.Cleanup(func() { DebounceDelay = old })

	path := filepath.Join(t.TempDir(), "prog.bf")
	require.NoError(t, os.WriteFile(path, []byte("+"), 0o644))

	changed := make(chan string, 4)
	fw, err := NewFileWatcher(func(p string) { changed <- p })
	require.NoError(t, err)
	defer fw.Close()
	require.NoError(t, fw.AddFile(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Watch(ctx) }()

	// modification times can have a coarse resolution
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("++"), 0o644))

	select {
	case p := <-changed:
		abs, _ := filepath.Abs(path)
		require.Equal(t, abs, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}

func TestAddMissingFile(t *testing.T) {
	fw, err := NewFileWatcher(func(string) {})
	require.NoError(t, err)
	defer fw.Close()
	err = fw.AddFile(filepath.Join(t.TempDir(), "missing.bf"))
	if err == nil {
		t.Skip("polling watcher accepts files that do not exist yet")
	}
}
