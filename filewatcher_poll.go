//go:build !linux && !darwin

package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileWatcher polls modification times
type FileWatcher struct {
	*debouncer
	wmu      sync.Mutex
	watchMap map[string]time.Time
}

func NewFileWatcher(onChange func(string)) (*FileWatcher, error) {
	return &FileWatcher{
		debouncer: newDebouncer(onChange),
		watchMap:  make(map[string]time.Time),
	}, nil
}

func (fw *FileWatcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	var mod time.Time
	if info, err := os.Stat(absPath); err == nil {
		mod = info.ModTime()
	}
	fw.wmu.Lock()
	fw.watchMap[absPath] = mod
	fw.wmu.Unlock()

	return nil
}

// Watch delivers events until ctx is done
func (fw *FileWatcher) Watch(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fw.checkFiles()
		case <-ctx.Done():
			fw.stopTimers()
			return ctx.Err()
		}
	}
}

func (fw *FileWatcher) checkFiles() {
	fw.wmu.Lock()
	defer fw.wmu.Unlock()

	for path, lastMod := range fw.watchMap {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(lastMod) {
			fw.debouncedCallback(path)
		}
		fw.watchMap[path] = info.ModTime()
	}
}

func (fw *FileWatcher) Close() error {
	fw.stopTimers()
	return nil
}
