// filewatcher.go - Debounced change notifications shared by the platform watchers
package main

import (
	"sync"
	"time"
)

// DebounceDelay is how long a file must stay quiet before onChange runs.
// Editors often write a file in several steps.
var DebounceDelay = 500 * time.Millisecond

type debouncer struct {
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	onChange    func(string)
}

func newDebouncer(onChange func(string)) *debouncer {
	return &debouncer{
		debounceMap: make(map[string]*time.Timer),
		onChange:    onChange,
	}
}

func (d *debouncer) debouncedCallback(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, exists := d.debounceMap[path]; exists {
		timer.Stop()
	}

	d.debounceMap[path] = time.AfterFunc(DebounceDelay, func() {
		d.mu.Lock()
		delete(d.debounceMap, path)
		d.mu.Unlock()
		d.onChange(path)
	})
}

// stopTimers cancels pending callbacks
func (d *debouncer) stopTimers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, timer := range d.debounceMap {
		timer.Stop()
		delete(d.debounceMap, path)
	}
}
