//go:build darwin

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// FileWatcher reports changes to source files through kqueue
type FileWatcher struct {
	*debouncer
	kq       int
	wmu      sync.Mutex
	watchMap map[int]string
}

func NewFileWatcher(onChange func(string)) (*FileWatcher, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue failed: %w", err)
	}

	return &FileWatcher{
		debouncer: newDebouncer(onChange),
		kq:        kq,
		watchMap:  make(map[int]string),
	}, nil
}

func (fw *FileWatcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	fd, err := unix.Open(absPath, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", absPath, err)
	}

	event := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Fflags: unix.NOTE_WRITE | unix.NOTE_ATTRIB | unix.NOTE_RENAME | unix.NOTE_DELETE,
	}

	if _, err := unix.Kevent(fw.kq, []unix.Kevent_t{event}, nil, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to add kevent for %s: %w", absPath, err)
	}

	fw.wmu.Lock()
	fw.watchMap[fd] = absPath
	fw.wmu.Unlock()

	return nil
}

// Watch delivers events until ctx is done
func (fw *FileWatcher) Watch(ctx context.Context) error {
	events := make([]unix.Kevent_t, 10)
	timeout := unix.NsecToTimespec(int64(100 * 1e6))

	for {
		if err := ctx.Err(); err != nil {
			fw.stopTimers()
			return err
		}
		n, err := unix.Kevent(fw.kq, nil, events, &timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("reading kevent: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Ident)

			fw.wmu.Lock()
			path := fw.watchMap[fd]
			fw.wmu.Unlock()
			if path == "" {
				continue
			}

			if events[i].Fflags&(unix.NOTE_RENAME|unix.NOTE_DELETE) != 0 {
				fw.wmu.Lock()
				delete(fw.watchMap, fd)
				fw.wmu.Unlock()
				unix.Close(fd)
				_ = fw.AddFile(path)
			}
			fw.debouncedCallback(path)
		}
	}
}

func (fw *FileWatcher) Close() error {
	fw.stopTimers()
	fw.wmu.Lock()
	defer fw.wmu.Unlock()

	for fd := range fw.watchMap {
		unix.Close(fd)
	}

	return unix.Close(fw.kq)
}
