// Completion: 100% - Platform-specific module complete
//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

const inotifyMask = unix.IN_MODIFY | unix.IN_CLOSE_WRITE | unix.IN_ATTRIB | unix.IN_MOVE_SELF | unix.IN_DELETE_SELF

// FileWatcher reports changes to source files through inotify
type FileWatcher struct {
	*debouncer
	fd       int
	wmu      sync.Mutex
	watchMap map[int]string
}

func NewFileWatcher(onChange func(string)) (*FileWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init failed: %w", err)
	}

	return &FileWatcher{
		debouncer: newDebouncer(onChange),
		fd:        fd,
		watchMap:  make(map[int]string),
	}, nil
}

func (fw *FileWatcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	wd, err := unix.InotifyAddWatch(fw.fd, absPath, inotifyMask)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", absPath, err)
	}

	fw.wmu.Lock()
	fw.watchMap[wd] = absPath
	fw.wmu.Unlock()

	return nil
}

// Watch delivers events until ctx is done
func (fw *FileWatcher) Watch(ctx context.Context) error {
	buf := make([]byte, (unix.SizeofInotifyEvent+unix.NAME_MAX+1)*10)

	for {
		if err := ctx.Err(); err != nil {
			fw.stopTimers()
			return err
		}
		n, err := unix.Read(fw.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("reading inotify events: %w", err)
		}

		offset := 0
		for offset+unix.SizeofInotifyEvent <= n {
			event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			offset += unix.SizeofInotifyEvent + int(event.Len)

			fw.wmu.Lock()
			path := fw.watchMap[int(event.Wd)]
			fw.wmu.Unlock()
			if path == "" {
				continue
			}

			// Editors that save by renaming replace the inode, so watch the new file
			if event.Mask&(unix.IN_MOVE_SELF|unix.IN_DELETE_SELF|unix.IN_IGNORED) != 0 {
				fw.rewatch(int(event.Wd), path)
			}
			if event.Mask&inotifyMask != 0 {
				fw.debouncedCallback(path)
			}
		}
	}
}

func (fw *FileWatcher) rewatch(wd int, path string) {
	fw.wmu.Lock()
	delete(fw.watchMap, wd)
	fw.wmu.Unlock()
	_, _ = unix.InotifyRmWatch(fw.fd, uint32(wd))

	for i := 0; i < 10; i++ {
		if err := fw.AddFile(path); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	glog.Warningf("watch: lost track of %s", path)
}

func (fw *FileWatcher) Close() error {
	fw.stopTimers()
	return unix.Close(fw.fd)
}
