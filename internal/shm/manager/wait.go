package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// shmDir mirrors the backend package's unexported shmDir, the
// directory where the POSIX shm backend's regions appear, which this
// watch helper cannot reference directly.
const shmDir = "/dev/shm"

// WaitForBackend blocks until a POSIX-shm-backed region named name
// appears under /dev/shm, or ctx is done. It exists for a process that
// starts before the owner has created the segment it wants to attach
// to — grounded on fsnotify's directory-watch idiom rather than a
// busy-poll loop.
func WaitForBackend(ctx context.Context, name string) error {
	target := filepath.Join(shmDir, name)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manager: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(shmDir); err != nil {
		return fmt.Errorf("manager: watching %s: %w", shmDir, err)
	}

	// re-check after the watch is armed, closing the race between the
	// initial Stat and Add.
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("manager: watcher closed")
			}
			return fmt.Errorf("manager: watch error: %w", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("manager: watcher closed")
			}
			if ev.Op&(fsnotify.Create) != 0 && filepath.Base(ev.Name) == name {
				return nil
			}
		}
	}
}
