// Package watcher implements the debounced filesystem observer: it
// watches a directory tree and reports a path once it has gone quiet —
// "settled" — for a configurable interval, rather than firing on every
// individual write.
//
// A watched path moves through three states: idle (no pending event),
// pending (an event arrived, the debounce clock is running), and settled
// (the debounce interval elapsed without another event, and the path was
// not locked). A native backend built on fsnotify is used where
// available; if fsnotify fails to initialize (no inotify support, for
// example), Observer falls back to periodic directory polling.
package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	minEventTimeout   = 1 * time.Second
	minChangedTimeout = 1 * time.Second

	pollInterval = 10 * time.Second
	pollTimeout  = 25 * time.Second
)

// Observer watches Root for file changes and calls OnSettled once per
// path after it has gone quiet for ChangedTimeout.
type Observer struct {
	Root string

	// EventTimeout bounds how long the observer's internal wait loop
	// blocks between checks; it must be at least one second.
	EventTimeout time.Duration
	// ChangedTimeout is how long a path must go quiet before it is
	// considered settled; it must be at least one second.
	ChangedTimeout time.Duration

	// OnSettled is called, once per settled path, with the path's
	// absolute filesystem location.
	OnSettled func(path string)

	// IsLocked reports whether path is still open for writing and should
	// not yet be considered settled. The default always returns false;
	// platforms where open files can be detected (Windows) may override
	// it.
	IsLocked func(path string) bool

	fsw     *fsnotify.Watcher
	pending map[string]time.Time
	stop    chan struct{}
	done    chan struct{}
}

// New creates an Observer rooted at root, reporting settled paths to
// onSettled. Call Start to begin watching.
func New(root string, onSettled func(path string)) *Observer {
	return &Observer{
		Root:           root,
		EventTimeout:   minEventTimeout,
		ChangedTimeout: minChangedTimeout,
		OnSettled:      onSettled,
		IsLocked:       func(string) bool { return false },
	}
}

// Start begins watching. It blocks until the watcher is initialized, then
// runs its event loop on a background goroutine until Stop is called.
func (o *Observer) Start() error {
	if o.EventTimeout < minEventTimeout {
		o.EventTimeout = minEventTimeout
	}
	if o.ChangedTimeout < minChangedTimeout {
		o.ChangedTimeout = minChangedTimeout
	}
	if o.IsLocked == nil {
		o.IsLocked = func(string) bool { return false }
	}
	o.pending = make(map[string]time.Time)
	o.stop = make(chan struct{})
	o.done = make(chan struct{})

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		go o.pollLoop()
		return nil
	}
	o.fsw = fsw

	if err := o.addTree(o.Root); err != nil {
		fsw.Close()
		return err
	}

	go o.nativeLoop()
	return nil
}

// Stop terminates the watcher and waits for its event loop to exit.
func (o *Observer) Stop() {
	close(o.stop)
	if o.fsw != nil {
		o.fsw.Close()
	}
	<-o.done
}

func (o *Observer) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return o.fsw.Add(path)
		}
		return nil
	})
}

// queueChanged records that path changed just now, resetting its
// debounce clock.
func (o *Observer) queueChanged(path string) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return
	}
	o.pending[path] = time.Now()
}

// signalSettled fires OnSettled for every pending path whose debounce
// clock has elapsed and which is not locked, then forgets it.
func (o *Observer) signalSettled() {
	now := time.Now()
	for path, changedAt := range o.pending {
		if o.IsLocked(path) {
			continue
		}
		if now.Sub(changedAt) >= o.ChangedTimeout {
			delete(o.pending, path)
			o.OnSettled(path)
		}
	}
}

func (o *Observer) nativeLoop() {
	defer close(o.done)
	ticker := time.NewTicker(o.EventTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case ev, ok := <-o.fsw.Events:
			if !ok {
				return
			}
			o.handleNativeEvent(ev)
		case _, ok := <-o.fsw.Errors:
			if !ok {
				return
			}
		case <-ticker.C:
			o.signalSettled()
		}
	}
}

func (o *Observer) handleNativeEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			o.addTree(ev.Name)
			return
		}
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
		o.queueChanged(ev.Name)
	}
}

// pollLoop is the fallback backend used when a native watcher could not
// be created. It walks the tree every pollInterval, comparing modified
// times against the previous walk, and treats any path that hasn't
// changed for pollTimeout as settled.
func (o *Observer) pollLoop() {
	defer close(o.done)
	seen := map[string]time.Time{}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			now := time.Now()
			filepath.WalkDir(o.Root, func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return nil
				}
				if last, ok := seen[path]; !ok || !last.Equal(info.ModTime()) {
					seen[path] = info.ModTime()
					o.pending[path] = now
				}
				return nil
			})
			for path, changedAt := range o.pending {
				if o.IsLocked(path) {
					continue
				}
				if now.Sub(changedAt) >= pollTimeout {
					delete(o.pending, path)
					o.OnSettled(path)
				}
			}
		}
	}
}
