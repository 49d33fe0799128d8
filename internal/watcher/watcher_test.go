package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitSettled(t *testing.T, ch <-chan string, timeout time.Duration) (string, bool) {
	t.Helper()
	select {
	case path := <-ch:
		return path, true
	case <-time.After(timeout):
		return "", false
	}
}

func newTestObserver(dir string, settled chan<- string) *Observer {
	o := New(dir, func(path string) { settled <- path })
	o.ChangedTimeout = 200 * time.Millisecond
	o.EventTimeout = minEventTimeout
	return o
}

func TestFileChangeSettlesAfterChangedTimeout(t *testing.T) {
	dir := t.TempDir()
	settled := make(chan string, 10)
	o := newTestObserver(dir, settled)
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	path := filepath.Join(dir, "index.html")
	os.WriteFile(path, []byte("hello"), 0644)

	got, ok := waitSettled(t, settled, 3*time.Second)
	if !ok {
		t.Fatal("expected a settled event, got none")
	}
	if got != path {
		t.Fatalf("settled path = %q, want %q", got, path)
	}
}

func TestRepeatedWritesResetDebounce(t *testing.T) {
	dir := t.TempDir()
	settled := make(chan string, 10)
	o := newTestObserver(dir, settled)
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	path := filepath.Join(dir, "index.html")
	os.WriteFile(path, []byte("v1"), 0644)

	// Keep writing for longer than ChangedTimeout; settling should not
	// fire until the writes stop.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		os.WriteFile(path, []byte("v2"), 0644)
		time.Sleep(50 * time.Millisecond)
	}

	got, ok := waitSettled(t, settled, 3*time.Second)
	if !ok {
		t.Fatal("expected eventual settle after writes stop")
	}
	if got != path {
		t.Fatalf("settled path = %q, want %q", got, path)
	}
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	settled := make(chan string, 10)
	o := newTestObserver(dir, settled)
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	subdir := filepath.Join(dir, "routes", "dashboard")
	os.MkdirAll(subdir, 0755)
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(subdir, "index.html")
	os.WriteFile(path, []byte("hello"), 0644)

	got, ok := waitSettled(t, settled, 3*time.Second)
	if !ok {
		t.Fatal("expected a settled event for a file in a newly created subdirectory")
	}
	if got != path {
		t.Fatalf("settled path = %q, want %q", got, path)
	}
}

func TestStartDefaultsIsLockedWhenBuiltByLiteral(t *testing.T) {
	dir := t.TempDir()
	settled := make(chan string, 10)
	o := &Observer{
		Root:           dir,
		ChangedTimeout: 200 * time.Millisecond,
		EventTimeout:   minEventTimeout,
		OnSettled:      func(path string) { settled <- path },
	}
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	path := filepath.Join(dir, "index.html")
	os.WriteFile(path, []byte("hello"), 0644)

	if _, ok := waitSettled(t, settled, 3*time.Second); !ok {
		t.Fatal("expected a settled event from an Observer built without New")
	}
}

func TestLockedPathDoesNotSettle(t *testing.T) {
	dir := t.TempDir()
	settled := make(chan string, 10)
	o := newTestObserver(dir, settled)
	o.IsLocked = func(path string) bool { return true }
	if err := o.Start(); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	path := filepath.Join(dir, "index.html")
	os.WriteFile(path, []byte("hello"), 0644)

	_, ok := waitSettled(t, settled, 600*time.Millisecond)
	if ok {
		t.Fatal("expected no settled event while the path is reported locked")
	}
}
