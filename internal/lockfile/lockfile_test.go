package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	content, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	h := parseHolder(strings.NewReader(string(content)))
	if h.PID != os.Getpid() {
		t.Errorf("expected pid %d in lock record, got %q", os.Getpid(), content)
	}
	if time.Since(h.Started) > time.Minute {
		t.Errorf("unexpected start time %v", h.Started)
	}
}

func TestAcquire_Conflict(t *testing.T) {
	dir := t.TempDir()
	lock1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := Acquire(dir)
	if err == nil {
		lock2.Release()
		t.Fatal("Second lock acquisition should have failed")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() || !lockErr.Holder.Running {
		t.Errorf("expected running holder with our pid, got %+v", lockErr.Holder)
	}
	msg := err.Error()
	if !strings.Contains(msg, "another FlowDesk server") || !strings.Contains(msg, dir) {
		t.Errorf("unhelpful error message: %s", msg)
	}
	if strings.Contains(msg, "rm ") {
		t.Errorf("running holder must not suggest removing the lock: %s", msg)
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	path := lock.Path()
	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", path)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	again.Release()
}

func TestAcquire_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		started bool
	}{
		{"full record", "pid=12345\nstarted=2026-10-17T10:00:00Z\n", 12345, true},
		{"pid only", "pid=67890", 67890, false},
		{"no pid", "other=info", 0, false},
		{"empty", "", 0, false},
		{"invalid pid", "pid=abc", 0, false},
		{"negative pid", "pid=-4", 0, false},
		{"bad time", "pid=7\nstarted=yesterday", 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseHolder(strings.NewReader(tt.content))
			if h.PID != tt.pid || h.Started.IsZero() == tt.started {
				t.Errorf("parseHolder(%q) = %+v", tt.content, h)
			}
		})
	}
}

func TestLockError_StaleHint(t *testing.T) {
	e := &LockError{LockPath: "/var/lib/flowdesk/flowdesk.lock", Holder: Holder{PID: 999999}}
	if !strings.Contains(e.Error(), "rm /var/lib/flowdesk/flowdesk.lock") {
		t.Errorf("expected stale lock hint: %s", e.Error())
	}
	if got := (Holder{}).String(); got != "unknown process" {
		t.Errorf("unexpected holder string %q", got)
	}
	if got := fmt.Sprint(Holder{PID: 3, Running: true}); got != "PID 3 (running)" {
		t.Errorf("unexpected holder string %q", got)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Errorf("Our own process should be detected as running")
	}
}
