// Package lockfile guards a HealBee state directory so that only one process uses its
// SQLite database at a time. The lock is a flock on a file inside the directory and is
// dropped by the kernel when the process exits, cleanly or not.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "healbee.lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Started time.Time
	Mode    string
}

// String renders the holder for error messages.
func (h Holder) String() string {
	if h.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if isProcessRunning(h.PID) {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", h.PID, state)
	if h.Mode != "" {
		s += ", mode " + h.Mode
	}
	if !h.Started.IsZero() {
		s += ", started " + h.Started.Format(time.RFC3339)
	}
	return s
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on stateDir, creating the directory when needed.
// mode is recorded for the benefit of a second process that fails to get the lock.
func Acquire(stateDir, mode string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Acquiring state directory lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	// Opened without O_TRUNC so a failed attempt leaves the holder's information intact.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder, _ := ReadHolder(lockPath)
		slog.Error("State directory is locked by another HealBee process", "lock_path", lockPath, "holder", holder.String(), "error", err)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	l := &Lock{file: file, path: lockPath}
	if err := l.writeHolder(Holder{PID: os.Getpid(), Started: time.Now().UTC(), Mode: mode}); err != nil {
		l.unlock()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid(), "mode", mode)
	return l, nil
}

func (l *Lock) writeHolder(h Holder) error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nstarted=%s\nmode=%s\n", h.PID, h.Started.Format(time.RFC3339), h.Mode)
	if _, err := l.file.WriteAt([]byte(content), 0); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "error", err, "lock_path", l.path)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the lock so no other process sees a half-released file.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "error", err, "lock_path", l.path)
	}
	l.unlock()
	slog.Info("Released state directory lock", "lock_path", l.path)
	return nil
}

func (l *Lock) unlock() {
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Failed to close lock file", "error", err, "lock_path", l.path)
	}
	l.file = nil
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another HealBee process is using this state directory (lock file %s, held by %s)", e.LockPath, e.Holder)
	fmt.Fprintf(&b, "; stop it, use a different -state-dir, or remove %s if the lock is stale", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// ReadHolder parses the holder recorded in a lock file. Unknown keys are ignored.
func ReadHolder(lockPath string) (Holder, error) {
	f, err := os.Open(lockPath)
	if err != nil {
		return Holder{}, err
	}
	defer f.Close()
	return parseHolder(bufio.NewScanner(f)), nil
}

func parseHolder(sc *bufio.Scanner) Holder {
	var h Holder
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				h.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				h.Started = t
			}
		case "mode":
			h.Mode = value
		}
	}
	return h
}

// isProcessRunning sends signal 0, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
