// Package lock keeps two segctl processes from working on the same cluster
// at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/golang/glog"
)

// ErrHeld is returned by Acquire when another process holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// Locker is an exclusive, non-blocking lock.
type Locker interface {
	// Acquire takes the lock. When it is already held it returns ErrHeld
	// and the holder's pid, or 0 if the holder is unknown.
	Acquire() (holderPID int, err error)
	Release() error
}

// FileLock is a Locker backed by flock(2) on <dir>/<name>. The holder's pid
// is written next to it in <name>.pid.
type FileLock struct {
	flock   *flock.Flock
	pidPath string
	pid     int
}

// NewFileLock returns an unlocked FileLock. dir is created on Acquire.
func NewFileLock(dir, name string) *FileLock {
	path := filepath.Join(dir, name)
	return &FileLock{
		flock:   flock.New(path),
		pidPath: path + ".pid",
		pid:     os.Getpid(),
	}
}

// Path is the lock file path.
func (l *FileLock) Path() string { return l.flock.Path() }

func (l *FileLock) Acquire() (int, error) {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return 0, fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", l.flock.Path(), err)
	}
	if !ok {
		return readPID(l.pidPath), ErrHeld
	}
	if err := os.WriteFile(l.pidPath, []byte(strconv.Itoa(l.pid)+"\n"), 0o644); err != nil {
		_ = l.flock.Unlock()
		return 0, fmt.Errorf("write pid file: %w", err)
	}
	glog.V(1).Infof("acquired %s", l.flock.Path())
	return 0, nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := os.Remove(l.pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		glog.Warningf("Failed to remove %s: %v", l.pidPath, err)
	}
	return l.flock.Unlock()
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// HeldError names the process holding a lock.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s is held by pid %d", e.Path, e.PID)
	}
	return fmt.Sprintf("%s is held by another process", e.Path)
}

func (e *HeldError) Unwrap() error { return ErrHeld }

// WithLock runs fn while holding l. If l is held elsewhere fn is not run
// and a *HeldError is returned.
func WithLock(l Locker, fn func() error) (err error) {
	pid, err := l.Acquire()
	if err != nil {
		if errors.Is(err, ErrHeld) {
			path := ""
			if fl, ok := l.(*FileLock); ok {
				path = fl.Path()
			}
			return &HeldError{Path: path, PID: pid}
		}
		return err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil && err == nil {
			err = fmt.Errorf("release lock: %w", rerr)
		}
	}()
	return fn()
}
