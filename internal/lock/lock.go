// Package lock guards a profile so only one daemon opens its store. The
// lock file also tells clients which process serves the profile.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/msgcore/internal/profile"
)

// FileName is the lock file created inside the profile directory.
const FileName = "LOCK"

// LockHeldError is returned when another process holds the profile lock.
type LockHeldError struct {
	Profile string
	PID     int
	Path    string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("profile %q is held by PID %d (%s)", e.Profile, e.PID, e.Path)
}

// Lock is an acquired profile lock.
type Lock struct {
	profile string
	file    *os.File
	path    string
}

// Holder describes the content of a lock file.
type Holder struct {
	PID   int
	Since time.Time
}

// Path returns the lock file of a profile.
func Path(profileName string) string {
	return filepath.Join(profile.Dir(profileName), FileName)
}

// Acquire takes the exclusive lock of a profile, creating its directory
// tree. It returns a *LockHeldError if a live process already holds it.
func Acquire(profileName string) (*Lock, error) {
	if err := profile.EnsureDir(profileName); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := Path(profileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		h, _ := readHolder(path)
		_ = f.Close()
		return nil, &LockHeldError{Profile: profileName, PID: h.PID, Path: path}
	}

	l := &Lock{profile: profileName, file: f, path: path}
	if err := l.stamp(time.Now()); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *Lock) stamp(now time.Time) error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nprofile=%s\ntime=%s\n", os.Getpid(), l.profile, now.UTC().Format(time.RFC3339))
	_, err := l.file.WriteAt([]byte(content), 0)
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Safe to call on a nil or
// already released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Held reports whether a daemon currently holds the profile, and which.
// A leftover lock file nobody has locked counts as free.
func Held(profileName string) (Holder, bool, error) {
	path := Path(profileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Holder{}, false, nil
	}
	h, err := readHolder(path)
	if err != nil {
		return Holder{}, true, err
	}
	return h, true, nil
}

func readHolder(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "time":
			h.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h, nil
}
