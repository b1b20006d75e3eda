//go:build !windows && !js && !wasip1

package storage

import (
	"os"
	"syscall"

	"github.com/nodb-engine/nodb/enginerr"
)

// fileLock represents an OS-level file lock (Unix implementation using
// flock), guarding the single-process assumption: two Open calls against
// the same data file must not both succeed, since MVCC state and the
// free-list head live only in this process's memory.
type fileLock struct {
	file *os.File
}

// lockFile acquires an exclusive lock on the given file path. Returns a
// fileLock that must be released with unlock().
func lockFile(path string) (*fileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, enginerr.Wrap("filelock: open", enginerr.IO, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, enginerr.New("filelock: "+path+" already locked by another process", enginerr.ThreadConflict)
	}

	return &fileLock{file: f}, nil
}

// unlock releases the file lock.
func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	name := fl.file.Name()
	err := fl.file.Close()
	os.Remove(name)
	return err
}

// FileLock is the exported handle package txn's bootstrap sequence takes
// out on the data file for the engine's lifetime.
type FileLock struct{ inner *fileLock }

// LockDataFile acquires the single-process advisory lock for path.
func LockDataFile(path string) (*FileLock, error) {
	inner, err := lockFile(path)
	if err != nil {
		return nil, err
	}
	return &FileLock{inner: inner}, nil
}

// Unlock releases the advisory lock.
func (l *FileLock) Unlock() error { return l.inner.unlock() }
