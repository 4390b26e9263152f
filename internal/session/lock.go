package session

import "os"

// Lock is an advisory, process-exclusive file lock guarding daemon startup:
// only one daemon instance may hold it at a time, so a racing second
// invocation of the CLI backs off instead of spawning a competing daemon.
type Lock struct {
	file *os.File
}

// AcquireLock opens (creating if necessary) the lock file at path and
// attempts a non-blocking exclusive lock. ok is false if another process
// already holds it.
func AcquireLock(path string) (lock *Lock, ok bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, false, err
	}
	acquired, err := tryFlock(f)
	if err != nil {
		f.Close()
		return nil, false, err
	}
	if !acquired {
		f.Close()
		return nil, false, nil
	}
	return &Lock{file: f}, true, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFlock(l.file)
	closeErr := l.file.Close()
	if err != nil {
		return err
	}
	return closeErr
}
