package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WritePID writes pid to path as plain decimal text via the atomic-write
// path, so a concurrent reader never sees a truncated PID.
func WritePID(path string, pid int) error {
	return WriteAtomicBytes(path, []byte(strconv.Itoa(pid)))
}

// ReadPID reads and parses the PID at path. A missing file is reported as
// os.ErrNotExist via errors.Is; a present-but-unparseable file (e.g. one
// caught mid-write before atomic rename was in place, or simply corrupted)
// returns a descriptive error rather than panicking on the empty string.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, fmt.Errorf("session: pid file %s is empty", path)
	}
	pid, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("session: pid file %s contains garbage %q: %w", path, text, err)
	}
	return pid, nil
}

// RemovePID removes the PID file at path, tolerating its absence.
func RemovePID(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
