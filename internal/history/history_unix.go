//go:build unix

// Package history implements the append-only message-history log
// (<COREAGENT_HOME>/history.jsonl), advisory-locked with golang.org/x/sys/unix
// flock: writers retry an exclusive lock with backoff rather than fail on
// first contention.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lockMaxRetries = 10
	lockRetryDelay = 100 * time.Millisecond
)

// Entry is one line of history.jsonl.
type Entry struct {
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"ts"`
	Text      string `json:"text"`
}

// Log appends to, and looks entries up from, <COREAGENT_HOME>/history.jsonl.
type Log struct {
	path string
}

// Open returns a Log for the given path, creating the file (mode 0600) if
// it does not yet exist.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &Log{path: path}, nil
}

// Append writes one entry under an exclusive advisory lock, retrying up to
// lockMaxRetries times with lockRetryDelay between attempts if the lock is
// currently held. Returns the 0-based line offset written and the file's
// inode (used as log_id by callers), or an error.
func (l *Log) Append(entry Entry) (offset int, logID uint64, err error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	if err := lockWithRetry(f, unix.LOCK_EX); err != nil {
		return 0, 0, err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	lineCount, err := countLines(f)
	if err != nil {
		return 0, 0, err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return 0, 0, err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return 0, 0, err
	}

	inode, err := inodeOf(f)
	if err != nil {
		return 0, 0, err
	}
	return lineCount, inode, nil
}

// Lookup returns the entry at the given 0-based line offset, but only if the
// file's current inode still matches logID; otherwise it returns (nil, nil)
// to signal "not found" rather than an error (the file may have been
// truncated, rotated, or replaced since logID was captured).
func (l *Log) Lookup(logID uint64, offset int) (*Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := lockWithRetry(f, unix.LOCK_SH); err != nil {
		return nil, err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	inode, err := inodeOf(f)
	if err != nil {
		return nil, err
	}
	if inode != logID {
		return nil, nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		if line == offset {
			var entry Entry
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				return nil, err
			}
			return &entry, nil
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func lockWithRetry(f *os.File, how int) error {
	var err error
	for attempt := 0; attempt < lockMaxRetries; attempt++ {
		err = unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != syscall.EWOULDBLOCK {
			return err
		}
		time.Sleep(lockRetryDelay)
	}
	return fmt.Errorf("history: failed to acquire lock on %s after %d attempts: %w", f.Name(), lockMaxRetries, err)
}

func countLines(f *os.File) (int, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, 2); err != nil {
		return 0, err
	}
	return n, scanner.Err()
}

func inodeOf(f *os.File) (uint64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	sysStat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("history: cannot determine inode on this platform")
	}
	return sysStat.Ino, nil
}
