//go:build !unix

package history

import "errors"

var errUnsupported = errors.New("history: message history requires unix file locking, unsupported on this platform")

// Entry is one line of history.jsonl.
type Entry struct {
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"ts"`
	Text      string `json:"text"`
}

// Log is a no-op stand-in on non-Unix platforms: history.jsonl requires
// unix advisory file locking, so here writers and readers alike report
// history as unavailable rather than risk an unlocked, racy append.
type Log struct{}

// Open always fails on non-Unix platforms.
func Open(path string) (*Log, error) {
	return nil, errUnsupported
}

// Append always fails on non-Unix platforms.
func (l *Log) Append(entry Entry) (offset int, logID uint64, err error) {
	return 0, 0, errUnsupported
}

// Lookup returns (nil, nil) on non-Unix platforms rather than surfacing an
// error.
func (l *Log) Lookup(logID uint64, offset int) (*Entry, error) {
	return nil, nil
}
