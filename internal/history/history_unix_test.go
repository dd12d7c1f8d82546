//go:build unix

package history

import (
	"path/filepath"
	"testing"
)

func TestAppendAndLookupRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	offset0, logID0, err := log.Append(Entry{SessionID: "s1", Timestamp: 100, Text: "first"})
	if err != nil {
		t.Fatal(err)
	}
	if offset0 != 0 {
		t.Errorf("first append offset = %d, want 0", offset0)
	}

	offset1, logID1, err := log.Append(Entry{SessionID: "s1", Timestamp: 200, Text: "second"})
	if err != nil {
		t.Fatal(err)
	}
	if offset1 != 1 {
		t.Errorf("second append offset = %d, want 1", offset1)
	}
	if logID0 != logID1 {
		t.Errorf("logID changed between appends to the same file: %d != %d", logID0, logID1)
	}

	entry, err := log.Lookup(logID1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Text != "first" {
		t.Errorf("Lookup(logID, 0) = %+v, want text %q", entry, "first")
	}

	entry, err = log.Lookup(logID1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Text != "second" {
		t.Errorf("Lookup(logID, 1) = %+v, want text %q", entry, "second")
	}
}

func TestLookupReturnsNilWhenInodeMismatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := log.Append(Entry{SessionID: "s1", Timestamp: 100, Text: "first"}); err != nil {
		t.Fatal(err)
	}

	entry, err := log.Lookup(0xDEADBEEF, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Errorf("Lookup with mismatched log_id = %+v, want nil", entry)
	}
}

func TestLookupReturnsNilForOffsetPastEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_, logID, err := log.Append(Entry{SessionID: "s1", Timestamp: 100, Text: "only"})
	if err != nil {
		t.Fatal(err)
	}

	entry, err := log.Lookup(logID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Errorf("Lookup past end = %+v, want nil", entry)
	}
}
