package difftracker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coreagent/runtime/internal/tooldispatch"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetUnifiedDiffEmptyWhenNothingChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "one\ntwo\n")

	tr := New(dir)
	tr.RecordPatch(&tooldispatch.PatchSet{Actions: []tooldispatch.PatchAction{
		{Path: path, Kind: tooldispatch.PatchUpdate},
	}})

	if got := tr.GetUnifiedDiff(); got != "" {
		t.Errorf("GetUnifiedDiff() = %q, want empty (diff idempotence)", got)
	}
}

func TestGetUnifiedDiffDetectsModification(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "one\ntwo\nthree\n")

	tr := New(dir)
	tr.RecordPatch(&tooldispatch.PatchSet{Actions: []tooldispatch.PatchAction{
		{Path: path, Kind: tooldispatch.PatchUpdate},
	}})

	writeFile(t, path, "one\nTWO\nthree\n")

	diff := tr.GetUnifiedDiff()
	if !strings.Contains(diff, "diff --git a/a.txt b/a.txt") {
		t.Errorf("diff missing git header: %q", diff)
	}
	if !strings.Contains(diff, "-two") || !strings.Contains(diff, "+TWO") {
		t.Errorf("diff missing expected hunk content: %q", diff)
	}
}

func TestGetUnifiedDiffDetectsNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	tr := New(dir)
	tr.RecordPatch(&tooldispatch.PatchSet{Actions: []tooldispatch.PatchAction{
		{Path: path, Kind: tooldispatch.PatchAdd},
	}})

	writeFile(t, path, "fresh\n")

	diff := tr.GetUnifiedDiff()
	if !strings.Contains(diff, "new file mode") {
		t.Errorf("diff missing new-file marker: %q", diff)
	}
	if !strings.Contains(diff, "index 0000000000000000000000000000000000000000..") {
		t.Errorf("diff missing zero-OID left side for a new file: %q", diff)
	}
}

func TestGetUnifiedDiffDetectsDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	writeFile(t, path, "bye\n")

	tr := New(dir)
	tr.RecordPatch(&tooldispatch.PatchSet{Actions: []tooldispatch.PatchAction{
		{Path: path, Kind: tooldispatch.PatchDelete},
	}})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	diff := tr.GetUnifiedDiff()
	if !strings.Contains(diff, "deleted file mode") {
		t.Errorf("diff missing deleted-file marker: %q", diff)
	}
}

func TestGetUnifiedDiffStableOrderByRelativePath(t *testing.T) {
	dir := t.TempDir()
	pathB := filepath.Join(dir, "b.txt")
	pathA := filepath.Join(dir, "a.txt")
	writeFile(t, pathB, "1\n")
	writeFile(t, pathA, "1\n")

	tr := New(dir)
	// Touch b before a to verify output order follows path, not touch order.
	tr.RecordPatch(&tooldispatch.PatchSet{Actions: []tooldispatch.PatchAction{
		{Path: pathB, Kind: tooldispatch.PatchUpdate},
		{Path: pathA, Kind: tooldispatch.PatchUpdate},
	}})

	writeFile(t, pathB, "2\n")
	writeFile(t, pathA, "2\n")

	diff := tr.GetUnifiedDiff()
	idxA := strings.Index(diff, "a.txt")
	idxB := strings.Index(diff, "b.txt")
	if idxA < 0 || idxB < 0 || idxA > idxB {
		t.Errorf("expected a.txt's section before b.txt's; diff = %q", diff)
	}
}

func TestTouchIsIdempotentPerPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "v1\n")

	tr := New(dir)
	tr.RecordPatch(&tooldispatch.PatchSet{Actions: []tooldispatch.PatchAction{{Path: path, Kind: tooldispatch.PatchUpdate}}})

	writeFile(t, path, "v2\n")
	// A second touch of the same path (e.g. from another patch action in
	// the same turn) must not overwrite the original baseline.
	tr.RecordPatch(&tooldispatch.PatchSet{Actions: []tooldispatch.PatchAction{{Path: path, Kind: tooldispatch.PatchUpdate}}})

	diff := tr.GetUnifiedDiff()
	if !strings.Contains(diff, "-v1") || !strings.Contains(diff, "+v2") {
		t.Errorf("expected diff against the original v1 baseline, got %q", diff)
	}
}

func TestLocalBlobOIDMatchesGitBlobFormat(t *testing.T) {
	// sha1("blob 5\x00hello") is a stable, independently verifiable value.
	got := localBlobOID([]byte("hello"))
	want := "b6fc4c620b67d95f953a5c1c1230aaab5db5a1b0"
	if got != want {
		t.Errorf("localBlobOID(%q) = %s, want %s", "hello", got, want)
	}
}
