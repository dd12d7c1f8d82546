// Package difftracker maintains in-memory baselines of files touched by
// apply_patch during a turn and renders a consolidated unified diff on
// demand: each path's pre-patch content is captured the first time it's
// touched, then diffed against its current content.
package difftracker

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/coreagent/runtime/internal/tooldispatch"
)

const zeroOID = "0000000000000000000000000000000000000000"

// baseline is the recorded state of one tracked path at first sight.
type baseline struct {
	id       int
	path     string // current absolute path (rekeyed on rename)
	exists   bool
	content  []byte
	mode     string
	oid      string
}

// Tracker is a single turn's diff tracker: single-owner, not safe for
// concurrent use across turns.
type Tracker struct {
	mu      sync.Mutex
	repoRoot string
	gitRoot  string // nearest ancestor containing .git, "" if none
	nextID  int
	byID    map[int]*baseline
	byPath  map[string]int // current path -> id
}

// New constructs a Tracker rooted at repoRoot, used to resolve relative diff
// header paths against the nearest enclosing .git directory.
func New(repoRoot string) *Tracker {
	t := &Tracker{
		repoRoot: repoRoot,
		byID:     make(map[int]*baseline),
		byPath:   make(map[string]int),
	}
	t.gitRoot = findGitRoot(repoRoot)
	return t
}

// touch records a path's baseline the first time it is seen this turn; a
// subsequent touch of the same path is a no-op.
func (t *Tracker) touch(path string) {
	if _, ok := t.byPath[path]; ok {
		return
	}
	id := t.nextID
	t.nextID++

	b := &baseline{id: id, path: path}
	if info, err := os.Lstat(path); err == nil {
		b.exists = true
		if info.Mode()&os.ModeSymlink != 0 {
			target, _ := os.Readlink(path)
			b.content = []byte(target)
			b.mode = "120000"
		} else {
			b.content, _ = os.ReadFile(path)
			b.mode = modeString(info.Mode())
		}
		b.oid = t.blobOID(b.content)
	} else {
		b.exists = false
		b.oid = zeroOID
	}

	t.byID[id] = b
	t.byPath[path] = id
}

// RecordPatch registers every path a parsed patch set touches (including
// move destinations) as a baseline, then implements tooldispatch.DiffRecorder.
func (t *Tracker) RecordPatch(set *tooldispatch.PatchSet) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, action := range set.Actions {
		t.touch(action.Path)
		if action.MovePath != "" {
			id := t.byPath[action.Path]
			delete(t.byPath, action.Path)
			t.byID[id].path = action.MovePath
			t.byPath[action.MovePath] = id
		}
	}
}

// GetUnifiedDiff renders the consolidated diff across all tracked paths
// whose current on-disk bytes differ from their baseline, in stable order by
// current relative path. Returns "" if nothing changed (diff idempotence).
func (t *Tracker) GetUnifiedDiff() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return t.relPath(t.byID[ids[i]].path) < t.relPath(t.byID[ids[j]].path)
	})

	var out strings.Builder
	for _, id := range ids {
		b := t.byID[id]
		section := t.diffOne(b)
		if section != "" {
			out.WriteString(section)
		}
	}
	return out.String()
}

func (t *Tracker) diffOne(b *baseline) string {
	info, err := os.Lstat(b.path)
	currentExists := err == nil
	var currentContent []byte
	var currentMode string
	if currentExists {
		if info.Mode()&os.ModeSymlink != 0 {
			target, _ := os.Readlink(b.path)
			currentContent = []byte(target)
			currentMode = "120000"
		} else {
			currentContent, _ = os.ReadFile(b.path)
			currentMode = modeString(info.Mode())
		}
	}

	if currentExists == b.exists && bytes.Equal(currentContent, b.content) {
		return ""
	}

	rel := t.relPath(b.path)

	var out strings.Builder
	fmt.Fprintf(&out, "diff --git a/%s b/%s\n", rel, rel)

	switch {
	case !b.exists && currentExists:
		fmt.Fprintf(&out, "new file mode %s\n", currentMode)
	case b.exists && !currentExists:
		fmt.Fprintf(&out, "deleted file mode %s\n", b.mode)
	case b.mode != currentMode:
		fmt.Fprintf(&out, "old mode %s\n", b.mode)
		fmt.Fprintf(&out, "new mode %s\n", currentMode)
	}

	rightOID := zeroOID
	if currentExists {
		rightOID = t.blobOID(currentContent)
	}
	fmt.Fprintf(&out, "index %s..%s\n", b.oid, rightOID)

	if isUTF8OrMissing(b.content, b.exists) && isUTF8OrMissing(currentContent, currentExists) {
		out.WriteString(renderUnifiedBody(rel, b.content, currentContent))
	} else {
		fmt.Fprintf(&out, "--- a/%s\n", rel)
		fmt.Fprintf(&out, "+++ b/%s\n", rel)
		out.WriteString("Binary files differ\n")
	}

	return out.String()
}

func isUTF8OrMissing(content []byte, exists bool) bool {
	return !exists || utf8.Valid(content)
}

// renderUnifiedBody produces the unified-diff hunks (without the
// "diff --git"/"index" lines, which the caller already emitted) via
// myers.ComputeEdits and gotextdiff.ToUnified, with its fixed 3-line
// context window.
func renderUnifiedBody(rel string, before, after []byte) string {
	edits := myers.ComputeEdits(span.URIFromPath(rel), string(before), string(after))
	unified := gotextdiff.ToUnified(rel, rel, string(before), edits)
	return fmt.Sprint(unified)
}

func (t *Tracker) relPath(path string) string {
	if t.gitRoot == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(t.gitRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// blobOID shells out to git hash-object when a repo exists, falling back to
// a local sha1("blob <len>\0" || bytes) hash otherwise.
func (t *Tracker) blobOID(content []byte) string {
	if t.gitRoot != "" {
		if oid, ok := gitHashObject(t.gitRoot, content); ok {
			return oid
		}
	}
	return localBlobOID(content)
}

func gitHashObject(gitRoot string, content []byte) (string, bool) {
	cmd := exec.Command("git", "-C", gitRoot, "hash-object", "--stdin")
	cmd.Stdin = bytes.NewReader(content)
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

func localBlobOID(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func findGitRoot(start string) string {
	dir := start
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func modeString(mode os.FileMode) string {
	if mode&0o111 != 0 {
		return "100755"
	}
	return "100644"
}
