package execrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coreagent/runtime/internal/tooldispatch"
)

// Apply implements tooldispatch.PatchApplier by writing each parsed action
// straight to disk: Add creates (or overwrites) a file with its literal
// content, Delete removes a file, and Update replays the recorded unified
// diff hunks against the existing file (applyUnifiedDiff) and writes the
// result to the move path if one is given, else back to the original path;
// after a move the original file is removed.
func (r *Runner) Apply(ctx context.Context, set *tooldispatch.PatchSet) error {
	for _, action := range set.Actions {
		if err := applyOne(action); err != nil {
			return fmt.Errorf("apply %s: %w", action.Path, err)
		}
	}
	return nil
}

func applyOne(action tooldispatch.PatchAction) error {
	switch action.Kind {
	case tooldispatch.PatchDelete:
		if err := os.Remove(action.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil

	case tooldispatch.PatchAdd:
		if err := os.MkdirAll(filepath.Dir(action.Path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(action.Path, []byte(action.Content), 0o644)

	case tooldispatch.PatchUpdate:
		body, err := applyUnifiedDiff(action.Path, action.UnifiedDiff)
		if err != nil {
			return err
		}
		target := action.Path
		if action.MovePath != "" {
			target = action.MovePath
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(body), 0o644); err != nil {
			return err
		}
		if action.MovePath != "" && action.MovePath != action.Path {
			return os.Remove(action.Path)
		}
		return nil

	default:
		return fmt.Errorf("unknown patch action kind %v", action.Kind)
	}
}

// applyUnifiedDiff replays one or more "@@ -a,b +c,d @@" hunks against the
// existing file's lines: context lines advance the read cursor and are
// copied through, "-" lines advance the cursor without copying, and "+"
// lines are inserted verbatim. Text between hunks (and after the last one)
// is copied straight from the source.
func applyUnifiedDiff(path, diff string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	src := splitLines(string(raw))

	var out []string
	srcLine := 0

	for _, hunk := range splitHunks(diff) {
		start := hunk.oldStart - 1
		if start < 0 {
			start = 0
		}
		if start > len(src) {
			start = len(src)
		}
		out = append(out, src[srcLine:start]...)
		srcLine = start

		for _, line := range hunk.body {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '-':
				srcLine++
			case '+':
				out = append(out, line[1:])
			default:
				text := line
				if len(line) > 0 && line[0] == ' ' {
					text = line[1:]
				}
				out = append(out, text)
				srcLine++
			}
		}
	}
	out = append(out, src[srcLine:]...)

	result := ""
	for i, l := range out {
		if i > 0 {
			result += "\n"
		}
		result += l
	}
	if len(out) > 0 {
		result += "\n"
	}
	return result, nil
}

type diffHunk struct {
	oldStart int
	body     []string
}

// splitHunks parses "@@ -a,b +c,d @@" headers out of a unified diff body,
// grouping the lines that follow each header until the next one.
func splitHunks(diff string) []diffHunk {
	var hunks []diffHunk
	var current *diffHunk

	for _, line := range splitLines(diff) {
		if len(line) >= 2 && line[0] == '@' && line[1] == '@' {
			if current != nil {
				hunks = append(hunks, *current)
			}
			current = &diffHunk{oldStart: parseHunkOldStart(line)}
			continue
		}
		if current == nil {
			current = &diffHunk{oldStart: 1}
		}
		current.body = append(current.body, line)
	}
	if current != nil {
		hunks = append(hunks, *current)
	}
	return hunks
}

// parseHunkOldStart extracts "a" from a "@@ -a,b +c,d @@" header, defaulting
// to line 1 if the header is malformed.
func parseHunkOldStart(header string) int {
	idx := -1
	for i, c := range header {
		if c == '-' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 1
	}
	n := 0
	found := false
	for i := idx + 1; i < len(header); i++ {
		c := header[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
		found = true
	}
	if !found {
		return 1
	}
	return n
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
