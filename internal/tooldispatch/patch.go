package tooldispatch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/coreagent/runtime/internal/turnctx"
	"github.com/coreagent/runtime/internal/sandbox"
)

// PatchActionKind discriminates one file entry of a parsed apply-patch body.
type PatchActionKind int

const (
	PatchAdd PatchActionKind = iota
	PatchDelete
	PatchUpdate
)

// PatchAction is a parsed edit set entry: an absolute path mapped to an add,
// delete, or update.
type PatchAction struct {
	Path        string
	Kind        PatchActionKind
	Content     string // PatchAdd
	UnifiedDiff string // PatchUpdate
	MovePath    string // PatchUpdate, empty if no rename
}

// PatchSet is the full parsed body of one apply_patch invocation.
type PatchSet struct {
	Actions []PatchAction
}

var errEmptyPatch = errors.New("empty patch")

// ParsePatch parses the "*** Begin Patch" / "*** End Patch" body into a
// PatchSet, resolving paths against cwd. It recognizes the Add/Delete/Update
// file markers and an optional "Move to:" line for Update entries; the
// unified-diff hunk body for Update is passed through verbatim for the
// patch-application step to replay.
func ParsePatch(body, cwd string) (*PatchSet, error) {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "*** Begin Patch" {
		return nil, fmt.Errorf("missing '*** Begin Patch' marker")
	}
	if strings.TrimSpace(lines[len(lines)-1]) != "*** End Patch" {
		return nil, fmt.Errorf("missing '*** End Patch' marker")
	}
	body2 := lines[1 : len(lines)-1]

	set := &PatchSet{}
	var current *PatchAction
	var diffBuf strings.Builder

	flush := func() {
		if current == nil {
			return
		}
		if current.Kind == PatchAdd {
			current.Content = diffBuf.String()
		} else {
			current.UnifiedDiff = diffBuf.String()
		}
		set.Actions = append(set.Actions, *current)
		current = nil
		diffBuf.Reset()
	}

	for _, line := range body2 {
		switch {
		case strings.HasPrefix(line, "*** Add File: "):
			flush()
			p := resolvePatchPath(cwd, strings.TrimPrefix(line, "*** Add File: "))
			current = &PatchAction{Path: p, Kind: PatchAdd}
		case strings.HasPrefix(line, "*** Delete File: "):
			flush()
			p := resolvePatchPath(cwd, strings.TrimPrefix(line, "*** Delete File: "))
			set.Actions = append(set.Actions, PatchAction{Path: p, Kind: PatchDelete})
		case strings.HasPrefix(line, "*** Update File: "):
			flush()
			p := resolvePatchPath(cwd, strings.TrimPrefix(line, "*** Update File: "))
			current = &PatchAction{Path: p, Kind: PatchUpdate}
		case strings.HasPrefix(line, "*** Move to: "):
			if current != nil {
				current.MovePath = resolvePatchPath(cwd, strings.TrimPrefix(line, "*** Move to: "))
			}
		case current != nil && current.Kind == PatchAdd:
			diffBuf.WriteString(strings.TrimPrefix(line, "+"))
			diffBuf.WriteByte('\n')
		case current != nil:
			diffBuf.WriteString(line)
			diffBuf.WriteByte('\n')
		}
	}
	flush()

	if len(set.Actions) == 0 {
		return nil, errEmptyPatch
	}
	return set, nil
}

func resolvePatchPath(cwd, p string) string {
	p = strings.TrimSpace(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(cwd, p)
}

// AffectedPaths returns every path this patch set creates, deletes, updates,
// or moves a file to.
func (s *PatchSet) AffectedPaths() []string {
	out := make([]string, 0, len(s.Actions))
	for _, a := range s.Actions {
		out = append(out, a.Path)
		if a.MovePath != "" {
			out = append(out, a.MovePath)
		}
	}
	return out
}

// DecidePatch implements the patch-specific safety rule: UnlessTrusted always
// asks; otherwise auto-approve under sandbox iff every affected path is
// inside a writable root, with OnFailure auto-approving even out-of-root
// (the sandbox itself blocks the disallowed write) and Never rejecting
// out-of-root writes outright.
//
// When OnFailure's sandbox backend is None, no enforcement exists to catch
// an out-of-root write at exec time, so that one combination downgrades to
// AskUser rather than silently auto-approving an unconfined write.
func DecidePatch(approval turnctx.AskForApproval, policy sandbox.Policy, platform sandbox.BackendKind, set *PatchSet, cwd string) ExecDecision {
	if len(set.Actions) == 0 {
		return ExecDecision{Kind: RejectDecision}
	}
	if approval == turnctx.UnlessTrusted {
		return ExecDecision{Kind: AskUser}
	}

	inRoot := allPathsWritable(set.AffectedPaths(), policy, cwd)

	switch approval {
	case turnctx.OnRequest:
		if inRoot || policy.Kind == sandbox.DangerFullAccess {
			return ExecDecision{Kind: AutoApprove, Backend: backendFor(policy, platform)}
		}
		return ExecDecision{Kind: AskUser}

	case turnctx.OnFailure:
		if policy.Kind == sandbox.DangerFullAccess {
			return ExecDecision{Kind: AutoApprove, Backend: sandbox.BackendNone}
		}
		if inRoot {
			return ExecDecision{Kind: AutoApprove, Backend: backendFor(policy, platform)}
		}
		if platform == sandbox.BackendNone {
			return ExecDecision{Kind: AskUser}
		}
		return ExecDecision{Kind: AutoApprove, Backend: platform}

	case turnctx.Never:
		if policy.Kind == sandbox.DangerFullAccess {
			return ExecDecision{Kind: AutoApprove, Backend: sandbox.BackendNone}
		}
		if !inRoot {
			return ExecDecision{Kind: RejectDecision}
		}
		return ExecDecision{Kind: AutoApprove, Backend: backendFor(policy, platform)}

	default:
		return ExecDecision{Kind: AskUser}
	}
}

func backendFor(policy sandbox.Policy, platform sandbox.BackendKind) sandbox.BackendKind {
	if policy.Kind == sandbox.DangerFullAccess {
		return sandbox.BackendNone
	}
	return platform
}

func allPathsWritable(paths []string, policy sandbox.Policy, cwd string) bool {
	if policy.Kind == sandbox.DangerFullAccess {
		return true
	}
	roots := policy.GetWritableRootsWithCwd(cwd)
	for _, p := range paths {
		if !underAnyRoot(filepath.Clean(p), roots) {
			return false
		}
	}
	return true
}

func underAnyRoot(p string, roots []sandbox.WritableRoot) bool {
	for _, r := range roots {
		if p == r.Root || strings.HasPrefix(p, r.Root+string(filepath.Separator)) {
			if !underReadOnlySubpath(p, r.ReadOnlySubpaths) {
				return true
			}
		}
	}
	return false
}

func underReadOnlySubpath(p string, subpaths []string) bool {
	for _, s := range subpaths {
		if p == s || strings.HasPrefix(p, s+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
