// Package sandbox implements the sandbox policy types and the pluggable
// per-platform execution backends.
package sandbox

import (
	"os"
	"path/filepath"
)

// Kind discriminates the sandbox policy variants.
type Kind int

const (
	DangerFullAccess Kind = iota
	ReadOnly
	WorkspaceWrite
)

// WritableRoot is one filesystem root a WorkspaceWrite policy allows writes
// under, plus any read-only subpaths carved out of it (e.g. a contained
// .git directory).
type WritableRoot struct {
	Root             string   `json:"root"`
	ReadOnlySubpaths []string `json:"read_only_subpaths,omitempty"`
}

// Policy is one of DangerFullAccess | ReadOnly | WorkspaceWrite{writable_roots,
// network_access, exclude_tmpdir_env_var, exclude_slash_tmp}.
type Policy struct {
	Kind Kind

	// WorkspaceWrite fields; zero value for the other two kinds.
	WritableRoots       []string
	NetworkAccess       bool
	ExcludeTmpdirEnvVar bool
	ExcludeSlashTmp     bool
}

// AllowsNetwork reports whether this policy permits outbound/inbound network
// access.
func (p Policy) AllowsNetwork() bool {
	switch p.Kind {
	case DangerFullAccess:
		return true
	case WorkspaceWrite:
		return p.NetworkAccess
	default:
		return false
	}
}

// GetWritableRootsWithCwd expands a WorkspaceWrite policy into concrete
// roots, each carrying optional read-only subpaths — notably the cwd root's
// contained .git directory when cwd is inside a git repository.
func (p Policy) GetWritableRootsWithCwd(cwd string) []WritableRoot {
	if p.Kind != WorkspaceWrite {
		return nil
	}

	roots := make([]WritableRoot, 0, len(p.WritableRoots)+1)
	seen := make(map[string]bool)

	add := func(root string) {
		abs, err := filepath.Abs(root)
		if err != nil {
			abs = root
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		wr := WritableRoot{Root: abs}
		if gitDir := filepath.Join(abs, ".git"); dirExists(gitDir) {
			wr.ReadOnlySubpaths = append(wr.ReadOnlySubpaths, gitDir)
		}
		roots = append(roots, wr)
	}

	add(cwd)
	for _, r := range p.WritableRoots {
		add(r)
	}

	if !p.ExcludeSlashTmp {
		if dirExists(string(filepath.Separator) + "tmp") {
			add(string(filepath.Separator) + "tmp")
		}
	}

	return roots
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
