package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAllowsNetwork(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		want   bool
	}{
		{"danger full access always allows", Policy{Kind: DangerFullAccess}, true},
		{"read only never allows", Policy{Kind: ReadOnly}, false},
		{"workspace write off", Policy{Kind: WorkspaceWrite, NetworkAccess: false}, false},
		{"workspace write on", Policy{Kind: WorkspaceWrite, NetworkAccess: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.AllowsNetwork(); got != tc.want {
				t.Errorf("AllowsNetwork() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGetWritableRootsWithCwdNonWorkspaceWriteIsEmpty(t *testing.T) {
	p := Policy{Kind: ReadOnly}
	if roots := p.GetWritableRootsWithCwd("/tmp"); roots != nil {
		t.Errorf("roots = %v, want nil for a non-WorkspaceWrite policy", roots)
	}
}

func TestGetWritableRootsWithCwdIncludesCwdAndConfiguredRoots(t *testing.T) {
	cwd := t.TempDir()
	extra := t.TempDir()
	p := Policy{Kind: WorkspaceWrite, WritableRoots: []string{extra}, ExcludeSlashTmp: true}

	roots := p.GetWritableRootsWithCwd(cwd)
	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2: %+v", len(roots), roots)
	}
	if roots[0].Root != cwd {
		t.Errorf("first root = %q, want cwd %q", roots[0].Root, cwd)
	}
	if roots[1].Root != extra {
		t.Errorf("second root = %q, want %q", roots[1].Root, extra)
	}
}

func TestGetWritableRootsWithCwdDedupes(t *testing.T) {
	cwd := t.TempDir()
	p := Policy{Kind: WorkspaceWrite, WritableRoots: []string{cwd}, ExcludeSlashTmp: true}
	roots := p.GetWritableRootsWithCwd(cwd)
	if len(roots) != 1 {
		t.Fatalf("got %d roots, want 1 deduped entry: %+v", len(roots), roots)
	}
}

func TestGetWritableRootsWithCwdCarvesOutGitDir(t *testing.T) {
	cwd := t.TempDir()
	if err := os.Mkdir(filepath.Join(cwd, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	p := Policy{Kind: WorkspaceWrite, ExcludeSlashTmp: true}
	roots := p.GetWritableRootsWithCwd(cwd)
	if len(roots) != 1 {
		t.Fatalf("got %d roots, want 1: %+v", len(roots), roots)
	}
	want := filepath.Join(cwd, ".git")
	if len(roots[0].ReadOnlySubpaths) != 1 || roots[0].ReadOnlySubpaths[0] != want {
		t.Errorf("ReadOnlySubpaths = %v, want [%q]", roots[0].ReadOnlySubpaths, want)
	}
}

func TestGetWritableRootsWithCwdSkipsSlashTmpWhenExcluded(t *testing.T) {
	cwd := t.TempDir()
	p := Policy{Kind: WorkspaceWrite, ExcludeSlashTmp: true}
	roots := p.GetWritableRootsWithCwd(cwd)
	for _, r := range roots {
		if r.Root == string(filepath.Separator)+"tmp" {
			t.Errorf("expected /tmp to be excluded, got roots %+v", roots)
		}
	}
}
