package tooldispatch

import (
	"testing"

	"github.com/coreagent/runtime/internal/turnctx"
	"github.com/coreagent/runtime/internal/sandbox"
)

func TestParsePatchAddDeleteUpdate(t *testing.T) {
	cwd := "/repo"
	body := `*** Begin Patch
*** Add File: new.txt
+hello
+world
*** Delete File: old.txt
*** Update File: existing.txt
@@ -1,1 +1,1 @@
-foo
+bar
*** End Patch`

	set, err := ParsePatch(body, cwd)
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if len(set.Actions) != 3 {
		t.Fatalf("got %d actions, want 3", len(set.Actions))
	}

	add := set.Actions[0]
	if add.Kind != PatchAdd || add.Path != "/repo/new.txt" {
		t.Errorf("add action = %+v", add)
	}
	if add.Content != "hello\nworld\n" {
		t.Errorf("add content = %q", add.Content)
	}

	del := set.Actions[1]
	if del.Kind != PatchDelete || del.Path != "/repo/old.txt" {
		t.Errorf("delete action = %+v", del)
	}

	upd := set.Actions[2]
	if upd.Kind != PatchUpdate || upd.Path != "/repo/existing.txt" {
		t.Errorf("update action = %+v", upd)
	}
}

func TestParsePatchWithMove(t *testing.T) {
	body := `*** Begin Patch
*** Update File: a.txt
*** Move to: b.txt
@@ -1,1 +1,1 @@
-x
+y
*** End Patch`
	set, err := ParsePatch(body, "/repo")
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if len(set.Actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(set.Actions))
	}
	if set.Actions[0].MovePath != "/repo/b.txt" {
		t.Errorf("MovePath = %q, want /repo/b.txt", set.Actions[0].MovePath)
	}
}

func TestParsePatchRejectsMissingMarkers(t *testing.T) {
	if _, err := ParsePatch("*** Add File: a.txt\n+x\n", "/repo"); err == nil {
		t.Errorf("expected error for missing Begin/End markers")
	}
}

func TestParsePatchRejectsEmptyBody(t *testing.T) {
	_, err := ParsePatch("*** Begin Patch\n*** End Patch", "/repo")
	if err != errEmptyPatch {
		t.Errorf("err = %v, want errEmptyPatch", err)
	}
}

func TestAffectedPathsIncludesMoveDestination(t *testing.T) {
	set := &PatchSet{Actions: []PatchAction{
		{Path: "/repo/a.txt", Kind: PatchUpdate, MovePath: "/repo/b.txt"},
		{Path: "/repo/c.txt", Kind: PatchAdd},
	}}
	got := set.AffectedPaths()
	want := []string{"/repo/a.txt", "/repo/b.txt", "/repo/c.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecidePatchUnlessTrustedAlwaysAsks(t *testing.T) {
	set := &PatchSet{Actions: []PatchAction{{Path: "/repo/a.txt", Kind: PatchAdd}}}
	policy := sandbox.Policy{Kind: sandbox.WorkspaceWrite, WritableRoots: []string{"/repo"}}
	got := DecidePatch(turnctx.UnlessTrusted, policy, sandbox.BackendSeccomp, set, "/repo")
	if got.Kind != AskUser {
		t.Errorf("Kind = %v, want AskUser", got.Kind)
	}
}

func TestDecidePatchOnRequestInRootAutoApproves(t *testing.T) {
	set := &PatchSet{Actions: []PatchAction{{Path: "/repo/a.txt", Kind: PatchAdd}}}
	policy := sandbox.Policy{Kind: sandbox.WorkspaceWrite, WritableRoots: []string{"/repo"}, ExcludeSlashTmp: true}
	got := DecidePatch(turnctx.OnRequest, policy, sandbox.BackendSeccomp, set, "/repo")
	if got.Kind != AutoApprove {
		t.Errorf("Kind = %v, want AutoApprove", got.Kind)
	}
}

func TestDecidePatchOnRequestOutOfRootAsks(t *testing.T) {
	set := &PatchSet{Actions: []PatchAction{{Path: "/etc/passwd", Kind: PatchUpdate}}}
	policy := sandbox.Policy{Kind: sandbox.WorkspaceWrite, WritableRoots: []string{"/repo"}, ExcludeSlashTmp: true}
	got := DecidePatch(turnctx.OnRequest, policy, sandbox.BackendSeccomp, set, "/repo")
	if got.Kind != AskUser {
		t.Errorf("Kind = %v, want AskUser", got.Kind)
	}
}

func TestDecidePatchOnFailureOutOfRootWithSandboxAutoApproves(t *testing.T) {
	set := &PatchSet{Actions: []PatchAction{{Path: "/etc/passwd", Kind: PatchUpdate}}}
	policy := sandbox.Policy{Kind: sandbox.WorkspaceWrite, WritableRoots: []string{"/repo"}, ExcludeSlashTmp: true}
	got := DecidePatch(turnctx.OnFailure, policy, sandbox.BackendSeccomp, set, "/repo")
	if got.Kind != AutoApprove || got.Backend != sandbox.BackendSeccomp {
		t.Errorf("got %+v, want AutoApprove/Seccomp (sandbox enforces the out-of-root block)", got)
	}
}

func TestDecidePatchOnFailureOutOfRootWithoutSandboxAsks(t *testing.T) {
	set := &PatchSet{Actions: []PatchAction{{Path: "/etc/passwd", Kind: PatchUpdate}}}
	policy := sandbox.Policy{Kind: sandbox.WorkspaceWrite, WritableRoots: []string{"/repo"}, ExcludeSlashTmp: true}
	got := DecidePatch(turnctx.OnFailure, policy, sandbox.BackendNone, set, "/repo")
	if got.Kind != AskUser {
		t.Errorf("got %+v, want AskUser (no sandbox backend to catch the out-of-root write)", got)
	}
}

func TestDecidePatchNeverRejectsOutOfRoot(t *testing.T) {
	set := &PatchSet{Actions: []PatchAction{{Path: "/etc/passwd", Kind: PatchUpdate}}}
	policy := sandbox.Policy{Kind: sandbox.WorkspaceWrite, WritableRoots: []string{"/repo"}, ExcludeSlashTmp: true}
	got := DecidePatch(turnctx.Never, policy, sandbox.BackendSeccomp, set, "/repo")
	if got.Kind != RejectDecision {
		t.Errorf("got %+v, want RejectDecision", got)
	}
}
