package tooldispatch

import (
	"testing"

	"github.com/coreagent/runtime/internal/turnctx"
	"github.com/coreagent/runtime/internal/sandbox"
)

func TestIsTrustedCommand(t *testing.T) {
	cases := []struct {
		name string
		argv []string
		want bool
	}{
		{"plain trusted", []string{"ls", "-la"}, true},
		{"untrusted binary", []string{"curl", "https://example.com"}, false},
		{"find without dangerous flags", []string{"find", ".", "-name", "*.go"}, true},
		{"find with -delete", []string{"find", ".", "-delete"}, false},
		{"find with -exec", []string{"find", ".", "-exec", "rm", "{}", ";"}, false},
		{"rg plain", []string{"rg", "TODO"}, true},
		{"rg with --pre", []string{"rg", "--pre", "cat", "TODO"}, false},
		{"git status", []string{"git", "status"}, true},
		{"git diff", []string{"git", "diff"}, true},
		{"git push", []string{"git", "push"}, false},
		{"cargo check", []string{"cargo", "check"}, true},
		{"cargo build", []string{"cargo", "build"}, false},
		{"sed trusted single line", []string{"sed", "-n", "5p", "file.go"}, true},
		{"sed trusted range", []string{"sed", "-n", "5,10p", "file.go"}, true},
		{"sed untrusted in-place edit", []string{"sed", "-i", "s/a/b/", "file.go"}, false},
		{"sed missing -n", []string{"sed", "5p", "file.go"}, false},
		{"empty argv", []string{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTrustedCommand(tc.argv); got != tc.want {
				t.Errorf("IsTrustedCommand(%v) = %v, want %v", tc.argv, got, tc.want)
			}
		})
	}
}

func TestIsTrustedBashSequence(t *testing.T) {
	cases := []struct {
		name   string
		script string
		want   bool
	}{
		{"simple pipe of trusted commands", `ls | grep foo`, true},
		{"and-chain of trusted commands", `cd /tmp && ls`, true},
		{"semicolon chain", `pwd; echo done`, true},
		{"untrusted command in chain", `ls && rm -rf /`, false},
		{"redirection rejected", `echo hi > /tmp/out`, false},
		{"subshell rejected", `(cd /tmp && ls)`, false},
		{"command substitution rejected", `echo $(ls)`, false},
		{"parameter expansion rejected", `echo $HOME`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			argv := []string{"bash", "-lc", tc.script}
			if got := IsTrustedBashSequence(argv); got != tc.want {
				t.Errorf("IsTrustedBashSequence(%q) = %v, want %v", tc.script, got, tc.want)
			}
		})
	}
}

func TestIsTrustedBashSequenceRequiresExactArgvShape(t *testing.T) {
	if IsTrustedBashSequence([]string{"sh", "-c", "ls"}) {
		t.Errorf("expected sh -c to be rejected (only bash -lc qualifies)")
	}
	if IsTrustedBashSequence([]string{"bash", "-lc"}) {
		t.Errorf("expected missing script argument to be rejected")
	}
}

func TestDecideExecUnlessTrustedAlwaysAsks(t *testing.T) {
	got := DecideExec(turnctx.UnlessTrusted, sandbox.WorkspaceWrite, sandbox.BackendSeccomp, false)
	if got.Kind != AskUser {
		t.Errorf("DecideExec(UnlessTrusted) = %v, want AskUser", got.Kind)
	}
}

func TestDecideExecOnRequest(t *testing.T) {
	cases := []struct {
		name        string
		policyKind  sandbox.Kind
		platform    sandbox.BackendKind
		escalation  bool
		wantKind    DecisionKind
		wantBackend sandbox.BackendKind
	}{
		{"danger full access always auto-approves unsandboxed", sandbox.DangerFullAccess, sandbox.BackendSeccomp, false, AutoApprove, sandbox.BackendNone},
		{"escalation requested asks", sandbox.WorkspaceWrite, sandbox.BackendSeccomp, true, AskUser, 0},
		{"no platform backend asks", sandbox.WorkspaceWrite, sandbox.BackendNone, false, AskUser, 0},
		{"platform backend auto-approves sandboxed", sandbox.WorkspaceWrite, sandbox.BackendSeccomp, false, AutoApprove, sandbox.BackendSeccomp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecideExec(turnctx.OnRequest, tc.policyKind, tc.platform, tc.escalation)
			if got.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tc.wantKind)
			}
			if got.Kind == AutoApprove && got.Backend != tc.wantBackend {
				t.Errorf("Backend = %v, want %v", got.Backend, tc.wantBackend)
			}
		})
	}
}

func TestDecideExecOnFailure(t *testing.T) {
	if got := DecideExec(turnctx.OnFailure, sandbox.DangerFullAccess, sandbox.BackendSeccomp, false); got.Kind != AutoApprove || got.Backend != sandbox.BackendNone {
		t.Errorf("DangerFullAccess: got %+v", got)
	}
	if got := DecideExec(turnctx.OnFailure, sandbox.WorkspaceWrite, sandbox.BackendNone, false); got.Kind != AskUser {
		t.Errorf("no platform backend: got %+v, want AskUser", got)
	}
	if got := DecideExec(turnctx.OnFailure, sandbox.WorkspaceWrite, sandbox.BackendSeatbelt, false); got.Kind != AutoApprove || got.Backend != sandbox.BackendSeatbelt {
		t.Errorf("with platform backend: got %+v", got)
	}
}

func TestDecideExecNever(t *testing.T) {
	if got := DecideExec(turnctx.Never, sandbox.DangerFullAccess, sandbox.BackendSeccomp, false); got.Kind != AutoApprove || got.Backend != sandbox.BackendNone {
		t.Errorf("DangerFullAccess: got %+v", got)
	}
	if got := DecideExec(turnctx.Never, sandbox.WorkspaceWrite, sandbox.BackendNone, false); got.Kind != RejectDecision {
		t.Errorf("no platform backend: got %+v, want RejectDecision", got)
	}
	if got := DecideExec(turnctx.Never, sandbox.WorkspaceWrite, sandbox.BackendSeccomp, false); got.Kind != AutoApprove || got.Backend != sandbox.BackendSeccomp {
		t.Errorf("with platform backend: got %+v", got)
	}
}
