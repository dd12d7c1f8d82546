// Package tooldispatch routes model tool calls to the exec pipeline, the
// patch applier, the plan tracker, the PTY session manager, or an external
// tool server, and implements the approval/sandbox safety pipeline that
// gates command execution: an up-front safety classification of the
// command argv, since commands run as real child processes (internal/
// sandbox), not inside an in-process interpreter.
package tooldispatch

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/coreagent/runtime/internal/turnctx"
	"github.com/coreagent/runtime/internal/sandbox"
)

// trustedCommands lists argv[0] values that are safe to auto-approve without
// a sandbox, regardless of approval policy.
var trustedCommands = map[string]bool{
	"cat": true, "cd": true, "echo": true, "false": true, "grep": true,
	"head": true, "ls": true, "nl": true, "pwd": true, "tail": true,
	"true": true, "wc": true, "which": true,
}

var findDangerousFlags = map[string]bool{
	"-exec": true, "-execdir": true, "-ok": true, "-okdir": true,
	"-delete": true, "-fls": true, "-fprint": true, "-fprint0": true, "-fprintf": true,
}

var rgDangerousFlags = map[string]bool{
	"--pre": true, "--hostname-bin": true, "--search-zip": true, "-z": true,
}

var trustedGitSubcommands = map[string]bool{
	"branch": true, "status": true, "log": true, "diff": true, "show": true,
}

// IsTrustedCommand reports whether argv is one of the explicitly trusted
// invocations that runs without a sandbox and without asking the user.
func IsTrustedCommand(argv []string) bool {
	if len(argv) == 0 {
		return false
	}

	switch argv[0] {
	case "find":
		for _, a := range argv[1:] {
			if findDangerousFlags[a] {
				return false
			}
		}
		return true
	case "rg":
		for _, a := range argv[1:] {
			if rgDangerousFlags[a] {
				return false
			}
		}
		return true
	case "git":
		return len(argv) >= 2 && trustedGitSubcommands[argv[1]]
	case "cargo":
		return len(argv) >= 2 && argv[1] == "check"
	case "sed":
		return isTrustedSed(argv[1:])
	default:
		return trustedCommands[argv[0]]
	}
}

// isTrustedSed matches "sed -n <N|M,N>p FILE".
func isTrustedSed(args []string) bool {
	if len(args) != 3 || args[0] != "-n" {
		return false
	}
	expr := args[1]
	if !strings.HasSuffix(expr, "p") {
		return false
	}
	body := strings.TrimSuffix(expr, "p")
	if body == "" {
		return false
	}
	for _, part := range strings.SplitN(body, ",", 2) {
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
		if part == "" {
			return false
		}
	}
	return true
}

// IsTrustedBashSequence reports whether command is a "bash -lc" argv whose
// script is a sequence of trusted commands joined only by &&, ||, ;, | with
// no redirections, substitutions, expansions, or subshells.
func IsTrustedBashSequence(argv []string) bool {
	if len(argv) != 3 || argv[0] != "bash" || argv[1] != "-lc" {
		return false
	}
	script := argv[2]

	parsed, err := syntax.NewParser().Parse(strings.NewReader(script), "")
	if err != nil {
		return false
	}
	if len(parsed.Stmts) == 0 {
		return false
	}

	allTrusted := true
	syntax.Walk(parsed, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.Redirect:
			allTrusted = false
			return false
		case *syntax.Subshell:
			allTrusted = false
			return false
		case *syntax.CmdSubst:
			allTrusted = false
			return false
		case *syntax.ProcSubst:
			allTrusted = false
			return false
		case *syntax.ParamExp:
			allTrusted = false
			return false
		case *syntax.ExtGlob:
			allTrusted = false
			return false
		case *syntax.Block, *syntax.IfClause, *syntax.WhileClause, *syntax.ForClause, *syntax.CaseClause, *syntax.FuncDecl, *syntax.ArithmCmd, *syntax.ArithmExp, *syntax.TestClause, *syntax.DeclClause, *syntax.LetClause, *syntax.TimeClause, *syntax.CoprocClause:
			allTrusted = false
			return false
		case *syntax.Stmt:
			if n.Background || n.Coprocess || n.Negated {
				allTrusted = false
				return false
			}
		case *syntax.CallExpr:
			words := wordArgs(n)
			if words == nil || (len(words) > 0 && !IsTrustedCommand(words)) {
				allTrusted = false
				return false
			}
		}
		return true
	})
	return allTrusted
}

// wordArgs extracts the literal string value of each simple word in a call
// expression, returning nil if any word isn't a plain literal (so expansions
// conservatively fail the trust check).
func wordArgs(call *syntax.CallExpr) []string {
	out := make([]string, 0, len(call.Args))
	for _, w := range call.Args {
		lit := literalWord(w)
		if lit == "" && len(w.Parts) > 0 {
			return nil
		}
		out = append(out, lit)
	}
	return out
}

func literalWord(w *syntax.Word) string {
	var b strings.Builder
	for _, part := range w.Parts {
		lit, ok := part.(*syntax.Lit)
		if !ok {
			return ""
		}
		b.WriteString(lit.Value)
	}
	return b.String()
}

// DecisionKind is the safety pipeline's verdict for one exec request.
type DecisionKind int

const (
	AutoApprove DecisionKind = iota
	AskUser
	RejectDecision
)

// ExecDecision carries the verdict plus, for AutoApprove, which sandbox
// backend to run under.
type ExecDecision struct {
	Kind    DecisionKind
	Backend sandbox.BackendKind
}

// DecideExec implements the approval policy x sandbox decision table. argv is
// assumed already checked against the trusted-command/trusted-sequence/
// session-approved-set fast paths by the caller (Dispatcher.execDecision).
func DecideExec(approval turnctx.AskForApproval, policyKind sandbox.Kind, platform sandbox.BackendKind, escalationRequested bool) ExecDecision {
	switch approval {
	case turnctx.UnlessTrusted:
		return ExecDecision{Kind: AskUser}

	case turnctx.OnRequest:
		if policyKind == sandbox.DangerFullAccess {
			return ExecDecision{Kind: AutoApprove, Backend: sandbox.BackendNone}
		}
		if escalationRequested {
			return ExecDecision{Kind: AskUser}
		}
		if platform == sandbox.BackendNone {
			return ExecDecision{Kind: AskUser}
		}
		return ExecDecision{Kind: AutoApprove, Backend: platform}

	case turnctx.OnFailure:
		if policyKind == sandbox.DangerFullAccess {
			return ExecDecision{Kind: AutoApprove, Backend: sandbox.BackendNone}
		}
		if platform == sandbox.BackendNone {
			return ExecDecision{Kind: AskUser}
		}
		return ExecDecision{Kind: AutoApprove, Backend: platform}

	case turnctx.Never:
		if policyKind == sandbox.DangerFullAccess {
			return ExecDecision{Kind: AutoApprove, Backend: sandbox.BackendNone}
		}
		if platform == sandbox.BackendNone {
			return ExecDecision{Kind: RejectDecision}
		}
		return ExecDecision{Kind: AutoApprove, Backend: platform}

	default:
		return ExecDecision{Kind: AskUser}
	}
}
