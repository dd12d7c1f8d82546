package tooldispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/coreagent/runtime/internal/turnctx"
	"github.com/coreagent/runtime/internal/agenterr"
	"github.com/coreagent/runtime/internal/sandbox"
)

// ExecRequest is one shell invocation to run through the exec pipeline.
type ExecRequest struct {
	Argv         []string
	Cwd          string
	TimeoutMs    int64
	Backend      sandbox.BackendKind
	Policy       sandbox.Policy
	SubmissionID string
	CallID       string
}

// ExecResult is the outcome of one exec pipeline run.
type ExecResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Aggregated string
	Duration   time.Duration
	Formatted  string
	TimedOut   bool
}

// ExecRunner runs a command under a sandbox backend (internal/execrun).
type ExecRunner interface {
	Run(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// PatchApplier applies a parsed patch set to disk and reports per-file
// success (internal/execrun, which writes and removes the files in-process
// rather than running a child process).
type PatchApplier interface {
	Apply(ctx context.Context, set *PatchSet) error
}

// PTYRouter routes exec_command/write_stdin to the PTY session manager
// (internal/execpty).
type PTYRouter interface {
	ExecCommand(ctx context.Context, args json.RawMessage) (string, error)
	WriteStdin(ctx context.Context, args json.RawMessage) (string, error)
}

// ExternalToolRouter routes a "<server>__<tool>" call to an MCP-bridged
// external tool server (internal/mcpbridge).
type ExternalToolRouter interface {
	CallTool(ctx context.Context, qualifiedName, argumentsJSON string) (string, bool, error)
	Recognizes(qualifiedName string) bool
}

// DiffRecorder captures a patch's effect for the turn diff tracker
// (internal/difftracker).
type DiffRecorder interface {
	RecordPatch(set *PatchSet)
}

// ApprovalRequest is what the dispatcher asks the session to relay to the
// user for an AskUser verdict.
type ApprovalRequest struct {
	CallID    string
	Command   []string
	Cwd       string
	Reason    string
	Changes   map[string]string
	GrantRoot string
	IsPatch   bool
}

// Approver suspends the calling goroutine until the user replies to an
// approval request (implemented by the session's pending-approval table).
type Approver interface {
	RequestApproval(submissionID string, req ApprovalRequest) turnctx.ApprovalDecision
	MarkArgvApproved(argv []string)
	IsArgvApproved(argv []string) bool
}

// ToolCall is one model-issued tool invocation awaiting dispatch.
type ToolCall struct {
	Name         string
	ArgumentsRaw string
	CallID       string
	IsCustomTool bool // true for the freeform apply_patch variant
}

// Dispatcher wires together the exec pipeline, patch applier, plan tracker,
// PTY router, and external tool router behind one Dispatch entrypoint.
type Dispatcher struct {
	Runner         ExecRunner
	Patcher        PatchApplier
	PTY            PTYRouter
	External       ExternalToolRouter
	Diffs          DiffRecorder
	ApplyPatchPath string // argv[0] for the apply_patch exec convention
	Platform       sandbox.BackendKind
}

// DispatchResult is the outcome of routing one tool call: the text to feed
// back to the model plus any side effect the session must apply (a plan
// update to broadcast, an image path to queue for the next turn's input).
type DispatchResult struct {
	Output         string
	Success        bool
	PlanUpdate     *PlanUpdateResult
	ViewImagePath  string
}

// Dispatch produces the FunctionCallOutput text (or custom-tool-call output)
// to feed back to the model for one tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, submissionID string, call ToolCall, tc turnctx.TurnContext, approver Approver) DispatchResult {
	switch {
	case call.Name == "shell" || call.Name == "container.exec":
		out, ok := d.dispatchShell(ctx, submissionID, call, tc, approver)
		return DispatchResult{Output: out, Success: ok}

	case call.Name == "apply_patch":
		out, ok := d.dispatchApplyPatch(ctx, submissionID, call, tc, approver)
		return DispatchResult{Output: out, Success: ok}

	case call.Name == "update_plan":
		out, ok, plan := d.dispatchUpdatePlan(call)
		return DispatchResult{Output: out, Success: ok, PlanUpdate: plan}

	case call.Name == "view_image":
		out, ok := d.dispatchViewImage(call, tc.Cwd)
		return DispatchResult{Output: out, Success: ok, ViewImagePath: out}

	case call.Name == "exec_command":
		if d.PTY == nil {
			return DispatchResult{Output: "unsupported call"}
		}
		out, err := d.PTY.ExecCommand(ctx, json.RawMessage(call.ArgumentsRaw))
		if err != nil {
			return DispatchResult{Output: err.Error()}
		}
		return DispatchResult{Output: out, Success: true}

	case call.Name == "write_stdin":
		if d.PTY == nil {
			return DispatchResult{Output: "unsupported call"}
		}
		out, err := d.PTY.WriteStdin(ctx, json.RawMessage(call.ArgumentsRaw))
		if err != nil {
			return DispatchResult{Output: err.Error()}
		}
		return DispatchResult{Output: out, Success: true}

	case d.External != nil && d.External.Recognizes(call.Name):
		out, ok, err := d.External.CallTool(ctx, call.Name, call.ArgumentsRaw)
		if err != nil {
			return DispatchResult{Output: err.Error()}
		}
		return DispatchResult{Output: out, Success: ok}

	default:
		return DispatchResult{Output: "unsupported call"}
	}
}

type shellArgs struct {
	Command                  []string `json:"command"`
	Workdir                  string   `json:"workdir"`
	TimeoutMs                int64    `json:"timeout_ms"`
	WithEscalatedPermissions bool     `json:"with_escalated_permissions"`
	Justification            string   `json:"justification"`
}

func (d *Dispatcher) dispatchShell(ctx context.Context, submissionID string, call ToolCall, tc turnctx.TurnContext, approver Approver) (string, bool) {
	var args shellArgs
	if err := json.Unmarshal([]byte(call.ArgumentsRaw), &args); err != nil {
		return fmt.Sprintf("failed to parse shell arguments: %v", err), false
	}
	if len(args.Command) == 0 {
		return "shell command must not be empty", false
	}

	cwd := tc.Cwd
	if args.Workdir != "" {
		cwd = args.Workdir
	}

	decision := d.execDecision(args.Command, tc, args.WithEscalatedPermissions, approver)
	if decision.Kind == RejectDecision {
		return "command rejected by policy", false
	}
	if decision.Kind == AskUser {
		reply := approver.RequestApproval(submissionID, ApprovalRequest{
			CallID:  call.CallID,
			Command: args.Command,
			Cwd:     cwd,
			Reason:  args.Justification,
		})
		switch reply {
		case turnctx.Denied:
			return "command not approved", false
		case turnctx.Abort:
			return "turn interrupted", false
		case turnctx.ApprovedForSession:
			approver.MarkArgvApproved(args.Command)
		}
		decision = ExecDecision{Kind: AutoApprove, Backend: backendFor(tc.Sandbox, d.Platform)}
	}

	req := ExecRequest{
		Argv:         args.Command,
		Cwd:          cwd,
		TimeoutMs:    args.TimeoutMs,
		Backend:      decision.Backend,
		Policy:       tc.Sandbox,
		SubmissionID: submissionID,
		CallID:       call.CallID,
	}
	result, err := d.Runner.Run(ctx, req)
	if err != nil {
		if isSandboxDenied(err) && (tc.Approval == turnctx.OnFailure || tc.Approval == turnctx.UnlessTrusted) {
			reply := approver.RequestApproval(submissionID, ApprovalRequest{
				CallID:  call.CallID,
				Command: args.Command,
				Cwd:     cwd,
				Reason:  "command failed; retry without sandbox?",
			})
			if reply == turnctx.Approved || reply == turnctx.ApprovedForSession {
				req.Backend = sandbox.BackendNone
				result, err = d.Runner.Run(ctx, req)
			}
		}
		if err != nil {
			return err.Error(), false
		}
	}

	return result.Formatted, result.ExitCode == 0
}

func (d *Dispatcher) execDecision(argv []string, tc turnctx.TurnContext, escalationRequested bool, approver Approver) ExecDecision {
	if IsTrustedCommand(argv) || IsTrustedBashSequence(argv) || (approver != nil && approver.IsArgvApproved(argv)) {
		return ExecDecision{Kind: AutoApprove, Backend: sandbox.BackendNone}
	}
	return DecideExec(tc.Approval, tc.Sandbox.Kind, d.Platform, escalationRequested)
}

func isSandboxDenied(err error) bool {
	var sbErr *agenterr.SandboxError
	return errors.As(err, &sbErr) && sbErr.Kind == agenterr.SandboxDenied
}

func (d *Dispatcher) dispatchApplyPatch(ctx context.Context, submissionID string, call ToolCall, tc turnctx.TurnContext, approver Approver) (string, bool) {
	patchText := call.ArgumentsRaw
	if !call.IsCustomTool {
		var args struct {
			Input string `json:"input"`
		}
		if err := json.Unmarshal([]byte(call.ArgumentsRaw), &args); err != nil {
			return fmt.Sprintf("failed to parse apply_patch arguments: %v", err), false
		}
		patchText = args.Input
	}

	set, err := ParsePatch(patchText, tc.Cwd)
	if err != nil {
		return fmt.Sprintf("patch parse error: %v", err), false
	}

	decision := DecidePatch(tc.Approval, tc.Sandbox, d.Platform, set, tc.Cwd)
	if decision.Kind == RejectDecision {
		return "patch rejected: write outside workspace", false
	}
	if decision.Kind == AskUser {
		changes := make(map[string]string, len(set.Actions))
		for _, a := range set.Actions {
			changes[a.Path] = patchActionVerb(a.Kind)
		}
		reply := approver.RequestApproval(submissionID, ApprovalRequest{
			CallID:  call.CallID,
			Changes: changes,
			IsPatch: true,
		})
		switch reply {
		case turnctx.Denied:
			return "patch not approved", false
		case turnctx.Abort:
			return "turn interrupted", false
		}
	}

	// Baselines must be captured before the write lands on disk, or the
	// diff tracker would see identical before/after content.
	if d.Diffs != nil {
		d.Diffs.RecordPatch(set)
	}
	if err := d.Patcher.Apply(ctx, set); err != nil {
		return fmt.Sprintf("failed to apply patch: %v", err), false
	}
	return "patch applied", true
}

func patchActionVerb(k PatchActionKind) string {
	switch k {
	case PatchAdd:
		return "add"
	case PatchDelete:
		return "delete"
	default:
		return "update"
	}
}

// PlanUpdateResult carries a parsed update_plan call for the session to
// surface as a PlanUpdate event.
type PlanUpdateResult struct {
	Explanation string
	Plan        []turnctx.PlanStep
}

type updatePlanArgs struct {
	Explanation string `json:"explanation"`
	Plan        []struct {
		Step   string `json:"step"`
		Status string `json:"status"`
	} `json:"plan"`
}

func (d *Dispatcher) dispatchUpdatePlan(call ToolCall) (string, bool, *PlanUpdateResult) {
	var args updatePlanArgs
	if err := json.Unmarshal([]byte(call.ArgumentsRaw), &args); err != nil {
		return fmt.Sprintf("failed to parse update_plan arguments: %v", err), false, nil
	}

	inProgress := 0
	steps := make([]turnctx.PlanStep, 0, len(args.Plan))
	for _, s := range args.Plan {
		switch s.Status {
		case "pending", "in_progress", "completed":
		default:
			return fmt.Sprintf("invalid plan step status %q", s.Status), false, nil
		}
		if s.Status == "in_progress" {
			inProgress++
		}
		steps = append(steps, turnctx.PlanStep{Step: s.Step, Status: s.Status})
	}
	if inProgress > 1 {
		return "at most one plan step may be in_progress", false, nil
	}

	return "plan updated", true, &PlanUpdateResult{Explanation: args.Explanation, Plan: steps}
}

type viewImageArgs struct {
	Path string `json:"path"`
}

func (d *Dispatcher) dispatchViewImage(call ToolCall, cwd string) (string, bool) {
	var args viewImageArgs
	if err := json.Unmarshal([]byte(call.ArgumentsRaw), &args); err != nil {
		return fmt.Sprintf("failed to parse view_image arguments: %v", err), false
	}
	if args.Path == "" {
		return "path must not be empty", false
	}
	if filepath.IsAbs(args.Path) {
		return filepath.Clean(args.Path), true
	}
	return filepath.Join(cwd, args.Path), true
}
