// Package turnctx holds the small set of types shared between
// internal/agent (the session/turn runner, which owns and mutates turn
// configuration and approval state) and internal/tooldispatch (the tool
// safety pipeline, which reads turn configuration to decide whether a
// command needs approval and calls back into the session to request one).
//
// Split out as its own leaf package for the same reason as
// internal/transcript: tooldispatch needs TurnContext/ApprovalDecision/
// PlanStep to implement its Dispatch entrypoint, and agent's turn runner
// needs to call tooldispatch.Dispatcher.Dispatch — a package cannot import
// something that imports it back.
package turnctx

import (
	"github.com/coreagent/runtime/internal/envpolicy"
	"github.com/coreagent/runtime/internal/sandbox"
	"github.com/coreagent/runtime/internal/toolset"
)

// SandboxPolicy is an alias for the sandbox package's policy sum type, kept
// here so callers of this package don't need a second import for the type
// embedded in TurnContext.
type SandboxPolicy = sandbox.Policy

// AskForApproval is the configured rule for when to ask before an untrusted
// action.
type AskForApproval int

const (
	UnlessTrusted AskForApproval = iota
	OnFailure
	OnRequest
	Never
)

// TurnContext is immutable per turn.
type TurnContext struct {
	ModelSlug              string
	ModelFamily            string
	ReasoningEffort        string
	ReasoningSummary       string
	Provider               string
	WireForm               string // "responses" | "chat"
	Cwd                    string // effective working directory, absolute
	BaseInstructions       string
	UserInstructions       string
	Approval               AskForApproval
	Sandbox                SandboxPolicy
	ShellEnv               envpolicy.Policy
	DisableResponseStorage bool
	SurfaceRawReasoning    bool
	IsOAuthChatGPT         bool
	Tools                  toolset.Config
}

// Clone returns a shallow copy of the turn context, used when applying
// per-turn or persistent overrides without mutating a shared value.
func (tc TurnContext) Clone() TurnContext { return tc }

// ApprovalDecision is the user's reply to an approval request.
type ApprovalDecision int

const (
	Approved ApprovalDecision = iota
	ApprovedForSession
	Denied
	Abort
)

// PlanStep is one entry of an update_plan tool call.
type PlanStep struct {
	Step   string
	Status string // "pending" | "in_progress" | "completed"
}
