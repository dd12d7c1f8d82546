package agent

import (
	"time"

	"github.com/coreagent/runtime/internal/turnctx"
)

// Event is one outbound message on the session's event channel. Every
// event carries the id of the submission that produced it.
type Event struct {
	ID  string
	Msg EventMsg
}

// EventKind discriminates the EventMsg tagged union.
type EventKind int

const (
	EvSessionConfigured EventKind = iota
	EvTaskStarted
	EvTaskComplete
	EvTurnAborted
	EvAgentMessage
	EvAgentMessageDelta
	EvAgentReasoning
	EvAgentReasoningDelta
	EvAgentReasoningRawContentDelta
	EvAgentReasoningSectionBreak
	EvExecCommandBegin
	EvExecCommandOutputDelta
	EvExecCommandEnd
	EvExecApprovalRequest
	EvPatchApplyBegin
	EvPatchApplyEnd
	EvApplyPatchApprovalRequest
	EvTurnDiff
	EvMcpToolCallBegin
	EvMcpToolCallEnd
	EvWebSearchBegin
	EvWebSearchEnd
	EvPlanUpdate
	EvTokenCount
	EvBackgroundEvent
	EvStreamError
	EvError
	EvShutdownComplete
	EvGetHistoryEntryResponse
	EvConversationHistory
	EvMcpListToolsResponse
	EvListCustomPromptsResponse
)

// AbortReason enumerates why a task/turn was aborted.
type AbortReason int

const (
	AbortReplaced AbortReason = iota
	AbortInterrupted
)

// OutputStream discriminates ExecCommandOutputDelta's stream field.
type OutputStream int

const (
	StreamStdout OutputStream = iota
	StreamStderr
)

// PlanStep is one entry of an update_plan tool call, aliased from
// internal/turnctx so internal/tooldispatch doesn't need to import this
// package to build the update_plan event payload.
type PlanStep = turnctx.PlanStep

// EventMsg is the tagged union of event payloads. Exactly one field group is
// meaningful per Kind.
type EventMsg struct {
	Kind EventKind

	// SessionConfigured
	ModelContextWindow int64

	// TaskStarted reuses ModelContextWindow.

	// TaskComplete
	LastAgentMessage string

	// TurnAborted
	AbortReason AbortReason

	// AgentMessage / AgentMessageDelta / AgentReasoning / AgentReasoningDelta /
	// AgentReasoningRawContentDelta
	Text string

	// ExecCommandBegin / ExecCommandEnd / ExecCommandOutputDelta
	CallID     string
	Command    []string
	Cwd        string
	Stream     OutputStream
	Chunk      []byte
	ExitCode   int
	Stdout     string
	Stderr     string
	Aggregated string
	Duration   time.Duration
	Formatted  string

	// ExecApprovalRequest / ApplyPatchApprovalRequest
	Reason    string
	Changes   map[string]string // path -> "add"|"delete"|"update"
	GrantRoot string

	// PatchApplyBegin / PatchApplyEnd
	AutoApproved bool
	Success      bool

	// TurnDiff
	UnifiedDiff string

	// McpToolCallBegin/End
	Server string
	Tool   string

	// WebSearchBegin/End
	Query string

	// PlanUpdate
	Plan        []PlanStep
	Explanation string

	// TokenCount
	Usage *TokenUsage

	// StreamError
	RetryAttempt int
	RetryTotal   int
	RetryIn      time.Duration

	// Error / BackgroundEvent
	Message string

	// GetHistoryEntryResponse
	LogID  int64
	Offset int
	Entry  string

	// ConversationHistory
	History []ResponseItem

	// McpListToolsResponse
	Tools []string

	// ListCustomPromptsResponse
	Prompts []string
}
