// Package agent implements the session and turn runner: the core state
// machine that accepts submissions from a front-end, drives multi-turn
// model conversations, dispatches tool calls, and emits events.
package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coreagent/runtime/internal/modelclient"
	"github.com/coreagent/runtime/internal/tooldispatch"
	"github.com/coreagent/runtime/internal/transcript"
	"github.com/coreagent/runtime/internal/turnctx"
	"github.com/google/uuid"
)

// SandboxPolicy is an alias for the sandbox package's policy sum type, kept
// here so callers of this package don't need a second import for the type
// embedded in TurnContext.
type SandboxPolicy = turnctx.SandboxPolicy

// Op is a tagged-variant submission operation.
type Op interface{ isOp() }

// InputItem is one piece of user-supplied turn input.
type InputItem struct {
	Text      string // set when this is a Text item
	ImagePath string // set when this is a LocalImage item
}

// OpUserInput aborts any running task (TurnAborted with reason Replaced) and
// spawns a new AgentTask with Items; it does not append to a running task's
// pending-input buffer.
type OpUserInput struct{ Items []InputItem }

// OpUserTurn derives a fresh TurnContext with per-turn overrides before
// behaving like OpUserInput.
type OpUserTurn struct {
	Items    []InputItem
	Cwd      string
	Approval *AskForApproval
	Sandbox  *SandboxPolicy
	Model    *string
	Effort   *string
	Summary  *string
}

// OpOverrideTurnContext replaces the persistent TurnContext used for future
// tasks.
type OpOverrideTurnContext struct {
	Cwd      *string
	Approval *AskForApproval
	Sandbox  *SandboxPolicy
	Model    *string
	Effort   *string
	Summary  *string
}

// OpInterrupt aborts the current task.
type OpInterrupt struct{}

// ApprovalDecision is the user's reply to an approval request, aliased from
// internal/turnctx so internal/tooldispatch doesn't need to import this
// package to declare its Approver interface.
type ApprovalDecision = turnctx.ApprovalDecision

const (
	Approved            = turnctx.Approved
	ApprovedForSession  = turnctx.ApprovedForSession
	Denied              = turnctx.Denied
	Abort               = turnctx.Abort
)

// OpExecApproval resolves a pending exec approval.
type OpExecApproval struct {
	ID       string
	Decision ApprovalDecision
}

// OpPatchApproval resolves a pending patch approval.
type OpPatchApproval struct {
	ID       string
	Decision ApprovalDecision
}

// OpAddToHistory appends a user-supplied text entry to the message-history log.
type OpAddToHistory struct{ Text string }

// OpGetHistoryEntryRequest looks up one history entry by log id and offset.
type OpGetHistoryEntryRequest struct {
	LogID  int64
	Offset int
}

// OpGetHistory requests the current in-memory conversation history.
type OpGetHistory struct{}

// OpListMcpTools requests the aggregated external tool-server tool list.
type OpListMcpTools struct{}

// OpListCustomPrompts requests the configured custom prompt list.
type OpListCustomPrompts struct{}

// OpCompact spawns a compaction task.
type OpCompact struct{}

// OpShutdown flushes and closes the session.
type OpShutdown struct{}

func (OpUserInput) isOp()            {}
func (OpUserTurn) isOp()             {}
func (OpOverrideTurnContext) isOp()  {}
func (OpInterrupt) isOp()            {}
func (OpExecApproval) isOp()         {}
func (OpPatchApproval) isOp()        {}
func (OpAddToHistory) isOp()         {}
func (OpGetHistoryEntryRequest) isOp() {}
func (OpGetHistory) isOp()           {}
func (OpListMcpTools) isOp()         {}
func (OpListCustomPrompts) isOp()    {}
func (OpCompact) isOp()              {}
func (OpShutdown) isOp()             {}

// Submission is one inbound message on the session's inbox.
type Submission struct {
	ID string
	Op Op
}

// AskForApproval is the configured rule for when to ask before an untrusted
// action, aliased from internal/turnctx so internal/tooldispatch doesn't
// need to import this package to read TurnContext.Approval.
type AskForApproval = turnctx.AskForApproval

const (
	UnlessTrusted = turnctx.UnlessTrusted
	OnFailure     = turnctx.OnFailure
	OnRequest     = turnctx.OnRequest
	Never         = turnctx.Never
)

// TokenUsage is non-negative token counts for one model turn, aliased from
// internal/transcript so internal/modelclient doesn't need to import this
// package to build a Completed event.
type TokenUsage = transcript.TokenUsage

// TurnContext is immutable per turn, aliased from internal/turnctx so
// internal/tooldispatch can read it without importing this package.
type TurnContext = turnctx.TurnContext

// PendingApproval is a one-shot reply channel, held in
// Session.pendingApprovals under the approval request's tool call id (not
// the submission id).
type PendingApproval struct {
	ReplyCh chan ApprovalDecision
}

// AgentTaskHandle lets the session cancel the turn runner goroutine for the
// currently running task.
type AgentTaskHandle struct {
	SubmissionID string
	cancel       func(reason string)
	done         chan struct{}
}

// Session is process-wide and long-lived.
type Session struct {
	ID string

	mu sync.Mutex

	inbox  chan Submission
	events chan Event

	history ConversationHistory

	approvedArgv map[string]struct{} // normalized argv -> present

	pendingApprovals map[string]*PendingApproval

	pendingInput []InputItem

	currentTask *AgentTaskHandle

	turnContext TurnContext

	mcp McpToolLister

	ptyManager PTYManager

	rollout RolloutRecorder

	notifierArgv []string

	shell string

	dispatcher  *tooldispatch.Dispatcher
	modelClient modelclient.Client
	diffs       DiffTracker
	historyLog  HistoryLog

	customPrompts []string
}

// McpToolLister is the subset of the external tool-server bridge the session
// needs for ListMcpTools and for assembling external tool schemas into a
// turn's Prompt.Tools.
type McpToolLister interface {
	ListToolNames() []string
	Schema(ctx context.Context, qualifiedName string) (json.RawMessage, string, bool)
}

// PTYManager is the subset of exec-command PTY session management the
// session needs to shut down live PTY sessions on Shutdown.
type PTYManager interface {
	CloseAll()
}

// RolloutRecorder is the subset of the rollout recorder the submission loop drives directly.
type RolloutRecorder interface {
	RecordItems(items []ResponseItem)
	Shutdown() error
}

// DiffTracker is the subset of the turn diff tracker the turn runner reads
// at Completed to decide whether to emit TurnDiff.
type DiffTracker interface {
	GetUnifiedDiff() string
}

// HistoryLog is the subset of the on-disk message-history log the
// submission loop drives for AddToHistory/GetHistoryEntryRequest.
type HistoryLog interface {
	Append(entry HistoryEntry) (offset int, logID uint64, err error)
	Lookup(logID uint64, offset int) (*HistoryEntry, error)
}

// HistoryEntry mirrors internal/history.Entry so this package doesn't need
// to import internal/history for a plain data shape.
type HistoryEntry struct {
	SessionID string
	Timestamp int64
	Text      string
}

// NewSession constructs a Session with the given inbox capacity; the event
// channel is buffered to 256.
func NewSession(id string, inboxCap int, tc TurnContext) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:               id,
		inbox:            make(chan Submission, inboxCap),
		events:           make(chan Event, 256),
		approvedArgv:     make(map[string]struct{}),
		pendingApprovals: make(map[string]*PendingApproval),
		turnContext:      tc,
	}
}

// Inbox returns the inbound submission channel.
func (s *Session) Inbox() chan<- Submission { return s.inbox }

// Events returns the outbound event channel.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) emit(id string, msg EventMsg) {
	s.events <- Event{ID: id, Msg: msg}
}

// turnDeadline is the default per-turn wall clock budget used only to bound
// compaction tasks; ordinary turns run until the model stream completes.
const turnDeadline = 10 * time.Minute
