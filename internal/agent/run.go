package agent

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/coreagent/runtime/internal/modelclient"
)

// Run drains the inbox until OpShutdown, dispatching each submission to its
// handler. It blocks until the session is shut down or the inbox is closed.
func (s *Session) Run(ctx context.Context) {
	for sub := range s.inbox {
		if s.handle(ctx, sub) {
			return
		}
	}
}

// handle dispatches one submission, returning true once the session should
// stop processing further submissions.
func (s *Session) handle(ctx context.Context, sub Submission) bool {
	switch op := sub.Op.(type) {
	case OpInterrupt:
		s.doInterrupt(sub.ID)
	case OpUserInput:
		s.doUserInput(ctx, sub.ID, op.Items)
	case OpUserTurn:
		s.doUserTurn(ctx, sub.ID, op)
	case OpOverrideTurnContext:
		s.doOverrideTurnContext(sub.ID, op)
	case OpExecApproval:
		s.resolveApproval(op.ID, op.Decision)
	case OpPatchApproval:
		s.resolveApproval(op.ID, op.Decision)
	case OpAddToHistory:
		s.doAddToHistory(sub.ID, op.Text)
	case OpGetHistoryEntryRequest:
		s.doGetHistoryEntry(sub.ID, op)
	case OpGetHistory:
		s.doGetHistory(sub.ID)
	case OpListMcpTools:
		s.doListMcpTools(sub.ID)
	case OpListCustomPrompts:
		s.doListCustomPrompts(sub.ID)
	case OpCompact:
		s.doCompact(ctx, sub.ID)
	case OpShutdown:
		s.doShutdown(sub.ID)
		return true
	}
	return false
}

// doInterrupt cancels the running task (if any), aborts every outstanding
// approval with Abort, and discards any buffered next-turn input.
func (s *Session) doInterrupt(submissionID string) {
	s.mu.Lock()
	task := s.currentTask
	s.pendingInput = nil
	pending := s.pendingApprovals
	s.pendingApprovals = make(map[string]*PendingApproval)
	s.mu.Unlock()

	for _, p := range pending {
		select {
		case p.ReplyCh <- Abort:
		default:
		}
	}

	if task != nil {
		task.cancel("interrupted")
	}

	s.emit(submissionID, EventMsg{Kind: EvTurnAborted, AbortReason: AbortInterrupted})
}

// abortCurrentTaskForReplace cancels and waits out the currently running
// task (if any), emitting exactly one TurnAborted{Replaced} for its
// submission id before the caller spawns its own task. A no-op if no task
// is running.
func (s *Session) abortCurrentTaskForReplace() {
	s.mu.Lock()
	task := s.currentTask
	s.pendingInput = nil
	s.mu.Unlock()
	if task == nil {
		return
	}

	task.cancel("replaced")
	<-task.done

	s.emit(task.SubmissionID, EventMsg{Kind: EvTurnAborted, AbortReason: AbortReplaced})
}

// doUserInput aborts any running task (superseding it, per "starting
// another task first aborts the previous with reason Replaced") and spawns
// a new task with the session's persistent turn context.
func (s *Session) doUserInput(ctx context.Context, submissionID string, items []InputItem) {
	s.abortCurrentTaskForReplace()

	s.mu.Lock()
	tc := s.turnContext
	s.mu.Unlock()

	s.spawnTask(ctx, submissionID, items, tc)
}

// doUserTurn behaves like doUserInput but derives a fresh TurnContext
// carrying this turn's overrides without persisting them to the session.
func (s *Session) doUserTurn(ctx context.Context, submissionID string, op OpUserTurn) {
	s.abortCurrentTaskForReplace()

	s.mu.Lock()
	tc := s.turnContext.Clone()
	s.mu.Unlock()

	if op.Cwd != "" {
		tc.Cwd = op.Cwd
	}
	if op.Approval != nil {
		tc.Approval = *op.Approval
	}
	if op.Sandbox != nil {
		tc.Sandbox = *op.Sandbox
	}
	if op.Model != nil {
		tc.ModelSlug = *op.Model
	}
	if op.Effort != nil {
		tc.ReasoningEffort = *op.Effort
	}
	if op.Summary != nil {
		tc.ReasoningSummary = *op.Summary
	}

	s.spawnTask(ctx, submissionID, op.Items, tc)
}

// doOverrideTurnContext replaces the persistent TurnContext used for future
// tasks. When Cwd/Approval/Sandbox actually change, it records a synthetic
// user-role message describing the change, so the model sees it on the next
// turn — a user-role message, not system-role, because ConversationHistory's
// transcript filter drops system-role messages outright.
func (s *Session) doOverrideTurnContext(submissionID string, op OpOverrideTurnContext) {
	s.mu.Lock()
	tc := s.turnContext
	changedEnv := false
	if op.Cwd != nil && *op.Cwd != tc.Cwd {
		tc.Cwd = *op.Cwd
		changedEnv = true
	}
	if op.Approval != nil && *op.Approval != tc.Approval {
		tc.Approval = *op.Approval
		changedEnv = true
	}
	if op.Sandbox != nil && !reflect.DeepEqual(*op.Sandbox, tc.Sandbox) {
		tc.Sandbox = *op.Sandbox
		changedEnv = true
	}
	if op.Model != nil {
		tc.ModelSlug = *op.Model
	}
	if op.Effort != nil {
		tc.ReasoningEffort = *op.Effort
	}
	if op.Summary != nil {
		tc.ReasoningSummary = *op.Summary
	}
	s.turnContext = tc
	s.mu.Unlock()

	if changedEnv {
		s.history.Record([]ResponseItem{{
			Kind: ItemMessage,
			Role: "user",
			Content: []ContentPart{{
				Kind: "input_text",
				Text: environmentContextText(tc),
			}},
		}})
	}
}

func environmentContextText(tc TurnContext) string {
	return fmt.Sprintf("<environment_context>\ncwd: %s\napproval_policy: %d\nsandbox_mode: %d\n</environment_context>",
		tc.Cwd, tc.Approval, tc.Sandbox.Kind)
}

// spawnTask starts a new AgentTask as its own cancellable goroutine, so
// OpInterrupt can stop it without blocking the submission loop.
func (s *Session) spawnTask(ctx context.Context, submissionID string, items []InputItem, tc TurnContext) {
	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.currentTask = &AgentTaskHandle{
		SubmissionID: submissionID,
		cancel:       func(reason string) { cancel() },
		done:         done,
	}
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		s.runTask(taskCtx, submissionID, items, tc)

		s.mu.Lock()
		if s.currentTask != nil && s.currentTask.SubmissionID == submissionID {
			s.currentTask = nil
		}
		s.mu.Unlock()
	}()
}

// runTask drives one AgentTask's full lifecycle: record the initiating
// input, then loop turns until the model stops producing tool calls, an
// error occurs, or the task is interrupted.
func (s *Session) runTask(ctx context.Context, submissionID string, items []InputItem, tc TurnContext) {
	s.emit(submissionID, EventMsg{Kind: EvTaskStarted, ModelContextWindow: modelContextWindow(tc.ModelSlug)})

	s.history.Record(inputItemsToResponseItems(items))

	var lastMessage string
	for {
		s.mu.Lock()
		pending := s.pendingInput
		s.pendingInput = nil
		s.mu.Unlock()
		if len(pending) > 0 {
			s.history.Record(inputItemsToResponseItems(pending))
		}

		prompt := modelclient.Prompt{
			Input:                    s.history.Contents(),
			Store:                    !tc.DisableResponseStorage && !tc.IsOAuthChatGPT,
			Tools:                    assembleTools(ctx, s, tc),
			BaseInstructionsOverride: tc.BaseInstructions,
		}

		outputs, continueLoop, msg, err := s.runTurn(ctx, submissionID, tc, prompt)
		s.history.Record(outputs)
		if s.rollout != nil {
			s.rollout.RecordItems(outputs)
		}
		if msg != "" {
			lastMessage = msg
		}

		if err != nil {
			if ctx.Err() != nil {
				// doInterrupt already emitted TurnAborted.
				return
			}
			s.emit(submissionID, EventMsg{Kind: EvError, Message: err.Error()})
			break
		}
		if !continueLoop {
			break
		}
	}

	s.emit(submissionID, EventMsg{Kind: EvTaskComplete, LastAgentMessage: lastMessage})
	s.maybeNotify(lastMessage)
}

func (s *Session) doAddToHistory(submissionID, text string) {
	s.mu.Lock()
	log := s.historyLog
	s.mu.Unlock()
	if log == nil {
		return
	}
	if _, _, err := log.Append(HistoryEntry{SessionID: s.ID, Timestamp: time.Now().Unix(), Text: text}); err != nil {
		s.emit(submissionID, EventMsg{Kind: EvBackgroundEvent, Message: "failed to append history entry: " + err.Error()})
	}
}

func (s *Session) doGetHistoryEntry(submissionID string, op OpGetHistoryEntryRequest) {
	s.mu.Lock()
	log := s.historyLog
	s.mu.Unlock()

	var text string
	if log != nil {
		if entry, err := log.Lookup(uint64(op.LogID), op.Offset); err == nil && entry != nil {
			text = entry.Text
		}
	}
	s.emit(submissionID, EventMsg{Kind: EvGetHistoryEntryResponse, LogID: op.LogID, Offset: op.Offset, Entry: text})
}

func (s *Session) doGetHistory(submissionID string) {
	s.emit(submissionID, EventMsg{Kind: EvConversationHistory, History: s.history.Contents()})
}

func (s *Session) doListMcpTools(submissionID string) {
	s.mu.Lock()
	mcp := s.mcp
	s.mu.Unlock()

	var tools []string
	if mcp != nil {
		tools = mcp.ListToolNames()
	}
	s.emit(submissionID, EventMsg{Kind: EvMcpListToolsResponse, Tools: tools})
}

func (s *Session) doListCustomPrompts(submissionID string) {
	s.mu.Lock()
	prompts := s.customPrompts
	s.mu.Unlock()
	s.emit(submissionID, EventMsg{Kind: EvListCustomPromptsResponse, Prompts: prompts})
}

func (s *Session) doShutdown(submissionID string) {
	s.mu.Lock()
	task := s.currentTask
	pty := s.ptyManager
	rollout := s.rollout
	s.mu.Unlock()

	if task != nil {
		task.cancel("shutdown")
		<-task.done
	}
	if pty != nil {
		pty.CloseAll()
	}
	if rollout != nil {
		if err := rollout.Shutdown(); err != nil {
			s.emit(submissionID, EventMsg{Kind: EvBackgroundEvent, Message: "rollout shutdown failed: " + err.Error()})
		}
	}

	s.emit(submissionID, EventMsg{Kind: EvShutdownComplete})
}
