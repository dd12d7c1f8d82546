package agent

import (
	"context"

	"github.com/coreagent/runtime/internal/modelclient"
)

// compactionInstructions is the base-instructions override sent for a
// compaction turn, asking the model to produce nothing the task loop needs
// to surface: the whole point is shrinking history, not adding to it.
const compactionInstructions = "Summarize the conversation so far as concisely as possible, preserving only the facts needed to continue the task. Do not call any tools."

// doCompact aborts any running task (superseding it, per "starting another
// task first aborts the previous with reason Replaced") and spawns a
// compaction task: it streams one summarization turn with Store disabled
// and every event silently drained, then collapses the conversation history
// to its last message before announcing completion.
func (s *Session) doCompact(ctx context.Context, submissionID string) {
	s.abortCurrentTaskForReplace()

	s.mu.Lock()
	done := make(chan struct{})
	taskCtx, cancel := context.WithTimeout(ctx, turnDeadline)
	s.currentTask = &AgentTaskHandle{
		SubmissionID: submissionID,
		cancel:       func(reason string) { cancel() },
		done:         done,
	}
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		s.runCompact(taskCtx, submissionID)

		s.mu.Lock()
		if s.currentTask != nil && s.currentTask.SubmissionID == submissionID {
			s.currentTask = nil
		}
		s.mu.Unlock()
	}()
}

func (s *Session) runCompact(ctx context.Context, submissionID string) {
	prompt := modelclient.Prompt{
		Input:                    s.history.Contents(),
		Store:                    false,
		BaseInstructionsOverride: compactionInstructions,
	}

	events, errCh := s.modelClient.Stream(ctx, prompt)
	for range events {
		// Drained silently: a compaction turn's output is never surfaced
		// as agent messages/reasoning/tool calls, only as a shorter history.
	}
	if err := <-errCh; err != nil {
		s.emit(submissionID, EventMsg{Kind: EvError, Message: err.Error()})
		return
	}

	s.history.KeepLastMessages(1)

	const completedMessage = "Compact task completed"
	s.emit(submissionID, EventMsg{Kind: EvAgentMessage, Text: completedMessage})
	s.emit(submissionID, EventMsg{Kind: EvTaskComplete, LastAgentMessage: completedMessage})
}
