package agent

import (
	"strings"

	"github.com/coreagent/runtime/internal/tooldispatch"
)

// RequestApproval implements tooldispatch.Approver: it registers a one-shot
// reply channel keyed by the tool call's id, emits the matching approval
// event, and blocks until OpExecApproval/OpPatchApproval resolves it from
// the submission loop.
func (s *Session) RequestApproval(submissionID string, req tooldispatch.ApprovalRequest) ApprovalDecision {
	reply := make(chan ApprovalDecision, 1)

	s.mu.Lock()
	s.pendingApprovals[req.CallID] = &PendingApproval{ReplyCh: reply}
	s.mu.Unlock()

	if req.IsPatch {
		s.emit(submissionID, EventMsg{
			Kind:      EvApplyPatchApprovalRequest,
			CallID:    req.CallID,
			Changes:   req.Changes,
			Reason:    req.Reason,
			GrantRoot: req.GrantRoot,
		})
	} else {
		s.emit(submissionID, EventMsg{
			Kind:    EvExecApprovalRequest,
			CallID:  req.CallID,
			Command: req.Command,
			Cwd:     req.Cwd,
			Reason:  req.Reason,
		})
	}

	decision := <-reply

	s.mu.Lock()
	delete(s.pendingApprovals, req.CallID)
	s.mu.Unlock()

	return decision
}

// resolveApproval delivers a decision to a pending approval's reply channel,
// called from the submission loop on OpExecApproval/OpPatchApproval.
func (s *Session) resolveApproval(id string, decision ApprovalDecision) bool {
	s.mu.Lock()
	pending, ok := s.pendingApprovals[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	pending.ReplyCh <- decision
	return true
}

// normalizeArgv canonicalizes an argv slice into the key used by the
// session-scoped approved-command set.
func normalizeArgv(argv []string) string {
	return strings.Join(argv, "\x00")
}

// MarkArgvApproved implements tooldispatch.Approver: records argv as
// approved for the remainder of the session.
func (s *Session) MarkArgvApproved(argv []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvedArgv[normalizeArgv(argv)] = struct{}{}
}

// IsArgvApproved implements tooldispatch.Approver.
func (s *Session) IsArgvApproved(argv []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.approvedArgv[normalizeArgv(argv)]
	return ok
}
