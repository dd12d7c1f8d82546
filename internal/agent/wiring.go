package agent

import (
	"github.com/coreagent/runtime/internal/modelclient"
	"github.com/coreagent/runtime/internal/tooldispatch"
)

// WireMcp attaches the external tool-server bridge used for ListMcpTools and
// for assembling external tool schemas into a turn's Prompt.Tools.
func (s *Session) WireMcp(m McpToolLister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mcp = m
}

// WirePTYManager attaches the exec-command PTY session manager closed on
// Shutdown.
func (s *Session) WirePTYManager(p PTYManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ptyManager = p
}

// WireRollout attaches the rollout recorder the submission loop drives
// directly for RecordItems/Shutdown.
func (s *Session) WireRollout(r RolloutRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollout = r
}

// WireNotifier sets the argv prefix of an external program spawned with a
// single JSON argument on TaskComplete. An empty slice disables notification.
func (s *Session) WireNotifier(argv []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifierArgv = argv
}

// WireShell records a shell binary path on the session; no session code
// path reads it.
func (s *Session) WireShell(shell string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shell = shell
}

// WireDispatcher attaches the tool-call safety/dispatch pipeline.
func (s *Session) WireDispatcher(d *tooldispatch.Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
}

// WireModelClient attaches the model provider stream client.
func (s *Session) WireModelClient(c modelclient.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelClient = c
}

// WireDiffTracker attaches the turn diff tracker consulted at Completed.
func (s *Session) WireDiffTracker(t DiffTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diffs = t
}

// WireHistoryLog attaches the on-disk message-history log.
func (s *Session) WireHistoryLog(l HistoryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyLog = l
}

// WireCustomPrompts sets the configured custom prompt list served by
// ListCustomPrompts.
func (s *Session) WireCustomPrompts(prompts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customPrompts = prompts
}

// EmitExecCommandOutputDelta emits one ExecCommandOutputDelta event for a
// chunk of streamed exec output. Matches execrun.OutputDeltaFunc's shape so
// it can be wired directly as a Runner's output-delta callback.
func (s *Session) EmitExecCommandOutputDelta(submissionID, callID, stream string, chunk []byte) {
	s.emit(submissionID, EventMsg{
		Kind:   EvExecCommandOutputDelta,
		CallID: callID,
		Stream: outputStreamFromName(stream),
		Chunk:  chunk,
	})
}

func outputStreamFromName(stream string) OutputStream {
	if stream == "stderr" {
		return StreamStderr
	}
	return StreamStdout
}
