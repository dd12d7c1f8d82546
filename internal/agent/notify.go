package agent

import (
	"context"
	"encoding/json"
	"os/exec"
	"time"
)

// notifyPayload is the single JSON argument passed to the configured
// notifier program on TaskComplete.
type notifyPayload struct {
	Type                 string `json:"type"`
	LastAssistantMessage string `json:"last-assistant-message,omitempty"`
}

// notifyTimeout bounds how long a misbehaving notifier program can block
// task completion before it's best-effort abandoned.
const notifyTimeout = 5 * time.Second

// maybeNotify spawns the configured notifier program with a single JSON
// argument describing the completed task, ignoring its exit status.
func (s *Session) maybeNotify(lastAgentMessage string) {
	s.mu.Lock()
	argv := s.notifierArgv
	s.mu.Unlock()
	if len(argv) == 0 {
		return
	}

	payload, err := json.Marshal(notifyPayload{Type: "agent-turn-complete", LastAssistantMessage: lastAgentMessage})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	args := append(append([]string{}, argv[1:]...), string(payload))
	_ = exec.CommandContext(ctx, argv[0], args...).Run()
}
