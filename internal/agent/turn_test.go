package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/coreagent/runtime/internal/modelclient"
	"github.com/coreagent/runtime/internal/sandbox"
	"github.com/coreagent/runtime/internal/tooldispatch"
)

func TestAbortPendingToolCallsClosesDanglingFunctionCall(t *testing.T) {
	input := []ResponseItem{
		{Kind: ItemMessage, Role: "user", Content: []ContentPart{{Kind: "input_text", Text: "do it"}}},
		{Kind: ItemFunctionCall, Name: "shell", CallID: "call-1"},
	}
	out := abortPendingToolCalls(input)
	if len(out) != 3 {
		t.Fatalf("got %d items, want 3", len(out))
	}
	last := out[2]
	if last.Kind != ItemFunctionCallOutput || last.CallID != "call-1" || last.Output != "aborted" {
		t.Errorf("synthetic output = %+v", last)
	}
}

func TestAbortPendingToolCallsLeavesResolvedCallsAlone(t *testing.T) {
	input := []ResponseItem{
		{Kind: ItemFunctionCall, Name: "shell", CallID: "call-1"},
		{Kind: ItemFunctionCallOutput, CallID: "call-1", Output: "ok"},
	}
	out := abortPendingToolCalls(input)
	if len(out) != 2 {
		t.Fatalf("got %d items, want 2 (no synthetic abort appended): %+v", len(out), out)
	}
}

func TestAbortPendingToolCallsPairsCustomToolCallWithCustomOutputKind(t *testing.T) {
	input := []ResponseItem{
		{Kind: ItemCustomToolCall, Name: "apply_patch", CallID: "call-2"},
	}
	out := abortPendingToolCalls(input)
	if len(out) != 2 || out[1].Kind != ItemCustomToolCallOutput {
		t.Fatalf("expected a synthetic CustomToolCallOutput, got %+v", out)
	}
}

// fakeModelClient replays a fixed event sequence, ignoring the prompt.
type fakeModelClient struct {
	events []modelclient.ResponseEvent
	err    error
}

func (f *fakeModelClient) Stream(ctx context.Context, prompt modelclient.Prompt) (<-chan modelclient.ResponseEvent, <-chan error) {
	out := make(chan modelclient.ResponseEvent, len(f.events))
	errCh := make(chan error, 1)
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	errCh <- f.err
	close(errCh)
	return out, errCh
}

func TestRunTurnAssistantMessageEndsTaskWithoutToolCalls(t *testing.T) {
	s := NewSession("", 1, TurnContext{})
	go func() {
		for range s.Events() {
		}
	}()
	s.WireModelClient(&fakeModelClient{events: []modelclient.ResponseEvent{
		{Kind: modelclient.EvOutputItemDone, Item: ResponseItem{
			Kind: ItemMessage, Role: "assistant",
			Content: []ContentPart{{Kind: "output_text", Text: "done"}},
		}},
		{Kind: modelclient.EvCompleted},
	}})

	outputs, continueLoop, lastMessage, err := s.runTurn(context.Background(), "sub-1", TurnContext{}, modelclient.Prompt{})
	if err != nil {
		t.Fatalf("runTurn error: %v", err)
	}
	if continueLoop {
		t.Error("continueLoop should be false when no tool outputs were produced")
	}
	if lastMessage != "done" {
		t.Errorf("lastMessage = %q, want %q", lastMessage, "done")
	}
	if len(outputs) != 1 || outputs[0].Kind != ItemMessage {
		t.Errorf("outputs = %+v", outputs)
	}
}

type fakeRunner struct{}

func (fakeRunner) Run(ctx context.Context, req tooldispatch.ExecRequest) (tooldispatch.ExecResult, error) {
	return tooldispatch.ExecResult{ExitCode: 0, Formatted: "ok"}, nil
}

func TestRunTurnFunctionCallDispatchesAndContinues(t *testing.T) {
	s := NewSession("", 1, TurnContext{})
	go func() {
		for range s.Events() {
		}
	}()
	s.WireDispatcher(&tooldispatch.Dispatcher{Runner: fakeRunner{}, Platform: sandbox.BackendNone})

	args, _ := json.Marshal(map[string]any{"command": []string{"ls"}})
	s.WireModelClient(&fakeModelClient{events: []modelclient.ResponseEvent{
		{Kind: modelclient.EvOutputItemDone, Item: ResponseItem{
			Kind: ItemFunctionCall, Name: "shell", Arguments: string(args), CallID: "call-1",
		}},
		{Kind: modelclient.EvCompleted},
	}})

	tc := TurnContext{Cwd: "/work"}
	outputs, continueLoop, _, err := s.runTurn(context.Background(), "sub-1", tc, modelclient.Prompt{})
	if err != nil {
		t.Fatalf("runTurn error: %v", err)
	}
	if !continueLoop {
		t.Error("continueLoop should be true after a tool call output")
	}
	if len(outputs) != 2 || outputs[1].Kind != ItemFunctionCallOutput || outputs[1].Output != "ok" {
		t.Errorf("outputs = %+v", outputs)
	}
}

func TestRunTurnPropagatesStreamError(t *testing.T) {
	s := NewSession("", 1, TurnContext{})
	go func() {
		for range s.Events() {
		}
	}()
	wantErr := context.DeadlineExceeded
	s.WireModelClient(&fakeModelClient{err: wantErr})

	_, _, _, err := s.runTurn(context.Background(), "sub-1", TurnContext{}, modelclient.Prompt{})
	if err != wantErr {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
