package agent

import (
	"context"
	"encoding/json"

	"github.com/coreagent/runtime/internal/modelclient"
	"github.com/coreagent/runtime/internal/tooldispatch"
)

// abortPendingToolCalls appends a synthetic "aborted" output for every call
// in input that never received a matching output item, so a turn resumed
// after an interruption doesn't leave the model waiting on a dangling call.
func abortPendingToolCalls(input []ResponseItem) []ResponseItem {
	pending := map[string]ResponseItemKind{}
	for _, it := range input {
		switch it.Kind {
		case ItemFunctionCall:
			pending[it.CallID] = ItemFunctionCallOutput
		case ItemCustomToolCall:
			pending[it.CallID] = ItemCustomToolCallOutput
		case ItemLocalShellCall:
			id := it.CallID
			if id == "" {
				id = it.ID
			}
			pending[id] = ItemFunctionCallOutput
		case ItemFunctionCallOutput, ItemCustomToolCallOutput:
			delete(pending, it.CallID)
		}
	}
	if len(pending) == 0 {
		return input
	}
	out := append([]ResponseItem(nil), input...)
	for callID, kind := range pending {
		out = append(out, ResponseItem{Kind: kind, CallID: callID, Output: "aborted"})
	}
	return out
}

// runTurn streams one model turn and translates its event sequence into
// emitted session events, returning every item produced (to be recorded
// into history by the caller) plus whether the task loop should continue.
func (s *Session) runTurn(ctx context.Context, submissionID string, tc TurnContext, prompt modelclient.Prompt) (outputs []ResponseItem, continueLoop bool, lastMessage string, err error) {
	prompt.Input = abortPendingToolCalls(prompt.Input)

	events, errCh := s.modelClient.Stream(ctx, prompt)
	for ev := range events {
		switch ev.Kind {
		case modelclient.EvCreated:
			// no session-visible effect; the response id isn't surfaced.

		case modelclient.EvOutputItemDone:
			s.handleOutputItem(ctx, submissionID, tc, ev.Item, &outputs, &lastMessage)

		case modelclient.EvWebSearchCallBegin:
			s.emit(submissionID, EventMsg{Kind: EvWebSearchBegin, CallID: ev.CallID})

		case modelclient.EvOutputTextDelta:
			s.emit(submissionID, EventMsg{Kind: EvAgentMessageDelta, Text: ev.Delta})

		case modelclient.EvReasoningSummaryDelta:
			s.emit(submissionID, EventMsg{Kind: EvAgentReasoningDelta, Text: ev.Delta})

		case modelclient.EvReasoningContentDelta:
			if tc.SurfaceRawReasoning {
				s.emit(submissionID, EventMsg{Kind: EvAgentReasoningRawContentDelta, Text: ev.Delta})
			}

		case modelclient.EvReasoningSummaryPartAdded:
			s.emit(submissionID, EventMsg{Kind: EvAgentReasoningSectionBreak})

		case modelclient.EvStreamRetry:
			s.emit(submissionID, EventMsg{
				Kind:         EvStreamError,
				Message:      ev.Message,
				RetryAttempt: ev.RetryAttempt,
				RetryTotal:   ev.RetryMax,
				RetryIn:      ev.RetryDelay,
			})

		case modelclient.EvCompleted:
			if ev.Usage != nil {
				usage := *ev.Usage
				s.emit(submissionID, EventMsg{Kind: EvTokenCount, Usage: &usage})
			}
			if s.diffs != nil {
				if diff := s.diffs.GetUnifiedDiff(); diff != "" {
					s.emit(submissionID, EventMsg{Kind: EvTurnDiff, UnifiedDiff: diff})
				}
			}
		}
	}

	if streamErr := <-errCh; streamErr != nil {
		return outputs, false, lastMessage, streamErr
	}

	return outputs, hasToolOutputs(outputs), lastMessage, nil
}

// handleOutputItem reacts to one completed output item from the model,
// emitting the matching event(s), dispatching tool calls, and appending
// whatever belongs back into the transcript to *outputs.
func (s *Session) handleOutputItem(ctx context.Context, submissionID string, tc TurnContext, item ResponseItem, outputs *[]ResponseItem, lastMessage *string) {
	switch item.Kind {
	case ItemMessage:
		if item.Role != "assistant" {
			return
		}
		var text string
		for _, part := range item.Content {
			if part.Kind != "output_text" {
				continue
			}
			text += part.Text
			s.emit(submissionID, EventMsg{Kind: EvAgentMessage, Text: part.Text})
		}
		if text != "" {
			*lastMessage = text
		}
		*outputs = append(*outputs, item)

	case ItemReasoning:
		for _, summary := range item.Summary {
			s.emit(submissionID, EventMsg{Kind: EvAgentReasoning, Text: summary})
		}
		if tc.SurfaceRawReasoning {
			for _, content := range item.ReasoningContent {
				s.emit(submissionID, EventMsg{Kind: EvAgentReasoningRawContentDelta, Text: content})
			}
		}
		*outputs = append(*outputs, item)

	case ItemFunctionCall:
		*outputs = append(*outputs, item)
		result := s.dispatchToolCall(ctx, submissionID, tc, tooldispatch.ToolCall{
			Name: item.Name, ArgumentsRaw: item.Arguments, CallID: item.CallID,
		})
		s.applyDispatchSideEffects(submissionID, result)
		*outputs = append(*outputs, ResponseItem{Kind: ItemFunctionCallOutput, CallID: item.CallID, Output: result.Output})

	case ItemLocalShellCall:
		*outputs = append(*outputs, item)
		callID := item.CallID
		if callID == "" {
			callID = item.ID
		}
		if callID == "" {
			*outputs = append(*outputs, ResponseItem{Kind: ItemFunctionCallOutput, Output: "missing call id for local shell call"})
			return
		}
		argsRaw, _ := json.Marshal(struct {
			Command   []string `json:"command"`
			Workdir   string   `json:"workdir"`
			TimeoutMs int64    `json:"timeout_ms"`
		}{Command: item.Action.Command, Workdir: item.Action.Cwd, TimeoutMs: item.Action.Timeout})
		result := s.dispatchToolCall(ctx, submissionID, tc, tooldispatch.ToolCall{
			Name: "shell", ArgumentsRaw: string(argsRaw), CallID: callID,
		})
		s.applyDispatchSideEffects(submissionID, result)
		*outputs = append(*outputs, ResponseItem{Kind: ItemFunctionCallOutput, CallID: callID, Output: result.Output})

	case ItemCustomToolCall:
		*outputs = append(*outputs, item)
		result := s.dispatchToolCall(ctx, submissionID, tc, tooldispatch.ToolCall{
			Name: item.Name, ArgumentsRaw: item.Arguments, CallID: item.CallID, IsCustomTool: true,
		})
		s.applyDispatchSideEffects(submissionID, result)
		*outputs = append(*outputs, ResponseItem{Kind: ItemCustomToolCallOutput, CallID: item.CallID, Output: result.Output})

	case ItemWebSearchCall:
		*outputs = append(*outputs, item)
		s.emit(submissionID, EventMsg{Kind: EvWebSearchEnd, CallID: item.ID, Query: item.SearchQuery})

	case ItemFunctionCallOutput, ItemCustomToolCallOutput:
		// The model never produces these as output items; ignore if seen.

	default:
		// Unrecognized item kinds are dropped by the transcript filter already.
	}
}

// applyDispatchSideEffects surfaces a tool dispatch's plan update and
// queues a view_image result for the next turn's input.
func (s *Session) applyDispatchSideEffects(submissionID string, result tooldispatch.DispatchResult) {
	if result.PlanUpdate != nil {
		s.emit(submissionID, EventMsg{
			Kind:        EvPlanUpdate,
			Plan:        result.PlanUpdate.Plan,
			Explanation: result.PlanUpdate.Explanation,
		})
	}
	if result.ViewImagePath != "" {
		s.mu.Lock()
		s.pendingInput = append(s.pendingInput, InputItem{ImagePath: result.ViewImagePath})
		s.mu.Unlock()
	}
}

// dispatchToolCall wraps Dispatcher.Dispatch with the Begin/End event pair
// appropriate to the call's kind.
func (s *Session) dispatchToolCall(ctx context.Context, submissionID string, tc TurnContext, call tooldispatch.ToolCall) tooldispatch.DispatchResult {
	if s.dispatcher == nil {
		return tooldispatch.DispatchResult{Output: "no dispatcher configured"}
	}

	switch {
	case call.Name == "shell" || call.Name == "container.exec":
		argv, cwd := parseShellBegin(call.ArgumentsRaw, tc.Cwd)
		s.emit(submissionID, EventMsg{Kind: EvExecCommandBegin, CallID: call.CallID, Command: argv, Cwd: cwd})
		result := s.dispatcher.Dispatch(ctx, submissionID, call, tc, s)
		s.emit(submissionID, EventMsg{
			Kind: EvExecCommandEnd, CallID: call.CallID, Success: result.Success,
			Aggregated: result.Output, Formatted: result.Output,
		})
		return result

	case call.Name == "apply_patch":
		s.emit(submissionID, EventMsg{Kind: EvPatchApplyBegin, CallID: call.CallID})
		result := s.dispatcher.Dispatch(ctx, submissionID, call, tc, s)
		s.emit(submissionID, EventMsg{Kind: EvPatchApplyEnd, CallID: call.CallID, Success: result.Success})
		return result

	default:
		if server, tool := splitQualifiedName(call.Name); server != "" {
			s.emit(submissionID, EventMsg{Kind: EvMcpToolCallBegin, Server: server, Tool: tool})
			result := s.dispatcher.Dispatch(ctx, submissionID, call, tc, s)
			s.emit(submissionID, EventMsg{Kind: EvMcpToolCallEnd, Server: server, Tool: tool, Success: result.Success})
			return result
		}
		return s.dispatcher.Dispatch(ctx, submissionID, call, tc, s)
	}
}

// parseShellBegin best-effort extracts the argv/cwd an ExecCommandBegin
// event should report, from a shell tool call's raw JSON arguments.
func parseShellBegin(argumentsRaw, fallbackCwd string) (argv []string, cwd string) {
	var args struct {
		Command []string `json:"command"`
		Workdir string   `json:"workdir"`
	}
	if err := json.Unmarshal([]byte(argumentsRaw), &args); err != nil {
		return nil, fallbackCwd
	}
	cwd = fallbackCwd
	if args.Workdir != "" {
		cwd = args.Workdir
	}
	return args.Command, cwd
}
