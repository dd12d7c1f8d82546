package modelclient

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreagent/runtime/internal/transcript"
	"github.com/coreagent/runtime/internal/agenterr"
)

// ResponsesClient implements Client for the structured "responses" wire form:
// a single long-lived SSE stream of typed envelope events rather than
// incremental chat deltas.
type ResponsesClient struct {
	Endpoint          string
	APIKey            string
	Model             string
	HTTPClient        *http.Client
	RequestMaxRetries int
	StreamMaxRetries  int
	IdleTimeout       time.Duration
}

// Stream implements Client.
func (c *ResponsesClient) Stream(ctx context.Context, prompt Prompt) (<-chan ResponseEvent, <-chan error) {
	out := make(chan ResponseEvent, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		if err := c.run(ctx, prompt, out); err != nil {
			trySend(ctx, errCh, err)
		}
	}()

	return out, errCh
}

func (c *ResponsesClient) run(ctx context.Context, prompt Prompt, out chan<- ResponseEvent) error {
	maxRetries := clampRetries(c.RequestMaxRetries, 4)
	var lastErr error

	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt - 1)
			if d, ok := retryAfterFromErr(lastErr); ok {
				delay = d
			}
			trySend(ctx, out, ResponseEvent{
				Kind: EvStreamRetry, Message: lastErr.Error(),
				RetryAttempt: attempt - 1, RetryMax: maxRetries, RetryDelay: delay,
			})
			if err := sleepWithJitter(ctx, delay); err != nil {
				return err
			}
			logRetry(attempt-1, maxRetries, delay, lastErr)
		}

		err := c.attempt(ctx, prompt, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	return &agenterr.StreamError{Message: lastErr.Error()}
}

type responsesRequest struct {
	Model        string                 `json:"model"`
	Input        []responsesInputItem   `json:"input"`
	Store        bool                   `json:"store"`
	Stream       bool                   `json:"stream"`
	Instructions string                 `json:"instructions,omitempty"`
	Tools        []responsesToolPayload `json:"tools,omitempty"`
}

type responsesInputItem struct {
	Type      string                `json:"type"`
	Role      string                `json:"role,omitempty"`
	Content   []responsesContentPart `json:"content,omitempty"`
	Name      string                `json:"name,omitempty"`
	Arguments string                `json:"arguments,omitempty"`
	CallID    string                `json:"call_id,omitempty"`
	Output    string                `json:"output,omitempty"`
}

type responsesContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesToolPayload struct {
	Type        string         `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func (c *ResponsesClient) buildRequest(prompt Prompt) responsesRequest {
	req := responsesRequest{
		Model:        c.Model,
		Store:        prompt.Store,
		Stream:       true,
		Instructions: prompt.BaseInstructionsOverride,
	}
	for _, it := range prompt.Input {
		req.Input = append(req.Input, toResponsesInputItem(it))
	}
	for _, t := range prompt.Tools {
		if t.Freeform {
			req.Tools = append(req.Tools, responsesToolPayload{Type: "custom", Name: t.Name, Description: t.Description})
			continue
		}
		req.Tools = append(req.Tools, responsesToolPayload{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return req
}

func toResponsesInputItem(it transcript.ResponseItem) responsesInputItem {
	switch it.Kind {
	case transcript.ItemMessage:
		parts := make([]responsesContentPart, 0, len(it.Content))
		for _, p := range it.Content {
			parts = append(parts, responsesContentPart{Type: p.Kind, Text: p.Text})
		}
		return responsesInputItem{Type: "message", Role: it.Role, Content: parts}
	case transcript.ItemFunctionCall:
		return responsesInputItem{Type: "function_call", Name: it.Name, Arguments: it.Arguments, CallID: it.CallID}
	case transcript.ItemFunctionCallOutput:
		return responsesInputItem{Type: "function_call_output", CallID: it.CallID, Output: it.Output}
	case transcript.ItemCustomToolCall:
		return responsesInputItem{Type: "custom_tool_call", Name: it.Name, Arguments: it.Arguments, CallID: it.CallID}
	case transcript.ItemCustomToolCallOutput:
		return responsesInputItem{Type: "custom_tool_call_output", CallID: it.CallID, Output: it.Output}
	case transcript.ItemReasoning:
		return responsesInputItem{Type: "reasoning"}
	default:
		return responsesInputItem{Type: "message", Role: "user"}
	}
}

func (c *ResponsesClient) attempt(ctx context.Context, prompt Prompt, out chan<- ResponseEvent) error {
	body, err := json.Marshal(c.buildRequest(prompt))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &agenterr.StreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(resp)
	}

	return c.parseSSEStream(ctx, resp.Body, out)
}

// responsesEnvelope is the typed SSE event envelope for this wire form: one
// "type" discriminator plus a payload whose shape depends on it.
type responsesEnvelope struct {
	Type     string `json:"type"`
	Response struct {
		ID    string `json:"id"`
		Usage *struct {
			InputTokens        int64 `json:"input_tokens"`
			InputTokensDetails struct {
				CachedTokens int64 `json:"cached_tokens"`
			} `json:"input_tokens_details"`
			OutputTokens        int64 `json:"output_tokens"`
			OutputTokensDetails struct {
				ReasoningTokens int64 `json:"reasoning_tokens"`
			} `json:"output_tokens_details"`
			TotalTokens int64 `json:"total_tokens"`
		} `json:"usage"`
	} `json:"response"`
	Item  responsesItemPayload `json:"item"`
	Delta string               `json:"delta"`
}

// responsesItemPayload is the wire shape of one output item inside a
// response.output_item.* event.
type responsesItemPayload struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	CallID    string `json:"call_id"`
	Query     string `json:"query"`
	Content   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Summary []struct {
		Text string `json:"text"`
	} `json:"summary"`
	// Action carries a local_shell_call item's shell invocation.
	Action *struct {
		Command   []string `json:"command"`
		Cwd       string   `json:"working_directory"`
		TimeoutMs int64    `json:"timeout_ms"`
	} `json:"action"`
}

// parseSSEStream reads the typed "response.*" event sequence and translates
// each into the normalized ResponseEvent form.
func (c *ResponsesClient) parseSSEStream(ctx context.Context, body io.Reader, out chan<- ResponseEvent) error {
	idle := c.IdleTimeout
	if idle == 0 {
		idle = 300 * time.Second
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var currentEventName string
	lineCh := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			lineCh <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lineCh)
	}()

	for {
		select {
		case <-ctx.Done():
			return agenterr.ErrInterrupted
		case <-time.After(idle):
			return &agenterr.StreamError{Message: "idle timeout waiting for SSE"}
		case line, ok := <-lineCh:
			if !ok {
				if err := <-scanErr; err != nil {
					return &agenterr.StreamError{Message: err.Error()}
				}
				return nil
			}
			switch {
			case strings.HasPrefix(line, "event: "):
				currentEventName = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data := strings.TrimPrefix(line, "data: ")
				var env responsesEnvelope
				if err := json.Unmarshal([]byte(data), &env); err != nil {
					continue
				}
				if env.Type == "" {
					env.Type = currentEventName
				}
				done, err := c.handleEnvelope(ctx, env, out)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
		}
	}
}

func (c *ResponsesClient) handleEnvelope(ctx context.Context, env responsesEnvelope, out chan<- ResponseEvent) (bool, error) {
	switch env.Type {
	case "response.created":
		trySend(ctx, out, ResponseEvent{Kind: EvCreated, ResponseID: env.Response.ID})

	case "response.output_item.added":
		if env.Item.Type == "web_search_call" {
			trySend(ctx, out, ResponseEvent{Kind: EvWebSearchCallBegin, CallID: env.Item.CallID})
		}

	case "response.output_text.delta":
		trySend(ctx, out, ResponseEvent{Kind: EvOutputTextDelta, Delta: env.Delta})

	case "response.reasoning_summary_text.delta":
		trySend(ctx, out, ResponseEvent{Kind: EvReasoningSummaryDelta, Delta: env.Delta})

	case "response.reasoning_text.delta":
		trySend(ctx, out, ResponseEvent{Kind: EvReasoningContentDelta, Delta: env.Delta})

	case "response.reasoning_summary_part.added":
		trySend(ctx, out, ResponseEvent{Kind: EvReasoningSummaryPartAdded})

	case "response.output_item.done":
		trySend(ctx, out, ResponseEvent{Kind: EvOutputItemDone, Item: toAgentResponseItem(env.Item)})

	case "response.failed":
		return true, &agenterr.StreamError{Message: "response.failed"}

	case "response.completed":
		var usage *transcript.TokenUsage
		if env.Response.Usage != nil {
			u := env.Response.Usage
			usage = &transcript.TokenUsage{
				Input:           u.InputTokens,
				CachedInput:     u.InputTokensDetails.CachedTokens,
				Output:          u.OutputTokens,
				ReasoningOutput: u.OutputTokensDetails.ReasoningTokens,
				Total:           u.TotalTokens,
			}
		}
		trySend(ctx, out, ResponseEvent{Kind: EvCompleted, ResponseID: env.Response.ID, Usage: usage})
		return true, nil
	}
	return false, nil
}

func toAgentResponseItem(item responsesItemPayload) transcript.ResponseItem {
	switch item.Type {
	case "message":
		parts := make([]transcript.ContentPart, 0, len(item.Content))
		for _, p := range item.Content {
			parts = append(parts, transcript.ContentPart{Kind: p.Type, Text: p.Text})
		}
		return transcript.ResponseItem{Kind: transcript.ItemMessage, Role: item.Role, Content: parts}
	case "reasoning":
		summary := make([]string, 0, len(item.Summary))
		for _, s := range item.Summary {
			summary = append(summary, s.Text)
		}
		return transcript.ResponseItem{Kind: transcript.ItemReasoning, Summary: summary}
	case "function_call":
		return transcript.ResponseItem{Kind: transcript.ItemFunctionCall, Name: item.Name, Arguments: item.Arguments, CallID: item.CallID}
	case "custom_tool_call":
		return transcript.ResponseItem{Kind: transcript.ItemCustomToolCall, Name: item.Name, Arguments: item.Arguments, CallID: item.CallID}
	case "web_search_call":
		return transcript.ResponseItem{Kind: transcript.ItemWebSearchCall, ID: item.ID, SearchQuery: item.Query}
	case "local_shell_call":
		resp := transcript.ResponseItem{Kind: transcript.ItemLocalShellCall, ID: item.ID, CallID: item.CallID}
		if item.Action != nil {
			resp.Action = transcript.LocalShellAction{
				Command: item.Action.Command,
				Cwd:     item.Action.Cwd,
				Timeout: item.Action.TimeoutMs,
			}
		}
		return resp
	default:
		return transcript.ResponseItem{Kind: transcript.ItemOther}
	}
}
