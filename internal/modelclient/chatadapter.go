package modelclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/coreagent/runtime/internal/transcript"
	"github.com/coreagent/runtime/internal/agenterr"
)

// ChatClient implements Client for the classic chat-completions wire form,
// accumulating streamed deltas into the normalized ResponseEvent sequence.
type ChatClient struct {
	Endpoint          string
	APIKey            string
	Model             string
	HTTPClient        *http.Client
	RequestMaxRetries int // default 4, clamped to 100
	StreamMaxRetries  int // not read by ChatClient; mid-stream failures are retried by the request loop under RequestMaxRetries
	IdleTimeout       time.Duration // default 300s
}

// functionCallAccumulator is the chat-form state machine's small mutable
// record: fields fill in as fragments arrive, drained on finish_reason.
type functionCallAccumulator struct {
	name   string
	callID string
	args   strings.Builder
	active bool
}

type chatAdapterState struct {
	assistantText strings.Builder
	reasoningText strings.Builder
	call          functionCallAccumulator
}

// Stream implements Client.
func (c *ChatClient) Stream(ctx context.Context, prompt Prompt) (<-chan ResponseEvent, <-chan error) {
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

func (c *ChatClient) run(ctx context.Context, prompt Prompt, out chan<- ResponseEvent) error {
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
	return fmt.Errorf("%w: %v", agenterr.ErrRetryLimit, lastErr)
}

func (c *ChatClient) attempt(ctx context.Context, prompt Prompt, out chan<- ResponseEvent) error {
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

func (c *ChatClient) buildRequest(prompt Prompt) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:    c.Model,
		Messages: toOpenAIMessages(prompt.Input, prompt.BaseInstructionsOverride),
		Tools:    toOpenAITools(prompt.Tools),
		Stream:   true,
	}
}

// parseSSEStream reads incremental choices[0].delta fragments and a literal
// "[DONE]" terminator, accumulating a single function call
// across fragments and flushing buffered reasoning before a tool_calls
// finish_reason, preserving the ordering guarantee that a reasoning item's
// OutputItemDone precedes the ExecCommandBegin it originates.
func (c *ChatClient) parseSSEStream(ctx context.Context, body io.Reader, out chan<- ResponseEvent) error {
	idle := c.IdleTimeout
	if idle == 0 {
		idle = 300 * time.Second
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	state := &chatAdapterState{}

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
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return nil
			}
			var chunk chatCompletionStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if err := c.handleChunk(ctx, chunk, state, out); err != nil {
				return err
			}
		}
	}
}

type chatCompletionStreamResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
			ToolCalls []struct {
				Index int `json:"index"`
				ID    string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (c *ChatClient) handleChunk(ctx context.Context, chunk chatCompletionStreamResponse, state *chatAdapterState, out chan<- ResponseEvent) error {
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		state.assistantText.WriteString(choice.Delta.Content)
		trySend(ctx, out, ResponseEvent{Kind: EvOutputTextDelta, Delta: choice.Delta.Content})
	}
	if choice.Delta.Reasoning != "" {
		state.reasoningText.WriteString(choice.Delta.Reasoning)
		trySend(ctx, out, ResponseEvent{Kind: EvReasoningSummaryDelta, Delta: choice.Delta.Reasoning})
	}
	for _, tc := range choice.Delta.ToolCalls {
		if tc.ID != "" {
			state.call.callID = tc.ID
		}
		if tc.Function.Name != "" {
			state.call.name = tc.Function.Name
			state.call.active = true
		}
		state.call.args.WriteString(tc.Function.Arguments)
	}

	switch choice.FinishReason {
	case "tool_calls":
		if state.reasoningText.Len() > 0 {
			trySend(ctx, out, ResponseEvent{Kind: EvOutputItemDone, Item: transcript.ResponseItem{
				Kind:    transcript.ItemReasoning,
				Summary: []string{state.reasoningText.String()},
			}})
			state.reasoningText.Reset()
		}
		if state.call.active {
			trySend(ctx, out, ResponseEvent{Kind: EvOutputItemDone, Item: transcript.ResponseItem{
				Kind:      transcript.ItemFunctionCall,
				Name:      state.call.name,
				Arguments: state.call.args.String(),
				CallID:    state.call.callID,
			}})
		}
	case "stop":
		trySend(ctx, out, ResponseEvent{Kind: EvOutputItemDone, Item: transcript.ResponseItem{
			Kind: transcript.ItemMessage,
			Role: "assistant",
			Content: []transcript.ContentPart{{Kind: "output_text", Text: state.assistantText.String()}},
		}})
	}

	if chunk.Usage != nil {
		trySend(ctx, out, ResponseEvent{
			Kind:       EvCompleted,
			ResponseID: chunk.ID,
			Usage: &transcript.TokenUsage{
				Input:  chunk.Usage.PromptTokens,
				Output: chunk.Usage.CompletionTokens,
				Total:  chunk.Usage.TotalTokens,
			},
		})
	} else if choice.FinishReason != "" {
		trySend(ctx, out, ResponseEvent{Kind: EvCompleted, ResponseID: chunk.ID})
	}
	return nil
}

// toOpenAIMessages rewrites the transcript into the chat message shape:
// assistant function-calls become tool_calls; function-call outputs become
// role:"tool" messages.
func toOpenAIMessages(items []transcript.ResponseItem, systemOverride string) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if systemOverride != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemOverride})
	}
	for _, it := range items {
		switch it.Kind {
		case transcript.ItemMessage:
			role := it.Role
			if role == "" {
				role = openai.ChatMessageRoleUser
			}
			msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: joinText(it.Content)})
		case transcript.ItemFunctionCall:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   it.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: it.Name, Arguments: it.Arguments},
				}},
			})
		case transcript.ItemFunctionCallOutput:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    it.Output,
				ToolCallID: it.CallID,
			})
		}
	}
	return msgs
}

func joinText(parts []transcript.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		if t.Freeform {
			continue // the freeform apply_patch grammar tool has no chat-form analog
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func clampRetries(v, def int) int {
	if v <= 0 {
		v = def
	}
	if v > 100 {
		v = 100
	}
	return v
}

func retryable(err error) bool {
	switch e := err.(type) {
	case *agenterr.StreamError:
		return true
	case *agenterr.UnexpectedStatus:
		return false
	case *agenterr.UsageLimitReached:
		return false
	default:
		_ = e
		return false
	}
}

func retryAfterFromErr(err error) (time.Duration, bool) {
	if se, ok := err.(*agenterr.StreamError); ok && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}

func classifyHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		var parsed struct {
			Error struct {
				Type string `json:"type"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &parsed)
		switch parsed.Error.Type {
		case "usage_limit_reached":
			return &agenterr.UsageLimitReached{}
		case "usage_not_included":
			return agenterr.ErrUsageNotIncluded
		}
		d, _ := retryAfter(resp.Header)
		return &agenterr.StreamError{Message: string(body), RetryAfter: d}
	case http.StatusUnauthorized:
		return &agenterr.StreamError{Message: "unauthorized, token refresh required"}
	default:
		if isTransientStatus(resp.StatusCode) {
			return &agenterr.StreamError{Message: string(body)}
		}
		return &agenterr.UnexpectedStatus{Status: resp.StatusCode, Body: string(body)}
	}
}
