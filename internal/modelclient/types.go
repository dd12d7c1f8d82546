// Package modelclient abstracts the model provider behind a single
// stream(prompt) -> event stream operation, normalizing both the
// "responses" and "chat completions" SSE wire forms into one internal event
// sequence ending with exactly one Completed or an error.
package modelclient

import (
	"context"
	"time"

	"github.com/coreagent/runtime/internal/transcript"
)

// ResponseEventKind discriminates the normalized stream event.
type ResponseEventKind int

const (
	EvCreated ResponseEventKind = iota
	EvOutputItemDone
	EvWebSearchCallBegin
	EvOutputTextDelta
	EvReasoningSummaryDelta
	EvReasoningContentDelta
	EvReasoningSummaryPartAdded
	EvCompleted
	// EvStreamRetry is synthetic: emitted by an adapter's internal retry loop
	// immediately before it sleeps and reattempts, so the turn runner can
	// surface a StreamError event without needing visibility into the
	// adapter's own backoff loop.
	EvStreamRetry
)

// ResponseEvent is the normalized, lossless event sequence both adapters
// produce.
type ResponseEvent struct {
	Kind ResponseEventKind

	Item transcript.ResponseItem // EvOutputItemDone

	CallID string // EvWebSearchCallBegin

	Delta string // EvOutputTextDelta / EvReasoningSummaryDelta / EvReasoningContentDelta

	ResponseID string            // EvCompleted
	Usage      *transcript.TokenUsage // EvCompleted, nil if absent

	Message      string        // EvStreamRetry
	RetryAttempt int           // EvStreamRetry
	RetryMax     int           // EvStreamRetry
	RetryDelay   time.Duration // EvStreamRetry
}

// Prompt is the per-turn model request.
type Prompt struct {
	Input                   []transcript.ResponseItem
	Store                   bool
	Tools                   []ToolSpec
	BaseInstructionsOverride string
}

// ToolSpec is a tool definition passed to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
	Freeform    bool           // true for the apply_patch Lark-grammar tool
	GrammarText string         // non-empty iff Freeform
}

// Client abstracts one model provider connection.
type Client interface {
	// Stream issues prompt and returns a channel of normalized events. The
	// channel is closed after exactly one EvCompleted is sent, or after an
	// error is delivered via errCh.
	Stream(ctx context.Context, prompt Prompt) (<-chan ResponseEvent, <-chan error)
}
