// Package transcript holds the conversation-transcript data model
// (ResponseItem and friends) shared by internal/agent (the session/turn
// runner that owns and mutates it) and internal/modelclient (the SSE
// adapters that produce and consume it). Split out as its own leaf package
// so modelclient never has to import agent — agent's turn runner imports
// modelclient to drive a turn, and a package cannot import something that
// imports it back.
package transcript

// ResponseItemKind discriminates the ResponseItem tagged union.
type ResponseItemKind int

const (
	ItemMessage ResponseItemKind = iota
	ItemReasoning
	ItemFunctionCall
	ItemFunctionCallOutput
	ItemCustomToolCall
	ItemCustomToolCallOutput
	ItemLocalShellCall
	ItemWebSearchCall
	ItemOther
)

// ContentPart is one piece of a Message item's content list.
type ContentPart struct {
	// Kind is "input_text" | "output_text" | "input_image".
	Kind string
	Text string
	// ImageURL is set for input_image parts.
	ImageURL string
}

// LocalShellAction carries the translated shell invocation for a
// LocalShellCall item.
type LocalShellAction struct {
	Command []string
	Cwd     string
	Timeout int64 // milliseconds, 0 if unset
}

// ResponseItem is a tagged variant conversation transcript entity.
type ResponseItem struct {
	Kind ResponseItemKind

	// Message
	Role    string // "system" | "user" | "assistant"
	Content []ContentPart

	// Reasoning
	Summary          []string
	ReasoningContent []string
	EncryptedContent string

	// FunctionCall / CustomToolCall
	Name      string
	Arguments string
	CallID    string

	// FunctionCallOutput / CustomToolCallOutput
	Output string

	// LocalShellCall
	ID     string
	Action LocalShellAction

	// WebSearchCall
	SearchQuery string
}

// TokenUsage is non-negative token counts for one model turn.
type TokenUsage struct {
	Input           int64
	CachedInput     int64
	Output          int64
	ReasoningOutput int64
	Total           int64
}

// ConversationHistory is an ordered sequence of ResponseItem. The
// invariant enforced by Record is: only items other than
// system-role messages, WebSearchCall, and Other are retained.
type ConversationHistory struct {
	items []ResponseItem
}

// retained reports whether item survives the transcript filter.
func retained(item ResponseItem) bool {
	switch item.Kind {
	case ItemMessage:
		return item.Role != "system"
	case ItemWebSearchCall, ItemOther:
		return false
	default:
		return true
	}
}

// Record appends items to the history, applying the transcript filter.
// Mutated exclusively by the turn runner.
func (h *ConversationHistory) Record(items []ResponseItem) {
	for _, it := range items {
		if retained(it) {
			h.items = append(h.items, it)
		}
	}
}

// Contents returns a snapshot of the retained items, readable by the
// submission loop for GetHistory and by the compaction task.
func (h *ConversationHistory) Contents() []ResponseItem {
	out := make([]ResponseItem, len(h.items))
	copy(out, h.items)
	return out
}

// Replace overwrites the history wholesale (used by compaction and by resume
// from a rollout file).
func (h *ConversationHistory) Replace(items []ResponseItem) {
	h.items = append(h.items[:0], items...)
}

// KeepLastMessages retains only the last n message items (role assistant or
// user) in chronological order, with their id cleared. It satisfies
// the law keep_last_messages(n) ∘ keep_last_messages(m<=n) == keep_last_messages(m)
// because it only ever looks at the current Contents(), never at history of
// prior truncations.
func (h *ConversationHistory) KeepLastMessages(n int) {
	var messages []int
	for i, it := range h.items {
		if it.Kind == ItemMessage && (it.Role == "assistant" || it.Role == "user") {
			messages = append(messages, i)
		}
	}
	if n >= len(messages) {
		return
	}
	keepFrom := messages[len(messages)-n:]
	keepSet := make(map[int]bool, len(keepFrom))
	for _, idx := range keepFrom {
		keepSet[idx] = true
	}
	out := make([]ResponseItem, 0, n)
	for i, it := range h.items {
		if !keepSet[i] {
			continue
		}
		it.ID = ""
		out = append(out, it)
	}
	h.items = out
}

// PendingToolCallIDs returns the call ids of FunctionCall/CustomToolCall/
// LocalShellCall items in the given input that have no matching output item.
func PendingToolCallIDs(input []ResponseItem) []string {
	calls := make(map[string]bool)
	for _, it := range input {
		switch it.Kind {
		case ItemFunctionCall, ItemCustomToolCall:
			calls[it.CallID] = true
		case ItemLocalShellCall:
			if it.CallID != "" {
				calls[it.CallID] = true
			} else {
				calls[it.ID] = true
			}
		case ItemFunctionCallOutput, ItemCustomToolCallOutput:
			delete(calls, it.CallID)
		}
	}
	out := make([]string, 0, len(calls))
	for id := range calls {
		out = append(out, id)
	}
	return out
}
