package agent

import "github.com/coreagent/runtime/internal/transcript"

// ResponseItem and its kind/content types live in internal/transcript so
// that internal/modelclient (which produces and consumes them) never has
// to import internal/agent (which imports modelclient to drive a turn).
// Aliased back here so the rest of this package, and every other importer
// written against agent.ResponseItem, sees no difference.
type (
	ResponseItemKind    = transcript.ResponseItemKind
	ContentPart         = transcript.ContentPart
	LocalShellAction    = transcript.LocalShellAction
	ResponseItem        = transcript.ResponseItem
	ConversationHistory = transcript.ConversationHistory
)

const (
	ItemMessage              = transcript.ItemMessage
	ItemReasoning            = transcript.ItemReasoning
	ItemFunctionCall         = transcript.ItemFunctionCall
	ItemFunctionCallOutput   = transcript.ItemFunctionCallOutput
	ItemCustomToolCall       = transcript.ItemCustomToolCall
	ItemCustomToolCallOutput = transcript.ItemCustomToolCallOutput
	ItemLocalShellCall       = transcript.ItemLocalShellCall
	ItemWebSearchCall        = transcript.ItemWebSearchCall
	ItemOther                = transcript.ItemOther
)

// PendingToolCallIDs returns the call ids of FunctionCall/CustomToolCall/
// LocalShellCall items in the given input that have no matching output item.
func PendingToolCallIDs(input []ResponseItem) []string {
	return transcript.PendingToolCallIDs(input)
}
