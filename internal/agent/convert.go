package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/coreagent/runtime/internal/modelclient"
	"github.com/coreagent/runtime/internal/toolset"
)

// assembleTools builds the ordered tool list for one turn, folding in every
// external tool the MCP bridge has indexed.
func assembleTools(ctx context.Context, s *Session, tc TurnContext) []modelclient.ToolSpec {
	var external []toolset.ExternalTool
	if s.mcp != nil {
		for _, name := range s.mcp.ListToolNames() {
			raw, desc, ok := s.mcp.Schema(ctx, name)
			if !ok {
				continue
			}
			var params map[string]any
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &params)
			}
			external = append(external, toolset.ExternalTool{
				QualifiedName: name,
				Description:   desc,
				Parameters:    params,
			})
		}
	}

	specs := toolset.Assemble(tc.Tools, external)
	out := make([]modelclient.ToolSpec, 0, len(specs))
	for _, sp := range specs {
		out = append(out, modelclient.ToolSpec{
			Name:        sp.Name,
			Description: sp.Description,
			Parameters:  sp.Parameters,
			Freeform:    sp.Freeform,
			GrammarText: sp.GrammarText,
		})
	}
	return out
}

// inputItemsToResponseItems converts raw turn input into the transcript
// items recorded as the user's contribution to a task.
func inputItemsToResponseItems(items []InputItem) []ResponseItem {
	out := make([]ResponseItem, 0, len(items))
	for _, it := range items {
		switch {
		case it.ImagePath != "":
			out = append(out, ResponseItem{
				Kind: ItemMessage,
				Role: "user",
				Content: []ContentPart{
					{Kind: "input_image", ImageURL: it.ImagePath},
				},
			})
		default:
			out = append(out, ResponseItem{
				Kind: ItemMessage,
				Role: "user",
				Content: []ContentPart{
					{Kind: "input_text", Text: it.Text},
				},
			})
		}
	}
	return out
}

// contextWindows gives the known input-token context window for a handful
// of model families; modelContextWindow falls back to a conservative
// default for anything unrecognized.
var contextWindows = map[string]int64{
	"gpt-5":      272000,
	"gpt-4.1":    1047576,
	"gpt-4o":     128000,
	"o3":         200000,
	"o4-mini":    200000,
	"codex-mini": 200000,
}

func modelContextWindow(modelSlug string) int64 {
	for prefix, window := range contextWindows {
		if strings.HasPrefix(modelSlug, prefix) {
			return window
		}
	}
	return 128000
}

// splitQualifiedName splits an MCP-bridged tool's "<server>__<tool>" call
// name, matching internal/mcpbridge's qualified-name convention.
func splitQualifiedName(name string) (server, tool string) {
	parts := strings.SplitN(name, "__", 2)
	if len(parts) != 2 {
		return "", name
	}
	return parts[0], parts[1]
}

// hasToolOutputs reports whether outputs contains at least one tool result,
// the turn loop's signal to keep looping rather than end the task.
func hasToolOutputs(outputs []ResponseItem) bool {
	for _, it := range outputs {
		switch it.Kind {
		case ItemFunctionCallOutput, ItemCustomToolCallOutput:
			return true
		}
	}
	return false
}
