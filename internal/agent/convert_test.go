package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/coreagent/runtime/internal/toolset"
)

type fakeMcp struct {
	names   []string
	schemas map[string]json.RawMessage
	descs   map[string]string
}

func (f *fakeMcp) ListToolNames() []string { return f.names }

func (f *fakeMcp) Schema(ctx context.Context, qualifiedName string) (json.RawMessage, string, bool) {
	raw, ok := f.schemas[qualifiedName]
	return raw, f.descs[qualifiedName], ok
}

func TestAssembleToolsIncludesExternalTools(t *testing.T) {
	s := NewSession("", 1, TurnContext{})
	s.WireMcp(&fakeMcp{
		names:   []string{"github__search_issues"},
		schemas: map[string]json.RawMessage{"github__search_issues": json.RawMessage(`{"type":"object"}`)},
		descs:   map[string]string{"github__search_issues": "search issues"},
	})

	specs := assembleTools(context.Background(), s, TurnContext{Tools: toolset.Config{PlanToolEnabled: true}})

	var found bool
	for _, sp := range specs {
		if sp.Name == "github__search_issues" {
			found = true
			if sp.Description != "search issues" {
				t.Errorf("description = %q, want %q", sp.Description, "search issues")
			}
		}
	}
	if !found {
		t.Error("assembleTools did not include the external tool")
	}
}

func TestSplitQualifiedName(t *testing.T) {
	cases := []struct {
		name       string
		in         string
		wantServer string
		wantTool   string
	}{
		{"qualified", "github__search_issues", "github", "search_issues"},
		{"double underscore in tool name", "github__search__issues", "github", "search__issues"},
		{"unqualified", "shell", "", "shell"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, tool := splitQualifiedName(tc.in)
			if server != tc.wantServer || tool != tc.wantTool {
				t.Errorf("splitQualifiedName(%q) = (%q, %q), want (%q, %q)", tc.in, server, tool, tc.wantServer, tc.wantTool)
			}
		})
	}
}

func TestModelContextWindowKnownPrefix(t *testing.T) {
	if got := modelContextWindow("gpt-5-codex"); got != 272000 {
		t.Errorf("modelContextWindow(gpt-5-codex) = %d, want 272000", got)
	}
}

func TestModelContextWindowUnknownFallsBackToDefault(t *testing.T) {
	if got := modelContextWindow("some-future-model"); got != 128000 {
		t.Errorf("modelContextWindow(unknown) = %d, want 128000 default", got)
	}
}

func TestHasToolOutputs(t *testing.T) {
	cases := []struct {
		name string
		in   []ResponseItem
		want bool
	}{
		{"empty", nil, false},
		{"message only", []ResponseItem{{Kind: ItemMessage, Role: "assistant"}}, false},
		{"function call output", []ResponseItem{{Kind: ItemFunctionCallOutput}}, true},
		{"custom tool call output", []ResponseItem{{Kind: ItemCustomToolCallOutput}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := hasToolOutputs(tc.in); got != tc.want {
				t.Errorf("hasToolOutputs(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestInputItemsToResponseItems(t *testing.T) {
	out := inputItemsToResponseItems([]InputItem{
		{Text: "hello"},
		{ImagePath: "/tmp/shot.png"},
	})
	if len(out) != 2 {
		t.Fatalf("got %d items, want 2", len(out))
	}
	if out[0].Content[0].Kind != "input_text" || out[0].Content[0].Text != "hello" {
		t.Errorf("text item = %+v", out[0])
	}
	if out[1].Content[0].Kind != "input_image" || out[1].Content[0].ImageURL != "/tmp/shot.png" {
		t.Errorf("image item = %+v", out[1])
	}
}
