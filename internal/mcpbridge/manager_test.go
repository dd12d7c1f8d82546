package mcpbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/coreagent/runtime/internal/config"
)

func TestValidServerName(t *testing.T) {
	cases := map[string]bool{
		"todo":        true,
		"my_server-1": true,
		"has space":   false,
		"has/slash":   false,
		"":            false,
	}
	for name, want := range cases {
		if got := validServerName(name); got != want {
			t.Errorf("validServerName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestQualifiedNameShortPassesThrough(t *testing.T) {
	got := qualifiedName("todo", "write")
	if got != "todo__write" {
		t.Fatalf("got %q", got)
	}
}

func TestQualifiedNameLongGetsShaSuffix(t *testing.T) {
	server := strings.Repeat("s", 40)
	tool := strings.Repeat("t", 40)
	got := qualifiedName(server, tool)
	if len(got) != maxQualifiedNameLen {
		t.Fatalf("len(got) = %d, want %d", len(got), maxQualifiedNameLen)
	}
	parts := strings.SplitN(got, "-", 2)
	if len(parts) != 2 || len(parts[1]) != oidSuffixLen {
		t.Fatalf("got %q, want <prefix>-<40 hex chars>", got)
	}
}

func TestSanitizeSchemaBoolBecomesString(t *testing.T) {
	out := sanitizeSchema(json.RawMessage(`true`))
	if string(out) != `{"type":"string"}` {
		t.Fatalf("got %s", out)
	}
}

func TestSanitizeSchemaInfersObjectFromProperties(t *testing.T) {
	out := sanitizeSchema(json.RawMessage(`{"properties":{"a":{"type":"integer"}}}`))
	var got map[string]interface{}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "object" {
		t.Fatalf("got type %v", got["type"])
	}
	props := got["properties"].(map[string]interface{})
	a := props["a"].(map[string]interface{})
	if a["type"] != "number" {
		t.Fatalf("nested integer not normalized: %v", a["type"])
	}
}

func TestSanitizeSchemaArrayWithoutItemsGetsStringItems(t *testing.T) {
	out := sanitizeSchema(json.RawMessage(`{"type":"array"}`))
	var got map[string]interface{}
	json.Unmarshal(out, &got)
	items := got["items"].(map[string]interface{})
	if items["type"] != "string" {
		t.Fatalf("got items %v", items)
	}
}

func TestSanitizeSchemaTypeArrayPicksFirstSupported(t *testing.T) {
	out := sanitizeSchema(json.RawMessage(`{"type":["integer","string"]}`))
	var got map[string]interface{}
	json.Unmarshal(out, &got)
	if got["type"] != "number" {
		t.Fatalf("got %v", got["type"])
	}
}

func TestSanitizeSchemaNoShapeDefaultsToString(t *testing.T) {
	out := sanitizeSchema(json.RawMessage(`{}`))
	var got map[string]interface{}
	json.Unmarshal(out, &got)
	if got["type"] != "string" {
		t.Fatalf("got %v", got["type"])
	}
}

// fakeServer implements just enough of the MCP JSON-RPC surface
// (initialize, tools/list, tools/call) to exercise Manager end to end.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/json")

		var resp Response
		resp.JSONRPC = "2.0"
		resp.ID = req.ID
		switch req.Method {
		case "initialize":
			resp.Result = json.RawMessage(`{}`)
		case "notifications/initialized":
			w.WriteHeader(http.StatusOK)
			return
		case "tools/list":
			resp.Result = json.RawMessage(`{"tools":[{"name":"run","description":"runs a thing","inputSchema":{"type":"object","properties":{"n":{"type":"integer"}}}}]}`)
		case "tools/call":
			resp.Result = json.RawMessage(`{"content":[{"type":"text","text":"ok"}],"structuredContent":{"n":1}}`)
		default:
			t.Fatalf("unexpected method %q", req.Method)
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestManagerStartAndCallTool(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	m := NewManager(zerolog.Nop())
	m.Start(context.Background(), map[string]config.MCPServerConfig{
		"demo": {Endpoint: srv.URL},
	})

	if fails := m.StartupFailures(); len(fails) != 0 {
		t.Fatalf("unexpected startup failures: %v", fails)
	}

	names := m.ListToolNames()
	if len(names) != 1 || names[0] != "demo__run" {
		t.Fatalf("got tool names %v", names)
	}
	if !m.Recognizes("demo__run") {
		t.Fatalf("expected Recognizes(demo__run) = true")
	}

	out, ok, err := m.CallTool(context.Background(), "demo__run", `{"n":1}`)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !ok {
		t.Fatalf("expected success")
	}
	if out != `{"n":1}` {
		t.Fatalf("expected structured content to win, got %q", out)
	}
}

func TestManagerStartRecordsInvalidServerName(t *testing.T) {
	m := NewManager(zerolog.Nop())
	m.Start(context.Background(), map[string]config.MCPServerConfig{
		"bad name!": {Endpoint: "http://example.invalid"},
	})
	fails := m.StartupFailures()
	if len(fails) != 1 || !strings.Contains(fails[0], "invalid name") {
		t.Fatalf("got failures %v", fails)
	}
	if len(m.ListToolNames()) != 0 {
		t.Fatalf("expected no tools registered")
	}
}

func TestManagerCallToolUnrecognized(t *testing.T) {
	m := NewManager(zerolog.Nop())
	if _, _, err := m.CallTool(context.Background(), "nope__tool", `{}`); err == nil {
		t.Fatal("expected error for unrecognized qualified name")
	}
}
