package mcpbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// client is a JSON-RPC 2.0 client for one upstream MCP server reached over
// HTTP POST, with an optional SSE (Streamable HTTP) response.
type client struct {
	endpoint        string
	httpClient      *http.Client
	requestID       atomic.Int64
	sessionID       string
	protocolVersion string
}

func newClient(endpoint string) *client {
	return &client{
		endpoint:        endpoint,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		protocolVersion: "2024-11-05",
	}
}

func (c *client) nextID() int64 {
	return c.requestID.Add(1)
}

func (c *client) call(ctx context.Context, method string, params interface{}) (*Response, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		paramsJSON = data
	}
	req := &Request{JSONRPC: "2.0", ID: c.nextID(), Method: method, Params: paramsJSON}
	return c.send(ctx, req)
}

func (c *client) send(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if c.sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	if c.protocolVersion != "" {
		httpReq.Header.Set("MCP-Protocol-Version", c.protocolVersion)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		if httpResp.StatusCode == http.StatusTooManyRequests {
			if retryAfter := httpResp.Header.Get("Retry-After"); retryAfter != "" {
				return nil, fmt.Errorf("http error %d: %s (Retry-After: %s)", httpResp.StatusCode, respBody, retryAfter)
			}
		}
		return nil, fmt.Errorf("http error %d: %s", httpResp.StatusCode, respBody)
	}

	if sessionID := httpResp.Header.Get("Mcp-Session-Id"); sessionID != "" {
		c.sessionID = sessionID
	}

	if strings.HasPrefix(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return parseSSEResponse(httpResp.Body)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func parseSSEResponse(body io.Reader) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "" && len(dataLines) > 0:
			data := strings.Join(dataLines, "")
			dataLines = nil
			var resp Response
			if err := json.Unmarshal([]byte(data), &resp); err != nil {
				continue
			}
			if resp.ID != nil {
				return &resp, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sse stream: %w", err)
	}
	if len(dataLines) > 0 {
		data := strings.Join(dataLines, "")
		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return nil, fmt.Errorf("unmarshal final sse data: %w", err)
		}
		return &resp, nil
	}
	return nil, fmt.Errorf("no response in sse stream")
}

func (c *client) initialize(ctx context.Context, clientInfo map[string]interface{}) error {
	params := map[string]interface{}{
		"protocolVersion": c.protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      clientInfo,
	}
	resp, err := c.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize: upstream error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return c.notify(ctx, "notifications/initialized", nil)
}

func (c *client) notify(ctx context.Context, method string, params interface{}) error {
	req := &Request{JSONRPC: "2.0", Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if c.sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("http error %d: %s", httpResp.StatusCode, respBody)
	}
	return nil
}

func (c *client) listTools(ctx context.Context) ([]Tool, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mcp error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools: %w", err)
	}
	return result.Tools, nil
}

func (c *client) callTool(ctx context.Context, name string, argsJSON json.RawMessage) (*ToolResult, error) {
	resp, err := c.call(ctx, "tools/call", CallToolParams{Name: name, Arguments: argsJSON})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return &ToolResult{
			Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("error: %s", resp.Error.Message)}},
			IsError: true,
		}, nil
	}
	var result ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

func (c *client) close() {
	c.httpClient.CloseIdleConnections()
}
