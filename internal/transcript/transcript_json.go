package transcript

import "encoding/json"

// responseItemWire is the on-disk/on-wire JSON shape for one ResponseItem,
// used by the rollout recorder and by resume. A discriminated "type" field
// selects which of the kind-specific groups below are populated.
type responseItemWire struct {
	Type string `json:"type"`

	// message
	Role    string            `json:"role,omitempty"`
	Content []contentPartWire `json:"content,omitempty"`

	// reasoning
	Summary          []string `json:"summary,omitempty"`
	ReasoningContent []string `json:"reasoning_content,omitempty"`
	EncryptedContent string   `json:"encrypted_content,omitempty"`

	// function_call / custom_tool_call
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// function_call_output / custom_tool_call_output
	Output string `json:"output,omitempty"`

	// local_shell_call
	ID     string                `json:"id,omitempty"`
	Action *localShellActionWire `json:"action,omitempty"`

	// web_search_call
	SearchQuery string `json:"search_query,omitempty"`
}

type contentPartWire struct {
	Kind     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type localShellActionWire struct {
	Command []string `json:"command"`
	Cwd     string   `json:"cwd,omitempty"`
	Timeout int64    `json:"timeout_ms,omitempty"`
}

var kindToWireType = map[ResponseItemKind]string{
	ItemMessage:              "message",
	ItemReasoning:            "reasoning",
	ItemFunctionCall:         "function_call",
	ItemFunctionCallOutput:   "function_call_output",
	ItemCustomToolCall:       "custom_tool_call",
	ItemCustomToolCallOutput: "custom_tool_call_output",
	ItemLocalShellCall:       "local_shell_call",
	ItemWebSearchCall:        "web_search_call",
	ItemOther:                "other",
}

var wireTypeToKind = func() map[string]ResponseItemKind {
	out := make(map[string]ResponseItemKind, len(kindToWireType))
	for k, v := range kindToWireType {
		out[v] = k
	}
	return out
}()

// MarshalJSON implements json.Marshaler for the rollout/history on-disk
// format and for resume parsing.
func (it ResponseItem) MarshalJSON() ([]byte, error) {
	w := responseItemWire{
		Type:             kindToWireType[it.Kind],
		Role:             it.Role,
		Summary:          it.Summary,
		ReasoningContent: it.ReasoningContent,
		EncryptedContent: it.EncryptedContent,
		Name:             it.Name,
		Arguments:        it.Arguments,
		CallID:           it.CallID,
		Output:           it.Output,
		ID:               it.ID,
		SearchQuery:      it.SearchQuery,
	}
	if w.Type == "" {
		w.Type = "other"
	}
	for _, c := range it.Content {
		w.Content = append(w.Content, contentPartWire{Kind: c.Kind, Text: c.Text, ImageURL: c.ImageURL})
	}
	if it.Kind == ItemLocalShellCall {
		w.Action = &localShellActionWire{
			Command: it.Action.Command,
			Cwd:     it.Action.Cwd,
			Timeout: it.Action.Timeout,
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (it *ResponseItem) UnmarshalJSON(data []byte) error {
	var w responseItemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, ok := wireTypeToKind[w.Type]
	if !ok {
		kind = ItemOther
	}
	*it = ResponseItem{
		Kind:             kind,
		Role:             w.Role,
		Summary:          w.Summary,
		ReasoningContent: w.ReasoningContent,
		EncryptedContent: w.EncryptedContent,
		Name:             w.Name,
		Arguments:        w.Arguments,
		CallID:           w.CallID,
		Output:           w.Output,
		ID:               w.ID,
		SearchQuery:      w.SearchQuery,
	}
	for _, c := range w.Content {
		it.Content = append(it.Content, ContentPart{Kind: c.Kind, Text: c.Text, ImageURL: c.ImageURL})
	}
	if w.Action != nil {
		it.Action = LocalShellAction{Command: w.Action.Command, Cwd: w.Action.Cwd, Timeout: w.Action.Timeout}
	}
	return nil
}
