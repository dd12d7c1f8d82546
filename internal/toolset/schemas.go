package toolset

import "sort"

func shellSpec(escalatedPermissions bool) Spec {
	props := map[string]any{
		"command": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"workdir":    map[string]any{"type": "string"},
		"timeout_ms": map[string]any{"type": "number"},
	}
	required := []string{"command"}
	if escalatedPermissions {
		props["with_escalated_permissions"] = map[string]any{"type": "boolean"}
		props["justification"] = map[string]any{"type": "string"}
	}
	return Spec{
		Name:        "shell",
		Description: "Runs a shell command and returns its output.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

func localShellSpec() Spec {
	return Spec{
		Name:        "local_shell",
		Description: "Runs a shell command locally and returns its output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"workdir":    map[string]any{"type": "string"},
				"timeout_ms": map[string]any{"type": "number"},
			},
			"required": []string{"command"},
		},
	}
}

func execCommandSpec() Spec {
	return Spec{
		Name:        "exec_command",
		Description: "Starts a command in a new PTY session and returns output collected so far.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"cmd":               map[string]any{"type": "string"},
				"yield_time_ms":     map[string]any{"type": "number", "default": 10000},
				"max_output_tokens": map[string]any{"type": "number", "default": 10000},
				"shell":             map[string]any{"type": "string", "default": "/bin/bash"},
				"login":             map[string]any{"type": "boolean", "default": true},
			},
			"required": []string{"cmd"},
		},
	}
}

func writeStdinSpec() Spec {
	return Spec{
		Name:        "write_stdin",
		Description: "Writes characters to a live exec_command session's PTY and returns output collected so far.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id":        map[string]any{"type": "string"},
				"chars":             map[string]any{"type": "string"},
				"yield_time_ms":     map[string]any{"type": "number", "default": 250},
				"max_output_tokens": map[string]any{"type": "number", "default": 10000},
			},
			"required": []string{"session_id", "chars"},
		},
	}
}

func updatePlanSpec() Spec {
	return Spec{
		Name:        "update_plan",
		Description: "Replaces the current task plan with an ordered list of steps; at most one step may be in_progress.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"explanation": map[string]any{"type": "string"},
				"plan": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"step":   map[string]any{"type": "string"},
							"status": map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
						},
						"required": []string{"step", "status"},
					},
				},
			},
			"required": []string{"plan"},
		},
	}
}

func applyPatchFunctionSpec() Spec {
	return Spec{
		Name:        "apply_patch",
		Description: "Applies a patch in the apply_patch envelope format to files on disk.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{"type": "string"},
			},
			"required": []string{"input"},
		},
	}
}

// applyPatchFreeformSpec carries the Lark grammar describing the
// "*** Begin Patch" / "*** End Patch" envelope and its Add/Delete/Update/
// Move/@@/+/-/space constructs, for model families that accept a freeform
// (non-JSON) tool call grammar.
func applyPatchFreeformSpec() Spec {
	return Spec{
		Name:        "apply_patch",
		Description: "Applies a patch in the apply_patch envelope format to files on disk.",
		Freeform:    true,
		GrammarText: applyPatchGrammar,
	}
}

const applyPatchGrammar = `
start: begin_patch hunk+ end_patch
begin_patch: "*** Begin Patch" NEWLINE
end_patch: "*** End Patch" NEWLINE?
hunk: add_hunk | delete_hunk | update_hunk
add_hunk: "*** Add File: " PATH NEWLINE add_line+
delete_hunk: "*** Delete File: " PATH NEWLINE
update_hunk: "*** Update File: " PATH NEWLINE move_line? context_line*
move_line: "*** Move to: " PATH NEWLINE
context_line: "@@" " "? TEXT? NEWLINE (add_line | remove_line | keep_line)*
add_line: "+" TEXT NEWLINE
remove_line: "-" TEXT NEWLINE
keep_line: " " TEXT NEWLINE
PATH: /[^\n]+/
TEXT: /[^\n]*/
NEWLINE: /\n/
`

func webSearchSpec() Spec {
	return Spec{
		Name:        "web_search",
		Description: "Searches the web and returns a list of results.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
	}
}

func viewImageSpec() Spec {
	return Spec{
		Name:        "view_image",
		Description: "Attaches a local image file to the conversation for the next turn.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []string{"path"},
		},
	}
}

// externalSpecs converts MCP-bridged tools to Specs, sorted by qualified
// name so the tool list (and therefore the prompt prefix sent to the model)
// is deterministic across turns for prompt-cache reuse.
func externalSpecs(external []ExternalTool) []Spec {
	sorted := make([]ExternalTool, len(external))
	copy(sorted, external)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].QualifiedName < sorted[j].QualifiedName })

	specs := make([]Spec, 0, len(sorted))
	for _, t := range sorted {
		specs = append(specs, Spec{
			Name:        t.QualifiedName,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return specs
}
