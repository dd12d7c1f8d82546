// Package toolset assembles the list of tool definitions sent to the model
// for one turn: the shell tool (in one of its several flavors), update_plan,
// apply_patch, web_search, view_image, and every external tool the MCP
// bridge has indexed, in a fixed order for prompt-cache determinism.
package toolset

// Spec is one tool definition to hand to the model client. Freeform tools
// carry a grammar instead of a JSON Schema.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Freeform    bool
	GrammarText string
}

// Config selects which tool variants to assemble for a turn. Zero value
// assembles the plain shell + function-call apply_patch set (update_plan is
// added only when PlanToolEnabled is set), which is the safe default for an
// unrecognized model family.
type Config struct {
	// UseLocalShellTool selects the native local_shell tool instead of the
	// generic shell function tool, for model families with built-in support.
	UseLocalShellTool bool
	// UseFreeformApplyPatch selects the Lark-grammar apply_patch tool
	// instead of the {input:string} function-call variant.
	UseFreeformApplyPatch bool
	// StreamableShellEnabled selects the exec_command/write_stdin pair
	// instead of a single-shot shell tool.
	StreamableShellEnabled bool
	// EscalatedPermissionsSupported augments the shell tool schema with
	// {with_escalated_permissions, justification}, used under the OnRequest
	// approval policy.
	EscalatedPermissionsSupported bool
	PlanToolEnabled               bool
	WebSearchEnabled              bool
	ViewImageEnabled              bool
}

// FamilyDefaults derives a baseline Config from a model family slug. Callers
// still need to set StreamableShellEnabled/PlanToolEnabled/WebSearchEnabled/
// ViewImageEnabled/EscalatedPermissionsSupported from the active session
// and approval policy; FamilyDefaults only decides the family-locked shell
// and apply_patch variants.
func FamilyDefaults(family string) Config {
	switch family {
	case "codex", "gpt-5-codex", "codex-mini-latest":
		return Config{UseLocalShellTool: true, UseFreeformApplyPatch: true}
	default:
		return Config{}
	}
}

// ExternalTool is one tool already indexed by the MCP bridge, ready to be
// advertised to the model under its fully-qualified name.
type ExternalTool struct {
	QualifiedName string
	Description   string
	Parameters    map[string]any
}

// Assemble builds the ordered tool list for one turn: shell variant,
// update_plan, apply_patch variant, web_search, view_image, then every
// external tool sorted by qualified name (for prompt-cache determinism).
func Assemble(cfg Config, external []ExternalTool) []Spec {
	var specs []Spec

	if cfg.StreamableShellEnabled {
		specs = append(specs, execCommandSpec(), writeStdinSpec())
	} else if cfg.UseLocalShellTool {
		specs = append(specs, localShellSpec())
	} else {
		specs = append(specs, shellSpec(cfg.EscalatedPermissionsSupported))
	}

	if cfg.PlanToolEnabled {
		specs = append(specs, updatePlanSpec())
	}

	if cfg.UseFreeformApplyPatch {
		specs = append(specs, applyPatchFreeformSpec())
	} else {
		specs = append(specs, applyPatchFunctionSpec())
	}

	if cfg.WebSearchEnabled {
		specs = append(specs, webSearchSpec())
	}
	if cfg.ViewImageEnabled {
		specs = append(specs, viewImageSpec())
	}

	specs = append(specs, externalSpecs(external)...)
	return specs
}
