package envpolicy

import (
	"strings"
	"testing"
)

func lookup(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix), true
		}
	}
	return "", false
}

func TestComputeInheritNoneStartsEmpty(t *testing.T) {
	p := Policy{Inherit: InheritNone}
	env := p.Compute(false, "")
	if len(env) != 0 {
		t.Errorf("env = %v, want empty", env)
	}
}

func TestComputeInheritCoreKeepsOnlyCoreVars(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("MY_CUSTOM_VAR", "leak")

	p := Policy{Inherit: InheritCore}
	env := p.Compute(false, "")

	if _, ok := lookup(env, "PATH"); !ok {
		t.Errorf("expected PATH to be inherited under InheritCore")
	}
	if _, ok := lookup(env, "MY_CUSTOM_VAR"); ok {
		t.Errorf("expected MY_CUSTOM_VAR to be dropped under InheritCore")
	}
}

func TestComputeInheritAllDropsDefaultExcludePatterns(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "secret")
	t.Setenv("HARMLESS_VAR", "ok")

	p := Policy{Inherit: InheritAll}
	env := p.Compute(false, "")

	if _, ok := lookup(env, "OPENAI_API_KEY"); ok {
		t.Errorf("expected OPENAI_API_KEY to be excluded by default under InheritAll")
	}
	if v, ok := lookup(env, "HARMLESS_VAR"); !ok || v != "ok" {
		t.Errorf("expected HARMLESS_VAR=ok to survive, got %q ok=%v", v, ok)
	}
}

func TestComputeIgnoreDefaultExcludesKeepsSecretLikeNames(t *testing.T) {
	t.Setenv("MY_TOKEN", "visible")

	p := Policy{Inherit: InheritAll, IgnoreDefaultExcludes: true}
	env := p.Compute(false, "")

	if v, ok := lookup(env, "MY_TOKEN"); !ok || v != "visible" {
		t.Errorf("expected MY_TOKEN to survive when IgnoreDefaultExcludes is set, got %q ok=%v", v, ok)
	}
}

func TestComputeExplicitExcludeOverridesInheritance(t *testing.T) {
	t.Setenv("KEEP_ME", "1")
	t.Setenv("DROP_ME", "1")

	p := Policy{Inherit: InheritAll, IgnoreDefaultExcludes: true, Exclude: []string{"DROP_ME"}}
	env := p.Compute(false, "")

	if _, ok := lookup(env, "DROP_ME"); ok {
		t.Errorf("expected DROP_ME to be excluded")
	}
	if _, ok := lookup(env, "KEEP_ME"); !ok {
		t.Errorf("expected KEEP_ME to survive")
	}
}

func TestComputeSetOverridesInheritedValue(t *testing.T) {
	t.Setenv("OVERRIDE_ME", "old")

	p := Policy{Inherit: InheritAll, Set: map[string]string{"OVERRIDE_ME": "new"}}
	env := p.Compute(false, "")

	if v, ok := lookup(env, "OVERRIDE_ME"); !ok || v != "new" {
		t.Errorf("OVERRIDE_ME = %q, want new", v)
	}
}

func TestComputeAddsNetworkDisabledMarker(t *testing.T) {
	p := Policy{Inherit: InheritNone}
	env := p.Compute(true, "")
	if v, ok := lookup(env, "CODEX_SANDBOX_NETWORK_DISABLED"); !ok || v != "1" {
		t.Errorf("expected CODEX_SANDBOX_NETWORK_DISABLED=1, got %q ok=%v", v, ok)
	}
}

func TestComputeAddsSandboxMarker(t *testing.T) {
	p := Policy{Inherit: InheritNone}
	env := p.Compute(false, "seatbelt")
	if v, ok := lookup(env, "CODEX_SANDBOX"); !ok || v != "seatbelt" {
		t.Errorf("expected CODEX_SANDBOX=seatbelt, got %q ok=%v", v, ok)
	}
}
