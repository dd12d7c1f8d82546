// Package envpolicy computes the environment map passed to sandboxed child
// processes: inherited variables filtered by an inherit mode plus explicit
// set/exclude overrides.
package envpolicy

import (
	"os"
	"strings"
)

// InheritMode selects which of the parent process's environment variables
// are visible to the child before Set/Exclude are applied.
type InheritMode int

const (
	InheritAll InheritMode = iota
	InheritCore
	InheritNone
)

// defaultExcludePatterns matches variable name patterns dropped by default even
// under InheritAll, unless IgnoreDefaultExcludes is set — secrets and
// credentials that have no business reaching a sandboxed child.
var defaultExcludePatterns = []string{"KEY", "SECRET", "TOKEN", "PASSWORD"}

// coreVars is the minimal variable set kept under InheritCore.
var coreVars = []string{"PATH", "HOME", "USER", "SHELL", "LANG", "LC_ALL", "TZ", "TMPDIR"}

// Policy describes how to compute a child process's environment.
type Policy struct {
	Inherit                InheritMode
	IgnoreDefaultExcludes  bool
	Set                    map[string]string
	Exclude                []string
}

// Compute returns the final "KEY=VALUE" slice for a child process, given the
// current process environment as the inheritance source.
func (p Policy) Compute(networkDisabled bool, sandboxMarker string) []string {
	base := map[string]string{}

	switch p.Inherit {
	case InheritAll:
		for _, kv := range os.Environ() {
			k, v, ok := splitEnv(kv)
			if !ok {
				continue
			}
			if !p.IgnoreDefaultExcludes && matchesAny(k, defaultExcludePatterns) {
				continue
			}
			base[k] = v
		}
	case InheritCore:
		for _, k := range coreVars {
			if v, ok := os.LookupEnv(k); ok {
				base[k] = v
			}
		}
	case InheritNone:
	}

	for _, pattern := range p.Exclude {
		for k := range base {
			if matchesAny(k, []string{pattern}) {
				delete(base, k)
			}
		}
	}

	for k, v := range p.Set {
		base[k] = v
	}

	if networkDisabled {
		base["CODEX_SANDBOX_NETWORK_DISABLED"] = "1"
	}
	if sandboxMarker != "" {
		base["CODEX_SANDBOX"] = sandboxMarker
	}

	out := make([]string, 0, len(base))
	for k, v := range base {
		out = append(out, k+"="+v)
	}
	return out
}

func splitEnv(kv string) (string, string, bool) {
	idx := strings.IndexByte(kv, '=')
	if idx < 0 {
		return "", "", false
	}
	return kv[:idx], kv[idx+1:], true
}

func matchesAny(key string, patterns []string) bool {
	upper := strings.ToUpper(key)
	for _, p := range patterns {
		if strings.Contains(upper, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
