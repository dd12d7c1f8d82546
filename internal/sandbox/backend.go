package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
)

// BackendKind names a pluggable sandbox execution backend.
type BackendKind int

const (
	BackendNone BackendKind = iota
	BackendSeatbelt
	BackendSeccomp
)

func (k BackendKind) String() string {
	switch k {
	case BackendSeatbelt:
		return "seatbelt"
	case BackendSeccomp:
		return "seccomp+landlock"
	default:
		return "none"
	}
}

// PlatformBackend returns the sandbox backend available on this host: Seatbelt
// on macOS, seccomp+Landlock on Linux (provided a helper binary path is
// configured), none elsewhere.
func PlatformBackend(linuxHelperPath string) BackendKind {
	switch runtime.GOOS {
	case "darwin":
		return BackendSeatbelt
	case "linux":
		if linuxHelperPath != "" {
			return BackendSeccomp
		}
		return BackendNone
	default:
		return BackendNone
	}
}

// Backend prepares an *exec.Cmd to run argv under policy, rooted at cwd.
type Backend interface {
	Kind() BackendKind
	Command(ctx context.Context, argv []string, cwd string, policy Policy) (*exec.Cmd, error)
}

// NewBackend constructs the backend for kind. linuxHelperPath is only
// consulted for BackendSeccomp.
func NewBackend(kind BackendKind, linuxHelperPath string) Backend {
	switch kind {
	case BackendSeatbelt:
		return &seatbeltBackend{}
	case BackendSeccomp:
		return &seccompBackend{helperPath: linuxHelperPath}
	default:
		return &noneBackend{}
	}
}

type noneBackend struct{}

func (noneBackend) Kind() BackendKind { return BackendNone }

func (noneBackend) Command(ctx context.Context, argv []string, cwd string, _ Policy) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	return cmd, nil
}

// seatbeltBackend shells out to /usr/bin/sandbox-exec with a generated
// Seatbelt profile (.sbpl), darwin only.
type seatbeltBackend struct{}

func (seatbeltBackend) Kind() BackendKind { return BackendSeatbelt }

func (b seatbeltBackend) Command(ctx context.Context, argv []string, cwd string, policy Policy) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	profile := seatbeltProfile(cwd, policy)
	full := append([]string{"-p", profile, "--"}, argv...)
	cmd := exec.CommandContext(ctx, "/usr/bin/sandbox-exec", full...)
	cmd.Dir = cwd
	return cmd, nil
}

// seatbeltProfile generates the .sbpl policy text allowing reads everywhere,
// writes only under the policy's writable roots, and network access only
// when the policy allows it.
func seatbeltProfile(cwd string, policy Policy) string {
	roots := policy.GetWritableRootsWithCwd(cwd)

	var b fmtBuilder
	b.writeln("(version 1)")
	b.writeln("(deny default)")
	b.writeln("(allow process-fork process-exec)")
	b.writeln("(allow file-read*)")
	for _, r := range roots {
		b.writeln(fmt.Sprintf("(allow file-write* (subpath %q))", r.Root))
		for _, ro := range r.ReadOnlySubpaths {
			b.writeln(fmt.Sprintf("(deny file-write* (subpath %q))", ro))
		}
	}
	if policy.AllowsNetwork() {
		b.writeln("(allow network*)")
	} else {
		b.writeln("(deny network*)")
	}
	return b.String()
}

// seccompBackend delegates enforcement to an external helper process that
// applies seccomp-bpf and Landlock restrictions before exec'ing the real
// command; this module only constructs its argv, matching the real system's
// separation between the core agent and a dedicated sandbox helper binary.
type seccompBackend struct {
	helperPath string
}

func (seccompBackend) Kind() BackendKind { return BackendSeccomp }

func (b seccompBackend) Command(ctx context.Context, argv []string, cwd string, policy Policy) (*exec.Cmd, error) {
	if b.helperPath == "" {
		return nil, fmt.Errorf("linux sandbox helper path not configured")
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	policyJSON, err := json.Marshal(helperPolicy{
		WritableRoots: policy.GetWritableRootsWithCwd(cwd),
		NetworkAccess: policy.AllowsNetwork(),
	})
	if err != nil {
		return nil, err
	}

	full := append([]string{cwd, string(policyJSON), "--"}, argv...)
	cmd := exec.CommandContext(ctx, b.helperPath, full...)
	cmd.Dir = cwd
	cmd.SysProcAttr = pdeathsigAttr()
	return cmd, nil
}

type helperPolicy struct {
	WritableRoots []WritableRoot `json:"writable_roots"`
	NetworkAccess bool           `json:"network_access"`
}

type fmtBuilder struct {
	buf []byte
}

func (b *fmtBuilder) writeln(s string) {
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, '\n')
}

func (b *fmtBuilder) String() string { return string(b.buf) }
