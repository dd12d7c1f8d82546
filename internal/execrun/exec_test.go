package execrun

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreagent/runtime/internal/agenterr"
	"github.com/coreagent/runtime/internal/envpolicy"
	"github.com/coreagent/runtime/internal/sandbox"
	"github.com/coreagent/runtime/internal/tooldispatch"
)

func newTestRunner() *Runner {
	return NewRunner("", envpolicy.Policy{Inherit: envpolicy.InheritCore}, zerolog.Nop())
}

func TestRunEchoSucceeds(t *testing.T) {
	r := newTestRunner()
	res, err := r.Run(context.Background(), tooldispatch.ExecRequest{
		Argv: []string{"echo", "hello"},
		Cwd:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Fatalf("stdout = %q, want to contain hello", res.Stdout)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	r := newTestRunner()
	res, err := r.Run(context.Background(), tooldispatch.ExecRequest{
		Argv: []string{"false"},
		Cwd:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", res.ExitCode)
	}
}

func TestRunCommandNotFoundIsNotSandboxDenial(t *testing.T) {
	r := newTestRunner()
	_, err := r.Run(context.Background(), tooldispatch.ExecRequest{
		Argv:    []string{"definitely-not-a-real-binary-xyz"},
		Cwd:     t.TempDir(),
		Backend: sandbox.BackendSeatbelt, // forces the non-None classification branch
	})
	if err == nil {
		t.Fatalf("Run: expected an error for a missing binary")
	}
	var sbErr *agenterr.SandboxError
	if errors.As(err, &sbErr) && sbErr.Kind == agenterr.SandboxDenied {
		t.Fatalf("Run: missing binary classified as sandbox denial: %v", err)
	}
}

func TestRunTimeoutSynthesizesExitCode(t *testing.T) {
	r := newTestRunner()
	_, err := r.Run(context.Background(), tooldispatch.ExecRequest{
		Argv:      []string{"sleep", "2"},
		Cwd:       t.TempDir(),
		TimeoutMs: 50,
	})
	if err == nil {
		t.Fatalf("Run: expected timeout error")
	}
}

func TestTruncateOutputKeepsHeadAndTail(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("line\n")
	}
	out := truncateOutput([]byte(b.String()))
	if !strings.Contains(out, "omitted") {
		t.Fatalf("expected an omission marker, got %q", out[:80])
	}
	lines := strings.Count(out, "\n")
	if lines > maxOutputLines+1 {
		t.Fatalf("line count = %d, want <= %d", lines, maxOutputLines+1)
	}
}

func TestTruncateOutputPassesThroughSmallOutput(t *testing.T) {
	out := truncateOutput([]byte("hello\nworld\n"))
	if out != "hello\nworld\n" {
		t.Fatalf("truncateOutput mutated small output: %q", out)
	}
}

func TestFormatForModelIsValidEnvelope(t *testing.T) {
	out := formatForModel([]byte("ok\n"), 0, 1500*time.Millisecond)
	for _, want := range []string{`"output"`, `"exit_code":0`, `"duration_seconds"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("formatForModel output = %q, missing %q", out, want)
		}
	}
}
