// Package execrun runs shell commands under a pluggable sandbox backend as
// real child processes, capturing output, enforcing timeouts, and
// formatting the model-facing result.
package execrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreagent/runtime/internal/agenterr"
	"github.com/coreagent/runtime/internal/envpolicy"
	"github.com/coreagent/runtime/internal/sandbox"
	"github.com/coreagent/runtime/internal/tooldispatch"
)

const (
	defaultTimeout  = 10 * time.Second
	maxDeltaEvents  = 10_000
	maxOutputBytes  = 10 * 1024
	maxOutputLines  = 256
	headLines       = 128
	tailLines       = 128
)

// OutputDeltaFunc receives a chunk of stdout or stderr as it streams in,
// tagged with the submission and call it belongs to, capped at
// maxDeltaEvents total calls per Run.
type OutputDeltaFunc func(submissionID, callID, stream string, chunk []byte)

// Runner implements tooldispatch.ExecRunner and tooldispatch.PatchApplier.
type Runner struct {
	Backends  map[sandbox.BackendKind]sandbox.Backend
	ShellEnv  envpolicy.Policy
	OnDelta   OutputDeltaFunc
	Log       zerolog.Logger
}

// NewRunner builds a Runner with backends for every kind reachable on this
// platform.
func NewRunner(linuxHelperPath string, shellEnv envpolicy.Policy, log zerolog.Logger) *Runner {
	backends := map[sandbox.BackendKind]sandbox.Backend{
		sandbox.BackendNone: sandbox.NewBackend(sandbox.BackendNone, ""),
	}
	platform := sandbox.PlatformBackend(linuxHelperPath)
	if platform != sandbox.BackendNone {
		backends[platform] = sandbox.NewBackend(platform, linuxHelperPath)
	}
	return &Runner{Backends: backends, ShellEnv: shellEnv, Log: log}
}

// WireOutputDelta sets the callback invoked for each captured output chunk
// across every Run call, wired by the session to emit
// ExecCommandOutputDelta events.
func (r *Runner) WireOutputDelta(fn OutputDeltaFunc) {
	r.OnDelta = fn
}

// Run implements tooldispatch.ExecRunner.
func (r *Runner) Run(ctx context.Context, req tooldispatch.ExecRequest) (tooldispatch.ExecResult, error) {
	backend, ok := r.Backends[req.Backend]
	if !ok {
		backend = r.Backends[sandbox.BackendNone]
	}

	argv := translateShell(req.Argv)

	timeout := defaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, err := backend.Command(runCtx, argv, req.Cwd, req.Policy)
	if err != nil {
		return tooldispatch.ExecResult{}, err
	}

	cmd.Env = r.ShellEnv.Compute(!req.Policy.AllowsNetwork(), sandboxMarker(backend.Kind()))
	cmd.Stdin = nil

	var stdoutBuf, stderrBuf, aggBuf bytes.Buffer
	var mu sync.Mutex
	deltaCount := 0

	forward := func(stream string, dst *bytes.Buffer) io.Writer {
		return writerFunc(func(p []byte) (int, error) {
			mu.Lock()
			dst.Write(p)
			aggBuf.Write(p)
			count := deltaCount
			deltaCount++
			mu.Unlock()
			if r.OnDelta != nil && count < maxDeltaEvents {
				r.OnDelta(req.SubmissionID, req.CallID, stream, append([]byte(nil), p...))
			}
			return len(p), nil
		})
	}
	cmd.Stdout = forward("stdout", &stdoutBuf)
	cmd.Stderr = forward("stderr", &stderrBuf)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil && runCtx.Err() == nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return tooldispatch.ExecResult{}, runErr
		}
	}

	exitCode, sandboxErr := classifyExit(runErr, runCtx, req.Backend)
	if sandboxErr != nil {
		return tooldispatch.ExecResult{}, sandboxErr
	}

	formatted := formatForModel(aggBuf.Bytes(), exitCode, duration)

	return tooldispatch.ExecResult{
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.String(),
		Stderr:     stderrBuf.String(),
		Aggregated: aggBuf.String(),
		Duration:   duration,
		Formatted:  formatted,
	}, nil
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func sandboxMarker(kind sandbox.BackendKind) string {
	if kind == sandbox.BackendSeatbelt {
		return "seatbelt"
	}
	return ""
}

// classifyExit maps a process-run error to an exit code and, when the
// failure is sandbox-specific, an *agenterr.SandboxError. Exit code 127
// (command not found) is never classified as a sandbox denial.
func classifyExit(err error, ctx context.Context, backend sandbox.BackendKind) (int, *agenterr.SandboxError) {
	if err == nil {
		return 0, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return 128 + 64, &agenterr.SandboxError{Kind: agenterr.SandboxTimeout}
	}

	var exitErr *exec.ExitError
	if !asExitError(err, &exitErr) {
		return -1, &agenterr.SandboxError{Kind: agenterr.SandboxDenied, Stderr: err.Error()}
	}

	code := exitErr.ExitCode()
	if sig, ok := signalFrom(exitErr); ok {
		return 128 + sig, &agenterr.SandboxError{Kind: agenterr.SandboxSignal, Signal: sig}
	}

	if code == 127 || backend == sandbox.BackendNone {
		return code, nil
	}
	return code, &agenterr.SandboxError{Kind: agenterr.SandboxDenied, ExitCode: code}
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// formatForModel produces the {"output", "metadata"} JSON envelope with
// head-and-tail truncation.
func formatForModel(agg []byte, exitCode int, duration time.Duration) string {
	text := truncateOutput(agg)
	envelope := map[string]any{
		"output": text,
		"metadata": map[string]any{
			"exit_code":       exitCode,
			"duration_seconds": duration.Seconds(),
		},
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Sprintf(`{"output":%q,"metadata":{"exit_code":%d}}`, text, exitCode)
	}
	return string(b)
}

// truncateOutput enforces the 10 KiB / 256-line head-and-tail cap, cutting on
// newline boundaries where possible.
func truncateOutput(data []byte) string {
	lines := splitLinesPreserving(data)
	if len(lines) > maxOutputLines {
		omitted := len(lines) - headLines - tailLines
		head := lines[:headLines]
		tail := lines[len(lines)-tailLines:]
		merged := make([]byte, 0, len(data))
		for _, l := range head {
			merged = append(merged, l...)
		}
		merged = append(merged, []byte(fmt.Sprintf("[... omitted %d of %d lines ...]\n", omitted, len(lines)))...)
		for _, l := range tail {
			merged = append(merged, l...)
		}
		data = merged
	}

	if len(data) > maxOutputBytes {
		data = truncateBytes(data, maxOutputBytes)
	}
	return string(data)
}

func splitLinesPreserving(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func truncateBytes(data []byte, max int) []byte {
	marker := []byte("[... output truncated ...]\n")
	head := (max - len(marker)) / 2
	tail := max - len(marker) - head
	if len(data) <= max {
		return data
	}
	headPart := data[:head]
	if idx := bytes.LastIndexByte(headPart, '\n'); idx > 0 {
		headPart = headPart[:idx+1]
	}
	tailPart := data[len(data)-tail:]
	if idx := bytes.IndexByte(tailPart, '\n'); idx >= 0 && idx+1 < len(tailPart) {
		tailPart = tailPart[idx+1:]
	}
	out := append([]byte{}, headPart...)
	out = append(out, marker...)
	out = append(out, tailPart...)
	return out
}

// translateShell rewrites argv through the detected shell to source a
// profile when the platform requires it (PowerShell on Windows always does;
// otherwise this is a passthrough).
func translateShell(argv []string) []string {
	if runtime.GOOS != "windows" {
		return argv
	}
	joined := joinQuoted(argv)
	return []string{"powershell", "-Command", joined}
}

func joinQuoted(argv []string) string {
	var b bytes.Buffer
	for i, a := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a)
	}
	return b.String()
}
