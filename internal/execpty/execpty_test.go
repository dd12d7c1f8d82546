package execpty

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestExecCommandExitedWithinYieldWindow(t *testing.T) {
	m := NewManager(zerolog.Nop())
	args, _ := json.Marshal(execCommandArgs{Cmd: "echo hi", YieldTimeMs: 2000})

	out, err := m.ExecCommand(nil, args)
	if err != nil {
		t.Fatal(err)
	}
	var result execResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != "exited" {
		t.Fatalf("status = %q, want exited (result: %+v)", result.Status, result)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if !strings.Contains(result.Output, "hi") {
		t.Errorf("output = %q, want it to contain %q", result.Output, "hi")
	}
}

func TestExecCommandOngoingThenWriteStdin(t *testing.T) {
	m := NewManager(zerolog.Nop())
	args, _ := json.Marshal(execCommandArgs{Cmd: "cat", YieldTimeMs: 200})

	out, err := m.ExecCommand(nil, args)
	if err != nil {
		t.Fatal(err)
	}
	var result execResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != "ongoing" {
		t.Fatalf("status = %q, want ongoing (cat should still be waiting on stdin)", result.Status)
	}
	if result.SessionID == "" {
		t.Fatal("expected a session id for an ongoing session")
	}

	writeArgs, _ := json.Marshal(writeStdinArgs{SessionID: result.SessionID, Chars: "hello\n", YieldTimeMs: 300})
	out2, err := m.WriteStdin(nil, writeArgs)
	if err != nil {
		t.Fatal(err)
	}
	var result2 execResult
	if err := json.Unmarshal([]byte(out2), &result2); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result2.Output, "hello") {
		t.Errorf("output after write_stdin = %q, want it to echo back %q", result2.Output, "hello")
	}

	// Ctrl-C to end cat, then close up.
	killArgs, _ := json.Marshal(writeStdinArgs{SessionID: result.SessionID, Chars: "", YieldTimeMs: 300})
	m.WriteStdin(nil, killArgs)
	m.CloseAll()
}

func TestWriteStdinUnknownSessionErrors(t *testing.T) {
	m := NewManager(zerolog.Nop())
	args, _ := json.Marshal(writeStdinArgs{SessionID: "nonexistent", Chars: ""})
	if _, err := m.WriteStdin(nil, args); err == nil {
		t.Error("expected an error for an unknown session id")
	}
}

func TestMiddleTruncatePassesThroughSmallOutput(t *testing.T) {
	s := "short output\n"
	if got := middleTruncate(s, 10_000); got != s {
		t.Errorf("middleTruncate() = %q, want unchanged %q", got, s)
	}
}

func TestMiddleTruncateElidesMiddleOfLargeOutput(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString("line")
		b.WriteString(itoa(i))
		b.WriteByte('\n')
	}
	full := b.String()

	got := middleTruncate(full, 16) // max_bytes = 64
	if len(got) > 64 {
		t.Errorf("len(middleTruncate(...)) = %d, want <= 64", len(got))
	}
	if !strings.Contains(got, "tokens truncated") {
		t.Errorf("expected an elision marker, got %q", got)
	}
	if !strings.HasPrefix(full, "line0\n") || !strings.HasPrefix(got, "line0\n") {
		t.Errorf("expected the head to start at the real beginning, got %q", got)
	}
	if !strings.HasSuffix(got, "line399\n") {
		t.Errorf("expected the tail to end at the real end, got %q", got)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
