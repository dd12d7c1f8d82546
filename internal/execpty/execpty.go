// Package execpty manages long-lived pseudo-terminal sessions spawned by
// the exec_command/write_stdin tool pair, using github.com/creack/pty to
// allocate each PTY and golang.org/x/term to size it on allocation.
package execpty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const (
	defaultYieldMs         = 10_000
	defaultWriteYieldMs    = 250
	defaultMaxOutputTokens = 10_000
	defaultShell           = "/bin/bash"
)

// Manager owns every live PTY session for a core agent instance. It
// implements tooldispatch.PTYRouter (ExecCommand, WriteStdin) and
// agent.PTYManager (CloseAll).
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	log      zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{sessions: make(map[string]*session), log: log}
}

type execCommandArgs struct {
	Cmd             string `json:"cmd"`
	YieldTimeMs     int64  `json:"yield_time_ms"`
	MaxOutputTokens int    `json:"max_output_tokens"`
	Shell           string `json:"shell"`
	Login           *bool  `json:"login"`
}

type writeStdinArgs struct {
	SessionID       string `json:"session_id"`
	Chars           string `json:"chars"`
	YieldTimeMs     int64  `json:"yield_time_ms"`
	MaxOutputTokens int    `json:"max_output_tokens"`
}

type execResult struct {
	Output    string `json:"output"`
	Status    string `json:"status"` // "exited" | "ongoing"
	ExitCode  int    `json:"exit_code,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ExecCommand allocates a new PTY, spawns the requested command under the
// user's shell, and collects output for up to yield_time_ms before
// reporting whether the process already exited or is still running.
func (m *Manager) ExecCommand(ctx context.Context, raw json.RawMessage) (string, error) {
	var args execCommandArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("exec_command: invalid arguments: %w", err)
	}
	if args.Cmd == "" {
		return "", fmt.Errorf("exec_command: cmd is required")
	}
	yieldMs := args.YieldTimeMs
	if yieldMs <= 0 {
		yieldMs = defaultYieldMs
	}
	maxTokens := args.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	shellBin := args.Shell
	if shellBin == "" {
		shellBin = defaultShell
	}
	login := true
	if args.Login != nil {
		login = *args.Login
	}
	flag := "-c"
	if login {
		flag = "-lc"
	}

	sess, err := newSession(shellBin, flag, args.Cmd)
	if err != nil {
		m.log.Warn().Err(err).Str("cmd", args.Cmd).Msg("exec_command: failed to allocate pty")
		return "", fmt.Errorf("exec_command: %w", err)
	}

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()
	m.log.Debug().Str("session_id", sess.id).Str("cmd", args.Cmd).Msg("exec_command: pty session started")

	out, exited, code := sess.collectFor(time.Duration(yieldMs) * time.Millisecond)
	result := execResult{Output: middleTruncate(string(out), maxTokens)}
	if exited {
		result.Status = "exited"
		result.ExitCode = code
		m.mu.Lock()
		delete(m.sessions, sess.id)
		m.mu.Unlock()
	} else {
		result.Status = "ongoing"
		result.SessionID = sess.id
	}
	return encodeResult(result)
}

// WriteStdin looks up a live session, pushes chars to its pty, then
// collects combined output for yield_time_ms. An empty chars value is a
// pure poll; the control character (\u0003) sends Ctrl-C.
func (m *Manager) WriteStdin(ctx context.Context, raw json.RawMessage) (string, error) {
	var args writeStdinArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("write_stdin: invalid arguments: %w", err)
	}
	m.mu.Lock()
	sess, ok := m.sessions[args.SessionID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("write_stdin: no live session %q", args.SessionID)
	}

	yieldMs := args.YieldTimeMs
	if yieldMs <= 0 {
		yieldMs = defaultWriteYieldMs
	}
	maxTokens := args.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}

	if args.Chars != "" {
		if _, err := sess.ptyFile.Write([]byte(args.Chars)); err != nil {
			return "", fmt.Errorf("write_stdin: %w", err)
		}
	}

	out, exited, code := sess.collectFor(time.Duration(yieldMs) * time.Millisecond)
	result := execResult{Output: middleTruncate(string(out), maxTokens)}
	if exited {
		result.Status = "exited"
		result.ExitCode = code
		m.mu.Lock()
		delete(m.sessions, sess.id)
		m.mu.Unlock()
	} else {
		result.Status = "ongoing"
		result.SessionID = sess.id
	}
	return encodeResult(result)
}

// CloseAll kills every live PTY session's process and aborts its
// background reader, implementing agent.PTYManager for session shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.kill()
	}
}

func encodeResult(r execResult) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// session is one live PTY-backed child process with a fan-out broadcaster
// over its combined stdout/stderr stream.
type session struct {
	id      string
	cmd     *exec.Cmd
	ptyFile *os.File

	subsMu    sync.Mutex
	subs      map[int]chan []byte
	nextSubID int

	exitMu   sync.Mutex
	exited   bool
	exitCode int
	doneCh   chan struct{}
}

func newSession(shellBin, flag, script string) (*session, error) {
	cmd := exec.Command(shellBin, flag, script)
	ptyFile, err := pty.StartWithSize(cmd, terminalSize())
	if err != nil {
		return nil, err
	}
	s := &session{
		id:      uuid.NewString(),
		cmd:     cmd,
		ptyFile: ptyFile,
		subs:    make(map[int]chan []byte),
		doneCh:  make(chan struct{}),
	}
	go s.readLoop()
	go s.waitLoop()
	return s, nil
}

func terminalSize() *pty.Winsize {
	cols, rows := 80, 24
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
		cols, rows = w, h
	}
	return &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
}

func (s *session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptyFile.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.broadcast(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (s *session) waitLoop() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.exitMu.Lock()
	s.exited = true
	s.exitCode = code
	s.exitMu.Unlock()
	close(s.doneCh)
	s.ptyFile.Close()
}

func (s *session) broadcast(chunk []byte) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- chunk:
		default:
			// Slow subscriber; drop rather than block the reader.
		}
	}
}

func (s *session) subscribe() (int, chan []byte) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan []byte, 256)
	s.subs[id] = ch
	return id, ch
}

func (s *session) unsubscribe(id int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, id)
}

func (s *session) isExited() (bool, int) {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()
	return s.exited, s.exitCode
}

// collectFor subscribes to the session's output broadcast and accumulates
// chunks for d, or until the process exits, whichever comes first.
func (s *session) collectFor(d time.Duration) ([]byte, bool, int) {
	id, ch := s.subscribe()
	defer s.unsubscribe(id)

	var buf bytes.Buffer
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case chunk := <-ch:
			buf.Write(chunk)
		case <-timer.C:
			exited, code := s.isExited()
			return buf.Bytes(), exited, code
		case <-s.doneCh:
			drainPending(ch, &buf)
			_, code := s.isExited()
			return buf.Bytes(), true, code
		}
	}
}

func drainPending(ch chan []byte, buf *bytes.Buffer) {
	for {
		select {
		case chunk := <-ch:
			buf.Write(chunk)
		default:
			return
		}
	}
}

func (s *session) kill() {
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.ptyFile.Close()
}
