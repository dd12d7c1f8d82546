// Package rollout records a session's transcript to an append-only JSONL
// file and supports resuming a session from one. A background writer task
// fed by a bounded channel serializes every append.
package rollout

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreagent/runtime/internal/agent"
	"github.com/coreagent/runtime/internal/config"
)

// Meta is the rollout file's first line: session identity plus git context
// collected once at startup.
type Meta struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	Instructions   string `json:"instructions,omitempty"`
	CommitHash     string `json:"commit_hash,omitempty"`
	Branch         string `json:"branch,omitempty"`
	RepositoryURL  string `json:"repository_url,omitempty"`
}

// stateLine is a non-transcript snapshot line.
type stateLine struct {
	RecordType string          `json:"record_type"`
	State      json.RawMessage `json:"state"`
}

type writeRequest struct {
	items []agent.ResponseItem
	state json.RawMessage
}

// Recorder implements agent.RolloutRecorder: a cloneable handle onto one
// background writer task serialized through a bounded channel.
type Recorder struct {
	path string
	ch   chan writeRequest
	ack  chan chan struct{}
	log  zerolog.Logger
}

const writerQueueCapacity = 256

// New creates a new rollout file under <COREAGENT_HOME>/sessions/YYYY/MM/DD/ and
// starts its background writer task.
func New(sessionID, instructions string, cwd string, log zerolog.Logger) (*Recorder, error) {
	home, err := config.EnsureHome()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	dir := filepath.Join(home, "sessions", now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	fname := fmt.Sprintf("rollout-%s-%s.jsonl", now.Format("2006-01-02T15-04-05"), sessionID)
	path := filepath.Join(dir, fname)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}

	meta := Meta{ID: sessionID, Timestamp: now.Format(time.RFC3339), Instructions: instructions}
	meta.CommitHash, meta.Branch, meta.RepositoryURL = gitInfo(cwd)
	metaLine, err := json.Marshal(meta)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(append(metaLine, '\n')); err != nil {
		f.Close()
		return nil, err
	}

	r := &Recorder{
		path: path,
		ch:   make(chan writeRequest, writerQueueCapacity),
		ack:  make(chan chan struct{}),
		log:  log,
	}
	go r.writerLoop(f)
	return r, nil
}

func (r *Recorder) writerLoop(f *os.File) {
	defer f.Close()
	w := bufio.NewWriter(f)
	flushAndSync := func() {
		w.Flush()
		f.Sync()
	}
	for {
		select {
		case req := <-r.ch:
			for _, item := range req.items {
				line, err := json.Marshal(item)
				if err != nil {
					r.log.Warn().Err(err).Msg("rollout: failed to marshal response item")
					continue
				}
				w.Write(line)
				w.WriteByte('\n')
			}
			if req.state != nil {
				line, err := json.Marshal(stateLine{RecordType: "state", State: req.state})
				if err != nil {
					r.log.Warn().Err(err).Msg("rollout: failed to marshal state snapshot")
				} else {
					w.Write(line)
					w.WriteByte('\n')
				}
			}
		case done := <-r.ack:
			flushAndSync()
			close(done)
			return
		}
	}
}

// RecordItems enqueues transcript items for the background writer,
// implementing agent.RolloutRecorder. Only items passing the transcript
// filter should be passed in; RecordItems writes whatever it is given
// verbatim since filtering already happened at the ConversationHistory layer.
func (r *Recorder) RecordItems(items []agent.ResponseItem) {
	if len(items) == 0 {
		return
	}
	select {
	case r.ch <- writeRequest{items: items}:
	default:
		r.log.Warn().Msg("rollout: writer queue full, dropping a batch of items")
	}
}

// RecordState enqueues a state snapshot line.
func (r *Recorder) RecordState(state json.RawMessage) {
	r.ch <- writeRequest{state: state}
}

// Shutdown flushes the writer task via an ack channel and implements
// agent.RolloutRecorder.
func (r *Recorder) Shutdown() error {
	done := make(chan struct{})
	r.ack <- done
	<-done
	return nil
}

// SavedSession is what Resume reconstructs from an existing rollout file.
type SavedSession struct {
	SessionID string
	Meta      Meta
	Items     []agent.ResponseItem
	State     json.RawMessage
}

// Resume reads an existing rollout file, replaying the transcript filter on
// every non-state line.
func Resume(path string) (*SavedSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("rollout file %s is empty", path)
	}
	var meta Meta
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("rollout file %s: invalid meta line: %w", path, err)
	}

	saved := &SavedSession{SessionID: meta.ID, Meta: meta}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var probe struct {
			RecordType string `json:"record_type"`
		}
		if err := json.Unmarshal(line, &probe); err == nil && probe.RecordType == "state" {
			var sl stateLine
			if err := json.Unmarshal(line, &sl); err == nil {
				saved.State = sl.State
			}
			continue
		}
		var item agent.ResponseItem
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		saved.Items = append(saved.Items, item)
	}
	var hist agent.ConversationHistory
	hist.Record(saved.Items)
	saved.Items = hist.Contents()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return saved, nil
}

// gitInfo collects the commit hash, branch, and remote origin URL for cwd,
// returning empty strings for anything that fails (not a git repo, no
// origin remote, etc).
func gitInfo(cwd string) (commit, branch, remoteURL string) {
	run := func(args ...string) string {
		cmd := exec.Command("git", append([]string{"-C", cwd}, args...)...)
		out, err := cmd.Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}
	commit = run("rev-parse", "HEAD")
	branch = run("rev-parse", "--abbrev-ref", "HEAD")
	remoteURL = run("remote", "get-url", "origin")
	return commit, branch, remoteURL
}

// PathForResume builds the canonical rollout path pattern for a given
// session id and creation time, mirroring the layout New() writes; callers
// that persist a session id alongside a creation timestamp can use this to
// locate the file again without scanning the sessions directory.
func PathForResume(home string, created time.Time, sessionID string) string {
	dir := filepath.Join(home, "sessions", created.Format("2006"), created.Format("01"), created.Format("02"))
	fname := fmt.Sprintf("rollout-%s-%s.jsonl", created.Format("2006-01-02T15-04-05"), sessionID)
	return filepath.Join(dir, fname)
}
