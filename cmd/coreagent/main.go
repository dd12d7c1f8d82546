// Command coreagent is the minimal headless front-end for the core agent
// runtime: it parses flags, loads config and credentials, wires every
// session dependency, submits a single user turn, and prints the resulting
// events to stdout. A real front-end (TUI, editor plugin) would replace
// this loop with its own submission/event transport; that transport is
// explicitly out of scope here.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreagent/runtime/internal/agent"
	"github.com/coreagent/runtime/internal/config"
	"github.com/coreagent/runtime/internal/difftracker"
	"github.com/coreagent/runtime/internal/envpolicy"
	"github.com/coreagent/runtime/internal/execpty"
	"github.com/coreagent/runtime/internal/execrun"
	"github.com/coreagent/runtime/internal/history"
	"github.com/coreagent/runtime/internal/mcpbridge"
	"github.com/coreagent/runtime/internal/modelclient"
	"github.com/coreagent/runtime/internal/rollout"
	"github.com/coreagent/runtime/internal/sandbox"
	"github.com/coreagent/runtime/internal/tooldispatch"
	"github.com/coreagent/runtime/internal/toolset"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	flagConfig := flag.String("config", "", "path to config.toml (default: <home>/config.toml or ./config.toml)")
	flagProvider := flag.String("provider", "", "provider to use (default: config default_provider)")
	flagPrompt := flag.String("prompt", "", "initial user message (default: read from stdin)")
	flag.Parse()

	cfg, err := config.Load(resolveConfigPath(*flagConfig))
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	providerName, providerCfg := resolveProvider(cfg, *flagProvider)

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Printf("Warning: failed to get working directory: %v\n", err)
		cwd = "."
	}

	tc := buildTurnContext(providerName, providerCfg, cfg, cwd)

	modelClient, err := buildModelClient(providerCfg, creds.GetAPIKey(providerName))
	if err != nil {
		fmt.Printf("Error constructing model client: %v\n", err)
		os.Exit(1)
	}

	sessionLog := log.With().Str("component", "session").Logger()

	sess := agent.NewSession("", 64, tc)
	sess.WireModelClient(modelClient)
	sess.WireShell("/bin/bash")

	diffs := difftracker.New(cwd)
	sess.WireDiffTracker(diffs)

	ptyManager := execpty.NewManager(log.With().Str("component", "execpty").Logger())
	sess.WirePTYManager(ptyManager)

	runner := execrun.NewRunner(cfg.Sandbox.LinuxHelperPath, buildShellEnv(cfg), log.With().Str("component", "execrun").Logger())
	runner.WireOutputDelta(sess.EmitExecCommandOutputDelta)

	mcp := mcpbridge.NewManager(log.With().Str("component", "mcpbridge").Logger())
	mcp.Start(context.Background(), cfg.MCPServers)
	for _, failure := range mcp.StartupFailures() {
		log.Warn().Str("component", "mcpbridge").Msg(failure)
	}
	defer mcp.Close()
	sess.WireMcp(mcp)

	dispatcher := &tooldispatch.Dispatcher{
		Runner:   runner,
		Patcher:  runner,
		PTY:      ptyManager,
		External: mcp,
		Diffs:    diffs,
		Platform: sandbox.PlatformBackend(cfg.Sandbox.LinuxHelperPath),
	}
	sess.WireDispatcher(dispatcher)

	if len(cfg.Notifier) > 0 {
		sess.WireNotifier(cfg.Notifier)
	}

	if rec, err := rollout.New(sess.ID, tc.BaseInstructions, cwd, log.With().Str("component", "rollout").Logger()); err != nil {
		log.Warn().Err(err).Msg("rollout recorder unavailable")
	} else {
		sess.WireRollout(rec)
	}

	if home, err := config.EnsureHome(); err == nil {
		if hlog, err := history.Open(filepath.Join(home, "history.jsonl")); err == nil {
			sess.WireHistoryLog(historyLogAdapter{hlog})
		} else {
			log.Warn().Err(err).Msg("message history unavailable")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sess.Run(ctx)

	prompt := *flagPrompt
	if prompt == "" {
		prompt = readPromptFromStdin()
	}
	if prompt == "" {
		fmt.Println("Error: no prompt supplied (use -prompt or pipe text on stdin)")
		os.Exit(1)
	}

	sessionLog.Info().Str("provider", providerName).Msg("starting turn")

	sess.Inbox() <- agent.Submission{
		ID: "turn-1",
		Op: agent.OpUserInput{Items: []agent.InputItem{{Text: prompt}}},
	}

	runEventLoop(sess)
}

func runEventLoop(sess *agent.Session) {
	for ev := range sess.Events() {
		switch ev.Msg.Kind {
		case agent.EvAgentMessageDelta:
			fmt.Print(ev.Msg.Text)
		case agent.EvAgentMessage:
			// already streamed via AgentMessageDelta; nothing further to print.
		case agent.EvExecCommandBegin:
			fmt.Printf("\n$ %s\n", strings.Join(ev.Msg.Command, " "))
		case agent.EvExecCommandEnd:
			fmt.Print(ev.Msg.Formatted)
		case agent.EvError:
			fmt.Printf("\nError: %s\n", ev.Msg.Message)
			shutdown(sess)
			return
		case agent.EvTaskComplete:
			fmt.Println()
			shutdown(sess)
			return
		}
	}
}

func shutdown(sess *agent.Session) {
	sess.Inbox() <- agent.Submission{ID: "shutdown", Op: agent.OpShutdown{}}
	for ev := range sess.Events() {
		if ev.Msg.Kind == agent.EvShutdownComplete {
			return
		}
	}
}

func readPromptFromStdin() string {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return ""
	}
	reader := bufio.NewReader(os.Stdin)
	var b strings.Builder
	if _, err := io.Copy(&b, reader); err != nil {
		return ""
	}
	return strings.TrimSpace(b.String())
}

func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	configPath := filepath.Join(".", "config.toml")
	if home, err := config.Home(); err == nil {
		homePath := filepath.Join(home, "config.toml")
		if _, err := os.Stat(homePath); err == nil {
			configPath = homePath
		}
	}
	return configPath
}

func resolveProvider(cfg *config.Config, flagProvider string) (string, config.ProviderConfig) {
	name := flagProvider
	if name == "" {
		name = cfg.DefaultProvider
	}
	if name == "" {
		for n := range cfg.Providers {
			name = n
			break
		}
	}
	pcfg, ok := cfg.Providers[name]
	if !ok {
		fmt.Printf("Error: provider %q not found\n", name)
		os.Exit(1)
	}
	return name, pcfg
}

func buildTurnContext(providerName string, providerCfg config.ProviderConfig, cfg *config.Config, cwd string) agent.TurnContext {
	tools := toolset.FamilyDefaults(providerCfg.Model)
	tools.PlanToolEnabled = true
	tools.WebSearchEnabled = true
	tools.ViewImageEnabled = true

	approval := approvalFromPolicy(cfg.Approval.Policy)
	tools.EscalatedPermissionsSupported = approval == agent.OnRequest

	return agent.TurnContext{
		ModelSlug:   providerCfg.Model,
		ModelFamily: providerCfg.Model,
		Provider:    providerName,
		WireForm:    providerCfg.WireForm,
		Cwd:         cwd,
		Approval:    approval,
		Sandbox:     sandboxPolicyFromConfig(cfg.Sandbox),
		ShellEnv:    buildShellEnv(cfg),
		Tools:       tools,
	}
}

func approvalFromPolicy(policy string) agent.AskForApproval {
	switch policy {
	case "on-failure":
		return agent.OnFailure
	case "on-request":
		return agent.OnRequest
	case "never":
		return agent.Never
	default:
		return agent.UnlessTrusted
	}
}

func sandboxPolicyFromConfig(sc config.SandboxConfig) agent.SandboxPolicy {
	policy := agent.SandboxPolicy{
		WritableRoots:       sc.WritableRoots,
		NetworkAccess:       sc.NetworkAccess,
		ExcludeTmpdirEnvVar: sc.ExcludeTmpdirEnvVar,
		ExcludeSlashTmp:     sc.ExcludeSlashTmp,
	}
	switch sc.Mode {
	case "read-only":
		policy.Kind = sandbox.ReadOnly
	case "danger-full-access":
		policy.Kind = sandbox.DangerFullAccess
	default:
		policy.Kind = sandbox.WorkspaceWrite
	}
	return policy
}

func buildShellEnv(cfg *config.Config) envpolicy.Policy {
	return envpolicy.Policy{Inherit: envpolicy.InheritCore}
}

func buildModelClient(providerCfg config.ProviderConfig, apiKey string) (modelclient.Client, error) {
	idleTimeout := time.Duration(providerCfg.StreamIdleTimeoutSeconds) * time.Second

	switch providerCfg.WireForm {
	case "chat":
		return &modelclient.ChatClient{
			Endpoint:          providerCfg.Endpoint,
			APIKey:            apiKey,
			Model:             providerCfg.Model,
			RequestMaxRetries: providerCfg.RequestMaxRetries,
			StreamMaxRetries:  providerCfg.StreamMaxRetries,
			IdleTimeout:       idleTimeout,
		}, nil
	case "responses":
		return &modelclient.ResponsesClient{
			Endpoint:          providerCfg.Endpoint,
			APIKey:            apiKey,
			Model:             providerCfg.Model,
			RequestMaxRetries: providerCfg.RequestMaxRetries,
			StreamMaxRetries:  providerCfg.StreamMaxRetries,
			IdleTimeout:       idleTimeout,
		}, nil
	default:
		return nil, fmt.Errorf("unrecognized wire_form %q", providerCfg.WireForm)
	}
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	home, err := config.EnsureHome()
	if err != nil {
		return err
	}

	logDir := filepath.Join(home, "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "coreagent.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}

// historyLogAdapter bridges *history.Log's Entry type to agent.HistoryLog's
// HistoryEntry: the two are distinct named types with the same fields, since
// the agent package does not import internal/history.
type historyLogAdapter struct {
	log *history.Log
}

func (h historyLogAdapter) Append(entry agent.HistoryEntry) (int, uint64, error) {
	return h.log.Append(history.Entry{SessionID: entry.SessionID, Timestamp: entry.Timestamp, Text: entry.Text})
}

func (h historyLogAdapter) Lookup(logID uint64, offset int) (*agent.HistoryEntry, error) {
	entry, err := h.log.Lookup(logID, offset)
	if err != nil || entry == nil {
		return nil, err
	}
	return &agent.HistoryEntry{SessionID: entry.SessionID, Timestamp: entry.Timestamp, Text: entry.Text}, nil
}
