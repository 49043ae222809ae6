package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

// shutdownGrace bounds how long a cancelled invocation is given to exit
// before its process group is killed outright.
const shutdownGrace = 2 * time.Second

// CLIConfig describes how to shell out to one named AI CLI agent.
// Grounded on internal/adapters/cli.AgentConfig, trimmed to the fields the
// provider layer actually needs: no workflow phases, no reasoning-effort
// overrides, no streaming.
type CLIConfig struct {
	Name string
	// Path is the executable, optionally multi-word (e.g. "gh copilot").
	Path string
	// PromptFlag is prepended before the prompt text as a CLI arg; if empty
	// the prompt is written to stdin instead.
	PromptFlag string
	// ModelFlag, when set, is passed along with opts.Model if non-empty.
	ModelFlag string
	// WriteModeFlag is appended when opts.WriteMode is true (read-only CLIs
	// often require an explicit opt-in flag to touch the filesystem).
	WriteModeFlag string
	// ExtraArgs is appended verbatim ahead of any of the above.
	ExtraArgs []string
	Timeout   time.Duration
}

// CLIProvider invokes an external AI coding agent CLI as a subprocess.
// Grounded on internal/adapters/cli.BaseAdapter.ExecuteCommand: a single
// buffered stdout/stderr run per Invoke, classified into DomainErrors.
type CLIProvider struct {
	cfg    CLIConfig
	logger *slog.Logger
}

// NewCLIProvider constructs a provider for the given agent configuration.
func NewCLIProvider(cfg CLIConfig, logger *slog.Logger) *CLIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIProvider{cfg: cfg, logger: logger}
}

// Name returns the provider's registry key.
func (p *CLIProvider) Name() string { return p.cfg.Name }

// Invoke runs the configured CLI once with opts, returning its parsed result.
func (p *CLIProvider) Invoke(ctx context.Context, opts InvokeOptions) (*InvokeResult, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = p.cfg.Timeout
	}
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdPath := p.cfg.Path
	if cmdPath == "" {
		return nil, core.ErrValidation("NO_PATH", "cli provider path not configured")
	}
	cmdParts := strings.Fields(cmdPath)
	cmdPath = cmdParts[0]
	args := append([]string{}, cmdParts[1:]...)
	args = append(args, p.cfg.ExtraArgs...)

	prompt := opts.Prompt
	if opts.SystemPrompt != "" {
		prompt = opts.SystemPrompt + "\n\n" + opts.Prompt
	}

	stdin := ""
	if p.cfg.PromptFlag != "" {
		args = append(args, p.cfg.PromptFlag, prompt)
	} else {
		stdin = prompt
	}
	if p.cfg.ModelFlag != "" && opts.Model != "" {
		args = append(args, p.cfg.ModelFlag, opts.Model)
	}
	if p.cfg.WriteModeFlag != "" && opts.WriteMode {
		args = append(args, p.cfg.WriteModeFlag)
	}

	// #nosec G204 -- command path and args come from validated config
	cmd := exec.CommandContext(runCtx, cmdPath, args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), fmt.Sprintf("DOCREVIEW_AGENT=%s", p.cfg.Name))
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = shutdownGrace

	p.logger.Info("provider: invoking agent cli",
		"provider", p.cfg.Name, "path", cmdPath, "cwd", opts.Cwd, "write_mode", opts.WriteMode)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, core.ErrTimeout(fmt.Sprintf("%s timed out after %v", p.cfg.Name, timeout))
	}
	if ctx.Err() == context.Canceled {
		return nil, core.ErrCancelled(fmt.Sprintf("%s invocation cancelled", p.cfg.Name))
	}

	if err != nil {
		var exitErr *exec.ExitError
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		if errors.As(err, &exitErr) {
			p.logger.Error("provider: agent cli exited non-zero",
				"provider", p.cfg.Name, "exit_code", exitErr.ExitCode(), "stderr", truncate(msg, 2000))
		}
		return nil, core.ErrProvider("CLI_ERROR", fmt.Sprintf("%s failed: %s", p.cfg.Name, truncate(msg, 500)), true).WithCause(err)
	}

	result := parseInvokeResult(stdout.String())
	result.DurationMs = duration.Milliseconds()
	return result, nil
}

// parseInvokeResult extracts a result/usage/cost shape from an agent CLI's
// stdout. Most agent CLIs emit either plain text or a single trailing JSON
// object; this handles both, preferring the JSON object when present, in the
// same spirit as internal/adapters/cli.extractTextFromJSONLine.
func parseInvokeResult(stdout string) *InvokeResult {
	result := &InvokeResult{ResultText: strings.TrimSpace(stdout)}

	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var payload struct {
			Result  string  `json:"result"`
			Text    string  `json:"text"`
			CostUSD float64 `json:"cost_usd"`
			Usage   struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
				CacheCreate  int `json:"cache_creation_input_tokens"`
				CacheRead    int `json:"cache_read_input_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}
		if payload.Result != "" {
			result.ResultText = payload.Result
		} else if payload.Text != "" {
			result.ResultText = payload.Text
		}
		result.CostUSD = payload.CostUSD
		result.Usage = TokenUsage{
			Input:       payload.Usage.InputTokens,
			Output:      payload.Usage.OutputTokens,
			CacheCreate: payload.Usage.CacheCreate,
			CacheRead:   payload.Usage.CacheRead,
		}
		break
	}
	return result
}
