package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CLIProvider runs a command-line assistant once per completion. Each
// argument may contain {system} and {user} placeholders.
type CLIProvider struct {
	command string
	args    []string
	output  string // "json" or "text"
	model   string
	workDir string
	procMgr *ProcessManager
}

// CLIConfig configures a CLIProvider.
type CLIConfig struct {
	Command string
	Args    []string
	Output  string
	Model   string
	WorkDir string
}

// NewCLIProvider creates a CLI provider. The ProcessManager is optional.
func NewCLIProvider(cfg CLIConfig, pm *ProcessManager) (*CLIProvider, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("cli provider: command is required")
	}
	output := cfg.Output
	if output == "" {
		output = "text"
	}
	if output != "json" && output != "text" {
		return nil, fmt.Errorf("cli provider: unknown output format %q", output)
	}
	return &CLIProvider{
		command: cfg.Command,
		args:    cfg.Args,
		output:  output,
		model:   cfg.Model,
		workDir: cfg.WorkDir,
		procMgr: pm,
	}, nil
}

// Complete runs the command and returns its parsed output.
func (p *CLIProvider) Complete(ctx context.Context, system, user string) (string, error) {
	cmd := newCommand(ctx, p.command, p.buildArgs(system, user)...)
	cmd.Dir = p.workDir

	stdout, stderr, err := executeCommand(cmd, p.procMgr)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s: %w", p.command, err)
	}

	var text string
	switch p.output {
	case "json":
		text, err = parseJSONResult(stdout)
		if err != nil {
			return "", fmt.Errorf("failed to parse %s response: %w (stderr: %s)", p.command, err, bytes.TrimSpace(stderr))
		}
	default:
		text = strings.TrimSpace(string(stdout))
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// buildArgs substitutes placeholders and appends the model flag.
func (p *CLIProvider) buildArgs(system, user string) []string {
	replacer := strings.NewReplacer("{system}", system, "{user}", user)
	args := make([]string, 0, len(p.args)+2)
	for _, a := range p.args {
		args = append(args, replacer.Replace(a))
	}
	if p.model != "" {
		args = append(args, "--model", p.model)
	}
	return args
}

// jsonResult covers both result envelopes the claude CLI has produced:
// {"result": "text"} and {"result": {"content": [{"type": "text", "text": "..."}]}}.
type jsonResult struct {
	IsError bool            `json:"is_error"`
	Result  json.RawMessage `json:"result"`
}

func parseJSONResult(data []byte) (string, error) {
	var env jsonResult
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if len(env.Result) == 0 {
		return "", fmt.Errorf("missing result field")
	}

	var text string
	if err := json.Unmarshal(env.Result, &text); err != nil {
		var structured struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(env.Result, &structured); err != nil {
			return "", fmt.Errorf("unrecognized result shape: %w", err)
		}
		var b strings.Builder
		for _, item := range structured.Content {
			if item.Type == "text" {
				b.WriteString(item.Text)
			}
		}
		text = b.String()
	}

	if env.IsError {
		return "", fmt.Errorf("assistant reported an error: %s", text)
	}
	return strings.TrimSpace(text), nil
}
