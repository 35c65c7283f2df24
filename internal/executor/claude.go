package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/prompts"
)

// CommandRunner runs an external command in dir and returns its stdout
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Claude runs each leaf through the Claude Code CLI in print mode
type Claude struct {
	Binary  string
	Model   string
	Timeout time.Duration
	Prompts *prompts.Loader
	Run     CommandRunner
}

// NewClaude creates a Claude executor with the exec runner
func NewClaude(binary, model string, timeout time.Duration, loader *prompts.Loader) *Claude {
	if binary == "" {
		binary = "claude"
	}
	if loader == nil {
		loader = prompts.NewLoader()
	}
	return &Claude{Binary: binary, Model: model, Timeout: timeout, Prompts: loader, Run: ExecRunner}
}

// claudeResultMessage is the final line of a stream-json session
type claudeResultMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// leafReply is the JSON object the leaf prompts ask for
type leafReply struct {
	Summary  string `json:"summary"`
	Findings []struct {
		Message  string            `json:"message"`
		Severity string            `json:"severity"`
		Rule     string            `json:"rule"`
		Evidence []domain.Evidence `json:"evidence"`
	} `json:"findings"`
}

// Execute renders the leaf prompt, runs the CLI and parses its reply
func (c *Claude) Execute(ctx context.Context, req Request) (*Response, error) {
	sources, err := loadSources(ctx, req)
	if err != nil {
		return nil, err
	}
	prompt, err := c.Prompts.BuildLeafPrompt(leafData(req, sources))
	if err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	// a failed call still counts against the budget
	resp := &Response{Usage: Usage{LLMCalls: 1}}
	out, runErr := c.Run(ctx, req.Root, c.Binary, c.args(prompt)...)

	msg, ok := findResult(out)
	if ok {
		resp.Usage.Tokens = msg.Usage.InputTokens + msg.Usage.OutputTokens
	}
	if runErr != nil {
		return resp, fmt.Errorf("%s: %w", c.Binary, runErr)
	}
	if !ok {
		return resp, errors.New("no result message in claude output")
	}
	if msg.IsError {
		return resp, fmt.Errorf("claude reported an error: %s", truncate(msg.Result, 200))
	}

	reply, err := parseReply(msg.Result)
	if err != nil {
		// an unstructured answer is still usable content
		resp.Content = strings.TrimSpace(msg.Result)
		return resp, nil
	}
	resp.Content = strings.TrimSpace(reply.Summary)
	if req.Mode == domain.ModeReview {
		for _, f := range reply.Findings {
			resp.Findings = append(resp.Findings, domain.Finding{
				Message:  f.Message,
				Severity: domain.ParseSeverity(f.Severity),
				Rule:     f.Rule,
				Evidence: f.Evidence,
			})
		}
	}
	return resp, nil
}

func (c *Claude) args(prompt string) []string {
	args := []string{
		"--print",
		"--verbose", // required for stream-json
		"--output-format", "stream-json",
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	return append(args, "-p", prompt)
}

func leafData(req Request, sources []source) prompts.LeafData {
	data := prompts.LeafData{
		Mode:      string(req.Mode),
		Objective: req.Objective,
		Domain:    req.Domain,
	}
	paths := make([]string, 0, len(sources))
	for _, s := range sources {
		paths = append(paths, s.Path)
		content := strings.Join(s.Lines, "\n")
		switch {
		case s.Binary:
			content = "(binary file omitted)"
		case s.Truncated:
			content += "\n(truncated)"
		}
		data.Files = append(data.Files, prompts.LeafFile{Path: s.Path, Content: content})
	}
	data.Scope = strings.Join(paths, ", ")
	return data
}

// findResult scans stream-json output for the last result message
func findResult(out []byte) (claudeResultMessage, bool) {
	var found claudeResultMessage
	ok := false
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var msg claudeResultMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Type == "result" {
			found, ok = msg, true
		}
	}
	return found, ok
}

// parseReply extracts the first balanced JSON object from text. Replies
// may wrap it in prose or a markdown fence.
func parseReply(text string) (*leafReply, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var reply leafReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	return &reply, nil
}

func extractJSONObject(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, c := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if start != -1 {
				inString = true
			}
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start == -1 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("no JSON object found in output")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
