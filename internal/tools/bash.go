package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	"github.com/mopemope/doge-code/internal/sandbox"
)

// ShellRunner executes a command string and returns its combined
// output and exit code. The default implementation (HostRunner) runs
// directly on the host via os/exec; ContainerRunner (podman.go) provides
// an optional isolated alternative.
type ShellRunner interface {
	Run(ctx context.Context, command string) (output string, exitCode int, err error)
}

// HostRunner executes commands directly via a child shell rooted at
// root, grounded on hostRun.
type HostRunner struct{ root string }

// NewHostRunner builds a ShellRunner that executes commands in root.
func NewHostRunner(root string) *HostRunner { return &HostRunner{root: root} }

func (h *HostRunner) Run(ctx context.Context, command string) (string, int, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/c", command)
	} else {
		cmd = exec.CommandContext(ctx, "bash", "-c", command)
	}
	cmd.Dir = h.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n" + stderr.String()
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return output, -1, runErr
		}
	}
	return output, exitCode, nil
}

// ExecuteBashTool implements execute_bash: runs a command in a child
// shell rooted at the project directory, subject to an allow list of
// exact, prefix, or start-anchored regex patterns (spec.md §4.D). An
// empty allow list permits
// every command, matching a default of trusting the LLM unless the
// project config restricts it.
type ExecuteBashTool struct {
	sb        *sandbox.Sandbox
	runner    ShellRunner
	allowList []string
}

// NewExecuteBashTool builds the execute_bash tool. If runner is nil, a
// HostRunner rooted at sb.ProjectRoot is used.
func NewExecuteBashTool(sb *sandbox.Sandbox, runner ShellRunner, allowList []string) *ExecuteBashTool {
	if runner == nil {
		runner = NewHostRunner(sb.ProjectRoot)
	}
	return &ExecuteBashTool{sb: sb, runner: runner, allowList: allowList}
}

type executeBashInput struct {
	Command string `json:"command"`
}

type executeBashOutput struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

func (t *ExecuteBashTool) Name() string { return "execute_bash" }
func (t *ExecuteBashTool) Description() string {
	return "Executes a command in a child shell within the project root, subject to a configured command allow list."
}
func (t *ExecuteBashTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"command": map[string]any{"type": "string"}},
		"required":   []string{"command"},
	}
}

func (t *ExecuteBashTool) Call(ctx context.Context, input string) (string, error) {
	var in executeBashInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid execute_bash input: %w", err)
	}
	if !t.allowed(in.Command) {
		return "", fmt.Errorf("command %q is not on the allow list", in.Command)
	}
	output, exitCode, err := t.runner.Run(ctx, in.Command)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(executeBashOutput{Output: output, ExitCode: exitCode})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// allowed reports whether command matches the allow list, either as an
// exact string match or as a regex-anchored command-prefix match
// (e.g. "git " matches "git status"), per spec.md §4.D. An empty list
// allows everything.
func (t *ExecuteBashTool) allowed(command string) bool {
	if len(t.allowList) == 0 {
		return true
	}
	for _, pattern := range t.allowList {
		if command == pattern || strings.HasPrefix(command, pattern) {
			return true
		}
		if re, err := regexp.Compile("^" + pattern); err == nil && re.MatchString(command) {
			return true
		}
	}
	return false
}
