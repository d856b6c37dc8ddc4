package convo

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tmc/langchaingo/prompts"
)

//go:embed prompts/system_prompt.tmpl
var systemPromptTemplate string

// projectInstructionFiles are checked in order in the project root; the
// first one found is interpolated into the system prompt, per spec.md
// §4.F's "AGENTS.md/QWEN.md/GEMINI.md, first hit" rule.
var projectInstructionFiles = []string{"AGENTS.md", "QWEN.md", "GEMINI.md"}

// RepoInfo is the subset of git state the system prompt interpolates,
// generalized from a utils.go-style RepoInfo to drop TUI-only fields
// (worktree-quash warning text is product copy, not part of this
// interpolation).
type RepoInfo struct {
	Branch     string
	IsWorktree bool
}

// BuildSystemPrompt renders the system message for one LLM request. It is
// never persisted — spec.md §4.F requires it be synthesized fresh every
// time so date/cwd/branch always reflect the current moment.
func BuildSystemPrompt(projectRoot string, repoInfo RepoInfo) (string, error) {
	env := buildEnvBlock(projectRoot, repoInfo)
	memory := readProjectInstructions(projectRoot)

	partials := map[string]any{
		"Env":           env,
		"ReadFile":      "fs_read",
		"WriteFile":     "fs_write",
		"ReadManyFiles": "fs_read_many_files",
		"LS":            "fs_list",
		"Grep":          "search_text",
		"Glob":          "find_file",
		"Edit":          "replace_text_block",
		"Shell":         "execute_bash",
		"UserMemory":    memory,
	}

	pt := prompts.PromptTemplate{
		Template:         systemPromptTemplate,
		TemplateFormat:   prompts.TemplateFormatGoTemplate,
		InputVariables:   []string{},
		PartialVariables: partials,
	}
	out, err := pt.Format(map[string]any{})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return out, nil
}

// buildEnvBlock mirrors a sessBuildEnvBlock-style interpolation,
// extended with a date line (SPEC_FULL.md's stated addition — the
// interpolation it's based on covers OS/cwd/shell/branch but not date).
func buildEnvBlock(projectRoot string, repoInfo RepoInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b, "- **Date:** %s\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&b, "- **OS:** %s\n", runtime.GOOS)
	fmt.Fprintf(&b, "- **Project root:** %s\n", projectRoot)

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "bash"
	}
	fmt.Fprintf(&b, "- **Shell:** %s\n", shell)

	if repoInfo.Branch != "" {
		fmt.Fprintf(&b, "- **Branch:** %s\n", repoInfo.Branch)
	}
	if repoInfo.IsWorktree {
		b.WriteString("- **Note:** working copy is a git worktree.\n")
	}
	return b.String()
}

// readProjectInstructions loads the first of AGENTS.md/QWEN.md/GEMINI.md
// found directly under projectRoot.
func readProjectInstructions(projectRoot string) string {
	for _, name := range projectInstructionFiles {
		b, err := os.ReadFile(filepath.Join(projectRoot, name))
		if err == nil {
			return string(b)
		}
	}
	return ""
}
