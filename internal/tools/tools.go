// Package tools implements the spec's built-in tool registry and
// executors: fs_list, fs_read, fs_read_many_files, fs_write, search_text,
// find_file, get_file_sha256, replace_text_block, create_patch,
// apply_patch, execute_bash, get_symbol_info, and search_repomap.
//
// It generalizes a six-tool ReadFileTool/WriteFileTool/
// ListDirectoryTool/ReplaceTextTool/RunInShell/ReadManyFilesTool set to
// the full tool contract spec.md §4.D names, adding a JSON-schema
// argument-validation gate every tool passes through before its Call
// method ever runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	lctools "github.com/tmc/langchaingo/tools"

	"github.com/mopemope/doge-code/internal/sandbox"
)

// Tool extends langchaingo's tools.Tool with a declared JSON schema, so
// every built-in tool can be both validated before dispatch and listed
// in an LLM request's tool-definitions array.
type Tool interface {
	lctools.Tool
	Schema() map[string]any
}

// Registry holds the set of built-in tools available to a session,
// scoped to a single sandbox.
type Registry struct {
	sandbox *sandbox.Sandbox
	tools   map[string]Tool
	order   []string
}

// NewRegistry builds the full built-in tool set rooted at sb.
func NewRegistry(sb *sandbox.Sandbox, opts ...Option) *Registry {
	r := &Registry{sandbox: sb, tools: map[string]Tool{}}
	cfg := registryConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	for _, t := range []Tool{
		&FSListTool{sb: sb},
		&FSReadTool{sb: sb},
		&FSReadManyFilesTool{sb: sb},
		&FSWriteTool{sb: sb},
		&SearchTextTool{sb: sb},
		&FindFileTool{sb: sb},
		&GetFileSHA256Tool{sb: sb},
		&ReplaceTextBlockTool{sb: sb},
		&CreatePatchTool{sb: sb},
		&ApplyPatchTool{sb: sb},
		NewExecuteBashTool(sb, cfg.shellRunner, cfg.allowList),
	} {
		r.Register(t)
	}
	if cfg.repomap != nil {
		r.Register(&GetSymbolInfoTool{repomap: cfg.repomap})
		r.Register(&SearchRepomapTool{repomap: cfg.repomap})
	}
	return r
}

type registryConfig struct {
	shellRunner ShellRunner
	allowList   []string
	repomap     RepomapStore
}

// Option configures NewRegistry.
type Option func(*registryConfig)

// WithShellRunner overrides the default host-exec runner for execute_bash.
func WithShellRunner(r ShellRunner) Option { return func(c *registryConfig) { c.shellRunner = r } }

// WithAllowList sets the execute_bash allow list of exact, prefix, or
// start-anchored regex patterns (spec.md §4.D).
func WithAllowList(patterns []string) Option {
	return func(c *registryConfig) { c.allowList = patterns }
}

// WithRepomap wires get_symbol_info/search_repomap to a symbol index.
func WithRepomap(rm RepomapStore) Option { return func(c *registryConfig) { c.repomap = rm } }

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Dispatch validates argsJSON against the tool's declared schema, then
// calls it. This is the single choke point spec.md §3/§4.D requires:
// "arguments are validated against the tool's declared JSON schema
// before dispatch."
func (r *Registry) Dispatch(ctx context.Context, name, argsJSON string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	if err := validateArgs(t.Schema(), argsJSON); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
	}
	return t.Call(ctx, argsJSON)
}

func validateArgs(schema map[string]any, argsJSON string) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", mustJSONReader(raw)); err != nil {
		return err
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return err
	}
	var doc any
	if argsJSON == "" {
		doc = map[string]any{}
	} else if err := json.Unmarshal([]byte(argsJSON), &doc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return compiled.Validate(doc)
}
