package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/fx"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/mopemope/doge-code/internal/agent"
	"github.com/mopemope/doge-code/internal/convo"
	"github.com/mopemope/doge-code/internal/llmclient"
	"github.com/mopemope/doge-code/internal/repomap"
	"github.com/mopemope/doge-code/internal/sandbox"
	"github.com/mopemope/doge-code/internal/session"
	"github.com/mopemope/doge-code/internal/tools"
)

// LoggerResult holds the configured logger, grounded on providers.go's
// ProvideLogger, retargeted at doge-code's own log directory and this
// config's Logging.Level.
type LoggerResult struct {
	fx.Out
	Logger *slog.Logger
}

// ProvideLogger builds a slog.Logger writing text-formatted records to a
// lumberjack-rotated file under ~/.local/share/doge-code, per
// SPEC_FULL.md's ambient logging section.
func ProvideLogger(config *Config) (LoggerResult, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return LoggerResult{}, fmt.Errorf("get user home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, ".local", "share", "doge-code")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return LoggerResult{}, fmt.Errorf("create log directory %s: %w", logDir, err)
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "doge-code.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	} else if config.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return LoggerResult{Logger: logger}, nil
}

// ProvideConfig loads and returns the application configuration.
func ProvideConfig() (*Config, error) {
	config, err := LoadConfig()
	if err != nil {
		fallback := defaultConfig()
		return &fallback, nil
	}
	return config, nil
}

// ProvideRepoInfo detects the current project's git state.
func ProvideRepoInfo(logger *slog.Logger) convo.RepoInfo {
	cwd, err := os.Getwd()
	if err != nil {
		return convo.RepoInfo{}
	}
	info := detectRepoInfo(cwd)
	logger.Info("detected repository state", "branch", info.Branch, "worktree", info.IsWorktree)
	return info
}

// ProvideSandbox roots the tool sandbox at the enclosing git project
// root (falling back to the working directory outside any repo), per
// spec.md §4.A.
func ProvideSandbox() (*sandbox.Sandbox, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	cwd = findProjectRoot(cwd)
	return sandbox.New(cwd)
}

// ProvideShellRunner selects the execute_bash backend: the podman
// ContainerRunner when RunInShell.UseContainer is set, the plain
// HostRunner otherwise, mirroring a ProvideShellRunner/
// newPodmanShellRunner backend-selection pattern.
func ProvideShellRunner(config *Config, sb *sandbox.Sandbox, logger *slog.Logger) tools.ShellRunner {
	if !config.RunInShell.UseContainer {
		return tools.NewHostRunner(sb.ProjectRoot)
	}

	logger.Info("initializing container-isolated shell runner", "image", config.Container.Image)
	mounts := make([]tools.ContainerMount, 0, len(config.Container.AdditionalMounts))
	for _, m := range config.Container.AdditionalMounts {
		mounts = append(mounts, tools.ContainerMount{Source: m.Source, Destination: m.Destination})
	}
	timeout := time.Duration(config.RunInShell.TimeoutMinutes) * time.Minute
	return tools.NewContainerRunner(
		sb.ProjectRoot,
		config.Container.Image,
		config.RunInShell.AllowHostFallback,
		config.RunInShell.NoCleanup,
		mounts,
		timeout,
	)
}

// ProvideRepomap opens the project's symbol index at
// <project>/.doge/repomap.sqlite, per spec.md §4.E.
func ProvideRepomap(sb *sandbox.Sandbox, logger *slog.Logger) (*repomap.Repomap, error) {
	dbPath := filepath.Join(sb.ProjectRoot, ".doge", "repomap.sqlite")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create repomap directory: %w", err)
	}
	rm, err := repomap.Open(dbPath, sb.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("open repomap: %w", err)
	}
	logger.Info("repomap opened", "path", dbPath)
	return rm, nil
}

// ProvideToolRegistry wires the full built-in tool set, including
// execute_bash's allow list and the repomap-backed symbol tools.
func ProvideToolRegistry(sb *sandbox.Sandbox, runner tools.ShellRunner, rm *repomap.Repomap, config *Config) *tools.Registry {
	return tools.NewRegistry(sb,
		tools.WithShellRunner(runner),
		tools.WithAllowList(config.RunInShell.AllowList),
		tools.WithRepomap(rm),
	)
}

// ProvideSessionStore opens the per-project session store, per spec.md
// §3/§4.J, or nil when session persistence is disabled.
func ProvideSessionStore(config *Config, sb *sandbox.Sandbox, logger *slog.Logger) (*session.Store, error) {
	if !config.Session.Enabled {
		return nil, nil
	}
	store, err := session.NewStore(sb.ProjectRoot)
	if err != nil {
		logger.Warn("failed to open session store, continuing without persistence", "error", err)
		return nil, nil
	}
	return store, nil
}

// ProvideLLMClient builds the OpenAI-compatible chat client, per
// spec.md §4.H.
func ProvideLLMClient(config *Config) *llmclient.Client {
	return llmclient.New(llmclient.Config{
		BaseURL: config.LLM.BaseURL,
		APIKey:  config.LLM.APIKey,
	})
}

// ProvideSession creates a fresh session for this run. Resuming a
// prior session by id (rather than always starting fresh) is left to
// the interactive `/session` command set, not process startup.
func ProvideSession() *session.Session {
	return session.New("doge-code session")
}

// ProvideSessionRunner wires the session to the Agent Loop.
func ProvideSessionRunner(s *session.Session, store *session.Store, client *llmclient.Client, config *Config, reg *tools.Registry) *agent.SessionRunner {
	return agent.NewSessionRunner(s, store, client, config.LLM.Model, reg, nil)
}
