package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	koanftoml "github.com/knadh/koanf/parsers/toml/v2"
	koanfenv "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

// Config is the application's layered configuration, grounded on
// config.go's Config struct but trimmed to the ambient/domain
// concerns SPEC_FULL.md actually wires: no OAuth fields, no
// database_path (sessions are JSON files under internal/session, not
// SQLite), no UI section (the TUI is out of scope).
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	LLM        LLMConfig        `koanf:"llm"`
	Session    SessionConfig    `koanf:"session"`
	Container  ContainerConfig  `koanf:"container"`
	RunInShell RunInShellConfig `koanf:"run_in_shell"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LLMConfig holds LLM client configuration (spec.md §4.H/§6).
type LLMConfig struct {
	Provider                   string `koanf:"provider"`
	Model                      string `koanf:"model"`
	APIKey                     string `koanf:"api_key"`
	BaseURL                    string `koanf:"base_url"`
	MaxThinkingTokens          int    `koanf:"max_thinking_tokens"`
	MaxTurns                   int    `koanf:"max_turns"`
	DisableContextSanitization bool   `koanf:"disable_sanitization"`
}

// SessionConfig holds session persistence configuration (spec.md §3/§4.J).
type SessionConfig struct {
	Enabled      bool `koanf:"enabled"`
	MaxSessions  int  `koanf:"max_sessions"`
	MaxAgeDays   int  `koanf:"max_age_days"`
	ListLimit    int  `koanf:"list_limit"`
	AutoSave     bool `koanf:"auto_save"`
	SaveInterval int  `koanf:"save_interval"`
}

// ContainerMount represents a mount point for the execute_bash
// container-isolated backend (internal/tools.ContainerRunner).
type ContainerMount struct {
	Source      string `koanf:"source"`
	Destination string `koanf:"destination"`
}

// ContainerConfig holds container-isolated execute_bash configuration.
type ContainerConfig struct {
	Image            string           `koanf:"image"`
	AdditionalMounts []ContainerMount `koanf:"additional_mounts"`
}

// RunInShellConfig holds configuration for the execute_bash tool.
type RunInShellConfig struct {
	// AllowList is a list of command patterns execute_bash permits
	// without further approval: a command is allowed when it equals a
	// pattern, starts with it, or matches it as a start-anchored regular
	// expression (spec.md §4.D).
	AllowList []string `koanf:"allow_list"`
	// TimeoutMinutes is the per-command timeout (default: 10).
	TimeoutMinutes int `koanf:"timeout_minutes"`
	// UseContainer selects the podman-backed ContainerRunner over the
	// plain host runner.
	UseContainer      bool `koanf:"use_container"`
	AllowHostFallback bool `koanf:"allow_host_fallback"`
	NoCleanup         bool `koanf:"no_cleanup"`
}

// defaultConfig returns the configuration populated with sensible defaults.
func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Session: SessionConfig{
			Enabled:      true,
			MaxSessions:  50,
			MaxAgeDays:   30,
			ListLimit:    0,
			AutoSave:     true,
			SaveInterval: 300,
		},
		RunInShell: RunInShellConfig{
			AllowList:      []string{`^git\s.*`, `^gh\s.*`},
			TimeoutMinutes: 10,
		},
	}
}

// LoadConfig loads configuration from multiple sources, layered per
// spec.md §6: user config, then project config, then DOGE_-prefixed
// env vars, then provider-specific API-key env var fallback.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Printf("failed to get user home directory: %v", err)
	} else {
		userConfigPath := filepath.Join(homeDir, ".config", "doge-code", "conf.toml")
		if err := k.Load(file.Provider(userConfigPath), koanftoml.Parser()); err != nil {
			log.Printf("failed to load user config from %s: %v", userConfigPath, err)
		}
	}

	projectConfigPath := filepath.Join(".doge", "config.toml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := k.Load(file.Provider(projectConfigPath), koanftoml.Parser()); err != nil {
			log.Printf("failed to load project config from %s: %v", projectConfigPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("unable to stat project config at %s: %v", projectConfigPath, err)
	}

	// DOGE_-prefixed environment variables override config values, e.g.
	// DOGE_LLM_MODEL becomes "llm.model".
	if err := k.Load(koanfenv.Provider(".", koanfenv.Opt{
		Prefix: "DOGE_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, "DOGE_")), "_", ".")
			return key, value
		},
	}), nil); err != nil {
		log.Printf("failed to load environment variables: %v", err)
	}

	config := defaultConfig()
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.LLM.APIKey == "" {
		switch config.LLM.Provider {
		case "openai":
			config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			config.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if config.LLM.APIKey == "" {
		if stored, err := GetAPIKeyFromKeyring(config.LLM.Provider); err == nil && stored != "" {
			config.LLM.APIKey = stored
		}
	}

	if !k.Exists("session.enabled") {
		config.Session.Enabled = true
	}

	return &config, nil
}

// SaveConfig saves the current config to the project-level config file.
func SaveConfig(config *Config) error {
	projectDir := ".doge"
	projectConfigPath := filepath.Join(projectDir, "config.toml")

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", projectDir, err)
	}

	k := koanf.New(".")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := k.Load(file.Provider(projectConfigPath), koanftoml.Parser()); err != nil {
			return fmt.Errorf("failed to load existing project config: %w", err)
		}
	}

	if err := k.Set("llm.model", config.LLM.Model); err != nil {
		return fmt.Errorf("failed to update model in config: %w", err)
	}
	if err := k.Set("llm.provider", config.LLM.Provider); err != nil {
		return fmt.Errorf("failed to update provider in config: %w", err)
	}

	data, err := k.Marshal(koanftoml.Parser())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(projectConfigPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// UpdateUserLLMAuth updates or creates the user config file with the
// given provider/model, storing the API key in the OS keyring rather
// than in plaintext (the OAuth-token counterpart this is adapted from,
// UpdateUserOAuthTokens, is dropped along with it — see keyring.go and
// DESIGN.md).
func UpdateUserLLMAuth(provider, apiKey, model string) error {
	if err := SaveAPIKeyToKeyring(provider, apiKey); err != nil {
		log.Printf("warning: failed to save API key to keyring, falling back to file storage: %v", err)
		return updateAPIKeyInFile(provider, apiKey, model)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home dir: %w", err)
	}
	cfgDir := filepath.Join(homeDir, ".config", "doge-code")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	cfgPath := filepath.Join(cfgDir, "conf.toml")

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		content := "[llm]\n" +
			fmt.Sprintf("provider = \"%s\"\n", provider) +
			fmt.Sprintf("model = \"%s\"\n", model) +
			"auth_method = \"apikey_keyring\"\n"
		return os.WriteFile(cfgPath, []byte(content), 0o600)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read user config: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	llmStart, llmEnd := findLLMSection(lines)

	setKey := func(key, value string) {
		lines, llmEnd = setTOMLKey(lines, llmStart, llmEnd, key, value)
	}

	if llmStart == -1 {
		var b strings.Builder
		b.WriteString(string(data))
		if len(lines) > 0 && lines[len(lines)-1] != "" {
			b.WriteString("\n")
		}
		b.WriteString("[llm]\n")
		b.WriteString(fmt.Sprintf("provider = \"%s\"\n", provider))
		b.WriteString(fmt.Sprintf("model = \"%s\"\n", model))
		b.WriteString("auth_method = \"apikey_keyring\"\n")
		return os.WriteFile(cfgPath, []byte(b.String()), 0o600)
	}

	setKey("provider", provider)
	setKey("model", model)
	setKey("auth_method", "apikey_keyring")
	lines, llmEnd = removeTOMLKey(lines, llmStart, llmEnd, "api_key")

	return os.WriteFile(cfgPath, []byte(strings.Join(lines, "\n")), 0o600)
}

// updateAPIKeyInFile is the fallback path when the OS keyring is
// unavailable: it stores the API key in plaintext in the user config.
func updateAPIKeyInFile(provider, apiKey, model string) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home dir: %w", err)
	}
	cfgDir := filepath.Join(homeDir, ".config", "doge-code")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	cfgPath := filepath.Join(cfgDir, "conf.toml")

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		content := "[llm]\n" +
			fmt.Sprintf("provider = \"%s\"\n", provider) +
			fmt.Sprintf("model = \"%s\"\n", model) +
			fmt.Sprintf("api_key = \"%s\"\n", escapeTOMLString(apiKey)) +
			"auth_method = \"apikey_file\"\n"
		return os.WriteFile(cfgPath, []byte(content), 0o600)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read user config: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	llmStart, llmEnd := findLLMSection(lines)

	setKey := func(key, value string) {
		lines, llmEnd = setTOMLKey(lines, llmStart, llmEnd, key, value)
	}

	if llmStart == -1 {
		var b strings.Builder
		b.WriteString(string(data))
		if len(lines) > 0 && lines[len(lines)-1] != "" {
			b.WriteString("\n")
		}
		b.WriteString("[llm]\n")
		b.WriteString(fmt.Sprintf("provider = \"%s\"\n", provider))
		b.WriteString(fmt.Sprintf("model = \"%s\"\n", model))
		b.WriteString(fmt.Sprintf("api_key = \"%s\"\n", escapeTOMLString(apiKey)))
		b.WriteString("auth_method = \"apikey_file\"\n")
		return os.WriteFile(cfgPath, []byte(b.String()), 0o600)
	}

	setKey("provider", provider)
	setKey("model", model)
	setKey("api_key", apiKey)
	setKey("auth_method", "apikey_file")

	return os.WriteFile(cfgPath, []byte(strings.Join(lines, "\n")), 0o600)
}

// findLLMSection locates the [llm] table's line range within lines,
// returning (-1, len(lines)) when absent.
func findLLMSection(lines []string) (start, end int) {
	start, end = -1, len(lines)
	for i, line := range lines {
		if strings.TrimSpace(line) != "[llm]" {
			continue
		}
		start = i
		for j := i + 1; j < len(lines); j++ {
			t := strings.TrimSpace(lines[j])
			if strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") {
				end = j
				break
			}
		}
		break
	}
	return start, end
}

// setTOMLKey sets key=value within the [llm] section spanning
// [llmStart, llmEnd), inserting it if absent, and returns the updated
// lines and new end offset.
func setTOMLKey(lines []string, llmStart, llmEnd int, key, value string) ([]string, int) {
	if llmStart == -1 {
		return lines, llmEnd
	}
	quoted := fmt.Sprintf("%s = \"%s\"", key, escapeTOMLString(value))
	for i := llmStart + 1; i < llmEnd; i++ {
		t := strings.TrimSpace(lines[i])
		if strings.HasPrefix(t, key+" ") || strings.HasPrefix(t, key+"=") {
			indent := lines[i][:len(lines[i])-len(strings.TrimLeft(lines[i], " \t"))]
			lines[i] = indent + quoted
			return lines, llmEnd
		}
	}
	insertAt := llmEnd
	newLines := append([]string{}, lines[:insertAt]...)
	newLines = append(newLines, quoted)
	newLines = append(newLines, lines[insertAt:]...)
	return newLines, llmEnd + 1
}

// removeTOMLKey removes key from the [llm] section, if present.
func removeTOMLKey(lines []string, llmStart, llmEnd int, key string) ([]string, int) {
	for i := llmStart + 1; i < llmEnd; i++ {
		t := strings.TrimSpace(lines[i])
		if strings.HasPrefix(t, key+" ") || strings.HasPrefix(t, key+"=") {
			newLines := append([]string{}, lines[:i]...)
			newLines = append(newLines, lines[i+1:]...)
			return newLines, llmEnd - 1
		}
	}
	return lines, llmEnd
}

func escapeTOMLString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}
