package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeTOMLString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no escaping needed", input: "simple string", expected: "simple string"},
		{name: "escape quotes", input: `string with "quotes"`, expected: `string with \"quotes\"`},
		{name: "escape backslashes", input: `path\to\file`, expected: `path\\to\\file`},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeTOMLString(tt.input))
		})
	}
}

func TestDefaultConfigHasSaneDefaults(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.True(t, cfg.Session.Enabled)
	assert.Equal(t, 10, cfg.RunInShell.TimeoutMinutes)
}

func TestLoadConfigFallsBackToProviderEnvVar(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey)
}

func TestLoadConfigHonorsProjectFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", filepath.Join(dir, "home"))
	require.NoError(t, os.MkdirAll(".doge", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(".doge", "config.toml"), []byte("[llm]\nmodel = \"gpt-4o\"\n"), 0o644))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestUpdateUserLLMAuthWritesConfigWithoutPlaintextKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	require.NoError(t, UpdateUserLLMAuth("openai", "sk-secret", "gpt-4o-mini"))

	data, err := os.ReadFile(filepath.Join(dir, ".config", "doge-code", "conf.toml"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `model = "gpt-4o-mini"`)
	assert.NotContains(t, content, "sk-secret")
}
