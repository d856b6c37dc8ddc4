package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Symbol mirrors the shape of a repomap symbol record that tools need to
// render; kept separate from the repomap package's own SymbolRecord so
// this package has no hard dependency on repomap's storage internals.
type Symbol struct {
	Name      string
	Kind      string
	FilePath  string
	StartLine int
	EndLine   int
	Signature string
}

// RepomapStore is the read surface get_symbol_info/search_repomap need;
// internal/repomap.Repomap implements it.
type RepomapStore interface {
	GetSymbol(ctx context.Context, name string) ([]Symbol, error)
	Search(ctx context.Context, query string, limit int) ([]Symbol, error)
}

// GetSymbolInfoTool implements get_symbol_info.
type GetSymbolInfoTool struct{ repomap RepomapStore }

type getSymbolInfoInput struct {
	Name string `json:"name"`
}

func (t *GetSymbolInfoTool) Name() string { return "get_symbol_info" }
func (t *GetSymbolInfoTool) Description() string {
	return "Looks up declaration sites for a named symbol in the repomap index."
}
func (t *GetSymbolInfoTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []string{"name"},
	}
}

func (t *GetSymbolInfoTool) Call(ctx context.Context, input string) (string, error) {
	var in getSymbolInfoInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid get_symbol_info input: %w", err)
	}
	syms, err := t.repomap.GetSymbol(ctx, in.Name)
	if err != nil {
		return "", err
	}
	return formatSymbols(syms), nil
}

// SearchRepomapTool implements search_repomap.
type SearchRepomapTool struct{ repomap RepomapStore }

type searchRepomapInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (t *SearchRepomapTool) Name() string { return "search_repomap" }
func (t *SearchRepomapTool) Description() string {
	return "Full-text searches symbol names and signatures in the repomap index."
}
func (t *SearchRepomapTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer"},
		},
		"required": []string{"query"},
	}
}

func (t *SearchRepomapTool) Call(ctx context.Context, input string) (string, error) {
	var in searchRepomapInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid search_repomap input: %w", err)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	syms, err := t.repomap.Search(ctx, in.Query, limit)
	if err != nil {
		return "", err
	}
	return formatSymbols(syms), nil
}

func formatSymbols(syms []Symbol) string {
	if len(syms) == 0 {
		return "no matching symbols"
	}
	var b strings.Builder
	for _, s := range syms {
		fmt.Fprintf(&b, "%s %s  %s:%d-%d  %s\n", s.Kind, s.Name, s.FilePath, s.StartLine, s.EndLine, s.Signature)
	}
	return b.String()
}
