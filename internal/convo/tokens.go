package convo

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the BPE encoding used to estimate token counts for
// context-budget purposes; spec.md's threshold math only needs a stable,
// consistent estimate, not provider-exact counts, so one fixed encoding
// is used for every provider.
const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// CountTokens estimates the token count of s. If the encoder cannot be
// loaded (e.g. no network access to fetch the BPE ranks on first use) it
// falls back to a conservative chars/4 estimate so token accounting keeps
// functioning in offline environments so token counters stay available
// even without a live LLM connection.
func CountTokens(s string) int {
	e, err := encoding()
	if err != nil {
		return (len(s) + 3) / 4
	}
	return len(e.Encode(s, nil, nil))
}

// ContextUsage is a per-component token breakdown
// (systemPromptTokens/systemToolsTokens/memoryFilesTokens/messagesTokens)
// collapsed into the fields spec.md's accounting actually needs.
type ContextUsage struct {
	SystemPromptTokens int
	ToolSchemaTokens   int
	HistoryTokens      int
	TotalTokens        int
	ContextWindow      int
}

// Percent returns the percentage (0-100) of ContextWindow already used, 0
// if the window is unset.
func (u ContextUsage) Percent() float64 {
	if u.ContextWindow <= 0 {
		return 0
	}
	return float64(u.TotalTokens) / float64(u.ContextWindow) * 100
}

// MeasureUsage estimates ContextUsage for one request: systemPrompt is the
// rendered system message, toolSchemas is the concatenated tool
// name+description+schema text sent to the model, and history is the
// ordered message log about to be sent.
func MeasureUsage(systemPrompt, toolSchemas string, history []Message, contextWindow int) ContextUsage {
	var historyTokens int
	for _, m := range history {
		historyTokens += CountTokens(m.Content)
		for _, tc := range m.ToolCalls {
			historyTokens += CountTokens(tc.Name) + CountTokens(tc.Arguments)
		}
	}
	sysTokens := CountTokens(systemPrompt)
	toolTokens := CountTokens(toolSchemas)
	return ContextUsage{
		SystemPromptTokens: sysTokens,
		ToolSchemaTokens:   toolTokens,
		HistoryTokens:      historyTokens,
		TotalTokens:        sysTokens + toolTokens + historyTokens,
		ContextWindow:      contextWindow,
	}
}
