package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// inputHistoryFile is the fixed filename under the project root's .doge
// directory for the capped prompt-input ring spec.md §6 names.
const inputHistoryFile = ".doge/input_history.json"

// maxInputHistoryEntries bounds input_history.json, matching a
// PromptHistory/CommandHistory-style MaxSessions cap (there backed by
// a SQLite row-count limit; here a plain capped JSON ring since spec.md
// §6 specifies a single flat file, not a database).
const maxInputHistoryEntries = 1000

// InputHistoryEntry is one recorded user input line.
type InputHistoryEntry struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// InputHistory is a capped, append-only ring of past user inputs
// persisted as a single JSON file, independent of any one session so it
// survives across sessions in the same project.
type InputHistory struct {
	path    string
	entries []InputHistoryEntry
}

// OpenInputHistory loads (or initializes) the input history file under
// projectRoot.
func OpenInputHistory(projectRoot string) (*InputHistory, error) {
	path := filepath.Join(projectRoot, inputHistoryFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create .doge directory: %w", err)
	}

	h := &InputHistory{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return nil, fmt.Errorf("read input history: %w", err)
	}
	if err := json.Unmarshal(data, &h.entries); err != nil {
		return nil, fmt.Errorf("decode input history: %w", err)
	}
	return h, nil
}

// Entries returns a copy of the stored entries, oldest first.
func (h *InputHistory) Entries() []InputHistoryEntry {
	out := make([]InputHistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Append adds text to the ring, evicting the oldest entry once
// maxInputHistoryEntries is exceeded, and persists the result.
func (h *InputHistory) Append(text string) error {
	h.entries = append(h.entries, InputHistoryEntry{Text: text, At: time.Now()})
	if len(h.entries) > maxInputHistoryEntries {
		h.entries = h.entries[len(h.entries)-maxInputHistoryEntries:]
	}
	return h.save()
}

// Clear empties the history and persists the change.
func (h *InputHistory) Clear() error {
	h.entries = nil
	return h.save()
}

func (h *InputHistory) save() error {
	data, err := json.MarshalIndent(h.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal input history: %w", err)
	}

	dir := filepath.Dir(h.path)
	tmp, err := os.CreateTemp(dir, "input_history.*.tmp")
	if err != nil {
		return fmt.Errorf("create temp input history file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp input history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, h.path)
}
