package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mopemope/doge-code/internal/convo"
)

// ExportMode controls how much tool output ExportMarkdown includes.
type ExportMode string

const (
	// ExportFull includes every tool call's complete output.
	ExportFull ExportMode = "full"
	// ExportConversation truncates tool outputs over 128 characters to a
	// character count, keeping the transcript skimmable.
	ExportConversation ExportMode = "conversation"
)

// ExportMarkdown renders s's conversation as a markdown transcript and
// writes it to a timestamped file under os.TempDir, returning the path.
// Grounded on export.go's exportSession/generateFullExportContent/
// generateConversationExportContent, adapted from langchaingo's
// llms.MessageContent/ToolCall/ToolCallResponse parts to this module's
// flat convo.Message{Role,Content,ToolCalls,ToolCallID} shape.
func ExportMarkdown(s *Session, mode ExportMode) (string, error) {
	if s == nil {
		return "", fmt.Errorf("no session to export")
	}

	var content string
	switch mode {
	case ExportFull:
		content = renderTranscript(s, true, true)
	case ExportConversation:
		content = renderTranscript(s, false, false)
	default:
		return "", fmt.Errorf("unknown export mode: %s", mode)
	}

	filename := fmt.Sprintf("doge-code-export-%s-%s-%s.md", mode, s.ID, time.Now().Format("20060102-150405"))
	path := filepath.Join(os.TempDir(), filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

func renderTranscript(s *Session, fullMode, numberMessages bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Title)
	fmt.Fprintf(&b, "- Session: %s\n- Created: %s\n- Requests: %d\n\n---\n\n",
		s.ID, s.CreatedAt.Format(time.RFC3339), s.RequestCount)

	toolResults := make(map[string]string)
	for _, m := range s.Conversation {
		if m.Role == convo.RoleTool {
			toolResults[m.ToolCallID] = m.Content
		}
	}

	num := 1
	for _, m := range s.Conversation {
		switch m.Role {
		case convo.RoleUser:
			writeHeading(&b, "User", num, numberMessages)
			b.WriteString(m.Content)
			b.WriteString("\n\n")
			num++
		case convo.RoleAssistant:
			writeHeading(&b, "Assistant", num, numberMessages)
			if m.Content != "" {
				b.WriteString(m.Content)
				b.WriteString("\n\n")
			}
			for _, tc := range m.ToolCalls {
				writeToolCall(&b, tc, toolResults[tc.ID], fullMode)
			}
			num++
		case convo.RoleTool:
			// rendered inline with its originating tool call above
		}
	}
	return b.String()
}

func writeHeading(b *strings.Builder, role string, num int, numbered bool) {
	if numbered {
		fmt.Fprintf(b, "### %s (Message %d)\n\n", role, num)
	} else {
		fmt.Fprintf(b, "### %s\n\n", role)
	}
}

func writeToolCall(b *strings.Builder, tc convo.ToolCall, result string, fullMode bool) {
	fmt.Fprintf(b, "**Tool Call:** %s\n\n**Input:**\n```json\n%s\n```\n", tc.Name, prettyJSON(tc.Arguments))
	if result != "" {
		b.WriteString("**Output:**")
		if fullMode || len(result) <= 128 {
			b.WriteString("\n```\n")
			b.WriteString(result)
			b.WriteString("\n```")
		} else {
			fmt.Fprintf(b, " %d characters", len(result))
		}
	}
	b.WriteString("\n\n")
}

func prettyJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(pretty)
}
