package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mopemope/doge-code/internal/convo"
)

func TestExportMarkdownIncludesToolCallAndResult(t *testing.T) {
	s := New("export test")
	s.AppendMessage(convo.Message{Role: convo.RoleUser, Content: "list the files"})
	s.AppendMessage(convo.Message{
		Role: convo.RoleAssistant,
		ToolCalls: []convo.ToolCall{
			{ID: "call_1", Name: "fs_list", Arguments: `{"path":"."}`},
		},
	})
	s.AppendMessage(convo.Message{Role: convo.RoleTool, ToolCallID: "call_1", Content: "a.go\nb.go"})
	s.AppendMessage(convo.Message{Role: convo.RoleAssistant, Content: "found two files"})

	path, err := ExportMarkdown(s, ExportFull)
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	require.Contains(t, out, "list the files")
	require.Contains(t, out, "fs_list")
	require.Contains(t, out, "a.go")
	require.Contains(t, out, "found two files")
}

func TestExportMarkdownConversationModeTruncatesLongOutput(t *testing.T) {
	s := New("export test")
	s.AppendMessage(convo.Message{Role: convo.RoleUser, Content: "run it"})
	s.AppendMessage(convo.Message{
		Role:      convo.RoleAssistant,
		ToolCalls: []convo.ToolCall{{ID: "call_1", Name: "execute_bash", Arguments: `{"command":"echo hi"}`}},
	})
	longOutput := make([]byte, 200)
	for i := range longOutput {
		longOutput[i] = 'x'
	}
	s.AppendMessage(convo.Message{Role: convo.RoleTool, ToolCallID: "call_1", Content: string(longOutput)})

	path, err := ExportMarkdown(s, ExportConversation)
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "200 characters")
}

func TestExportMarkdownRejectsNilSession(t *testing.T) {
	_, err := ExportMarkdown(nil, ExportFull)
	require.Error(t, err)
}
