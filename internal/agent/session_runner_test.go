package agent

import (
	"context"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/mopemope/doge-code/internal/llmclient"
	"github.com/mopemope/doge-code/internal/session"
)

func TestSessionRunnerSubmitPersistsConversation(t *testing.T) {
	srv := sseServer(t, [][]openai.ChatCompletionStreamResponse{contentTurn("ack")})
	defer srv.Close()

	client := llmclient.New(llmclient.Config{BaseURL: srv.URL, BackoffBase: time.Millisecond})
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	s := session.New("test")

	runner := NewSessionRunner(s, store, client, "gpt-4", newTestRegistry(t), nil)
	out, err := runner.Submit(context.Background(), "sys", "hello")
	require.NoError(t, err)
	require.Equal(t, "ack", out)
	require.Equal(t, 1, s.RequestCount)

	reloaded, err := store.Load(s.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Conversation, 2)
	require.False(t, runner.Running())
}
