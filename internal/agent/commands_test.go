package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/mopemope/doge-code/internal/convo"
	"github.com/mopemope/doge-code/internal/llmclient"
	"github.com/mopemope/doge-code/internal/session"
)

func newTestRunner(t *testing.T, handler http.HandlerFunc) *SessionRunner {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := llmclient.New(llmclient.Config{BaseURL: srv.URL, BackoffBase: time.Millisecond})
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	s := session.New("test")
	return NewSessionRunner(s, store, client, "gpt-4", newTestRegistry(t), nil)
}

func TestDispatchIgnoresPlainInput(t *testing.T) {
	r := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {})
	res, err := Dispatch(context.Background(), r, nil, "not a command")
	require.NoError(t, err)
	require.False(t, res.Handled)
}

func TestDispatchUnknownCommandErrors(t *testing.T) {
	r := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {})
	_, err := Dispatch(context.Background(), r, nil, "/nope")
	require.Error(t, err)
}

func TestDispatchSessionCommand(t *testing.T) {
	r := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {})
	res, err := Dispatch(context.Background(), r, nil, "/session")
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Contains(t, res.Text, r.Session.ID)
}

func TestDispatchCompactCommand(t *testing.T) {
	r := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "<state_snapshot>summary</state_snapshot>"}}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
	r.Session.AppendMessage(convo.Message{Role: convo.RoleUser, Content: "a long conversation"})

	res, err := Dispatch(context.Background(), r, nil, "/compact")
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Contains(t, res.Text, "state_snapshot")
}

func TestDispatchCancelCommand(t *testing.T) {
	r := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {})
	res, err := Dispatch(context.Background(), r, nil, "/cancel")
	require.NoError(t, err)
	require.True(t, res.Handled)
}

func TestDispatchExportCommand(t *testing.T) {
	r := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {})
	r.Session.AppendMessage(convo.Message{Role: convo.RoleUser, Content: "hello"})
	res, err := Dispatch(context.Background(), r, nil, "/export")
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Contains(t, res.Text, "exported to")
}

func TestDispatchTokensCommand(t *testing.T) {
	r := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {})
	r.Session.AppendMessage(convo.Message{Role: convo.RoleUser, Content: "hello world"})
	res, err := Dispatch(context.Background(), r, nil, "/tokens")
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Contains(t, res.Text, "tokens")
}
