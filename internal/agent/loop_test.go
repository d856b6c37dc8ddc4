package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/mopemope/doge-code/internal/convo"
	"github.com/mopemope/doge-code/internal/llmclient"
	"github.com/mopemope/doge-code/internal/sandbox"
	"github.com/mopemope/doge-code/internal/tools"
)

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644))
	sb, err := sandbox.New(dir)
	require.NoError(t, err)
	return tools.NewRegistry(sb)
}

// contentTurn builds the SSE chunk sequence for a plain-text assistant
// reply, split across a couple of deltas the way a real provider streams
// one token at a time.
func contentTurn(content string) []openai.ChatCompletionStreamResponse {
	mid := len(content) / 2
	if mid == 0 {
		mid = len(content)
	}
	return []openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: content[:mid]}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: content[mid:]}, FinishReason: openai.FinishReasonStop}}},
	}
}

// toolCallTurn builds the SSE chunk sequence for a single tool call,
// fragmenting its arguments across two deltas at the given index to
// exercise the loop's by-index merge.
func toolCallTurn(index int, id, name, args string) []openai.ChatCompletionStreamResponse {
	idx := index
	mid := len(args) / 2
	return []openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &idx, ID: id, Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: name, Arguments: args[:mid]}}},
		}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{
			Delta:        openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{Index: &idx, Function: openai.FunctionCall{Arguments: args[mid:]}}}},
			FinishReason: openai.FinishReasonToolCalls,
		}}},
	}
}

// sseServer replays one scripted turn of SSE chunks per request, in
// order, terminating each with a "[DONE]" sentinel per spec.md §4.H.
func sseServer(t *testing.T, turns [][]openai.ChatCompletionStreamResponse) *httptest.Server {
	t.Helper()
	var calls int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls >= len(turns) {
			t.Fatalf("unexpected extra request #%d", calls+1)
		}
		turn := turns[calls]
		calls++

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, chunk := range turn {
			data, err := json.Marshal(chunk)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestLoopRunsToCompletionWithNoToolCalls(t *testing.T) {
	srv := sseServer(t, [][]openai.ChatCompletionStreamResponse{contentTurn("done")})
	defer srv.Close()

	client := llmclient.New(llmclient.Config{BaseURL: srv.URL, BackoffBase: time.Millisecond})
	var states []State
	loop := &Loop{
		Client: client,
		Model:  "gpt-4",
		Tools:  newTestRegistry(t),
		Notify: func(ev StatusEvent) { states = append(states, ev.State) },
	}

	hist := &convo.History{}
	hist.Append(convo.Message{Role: convo.RoleUser, Content: "say hi"})
	out, err := loop.Run(context.Background(), "be concise", hist)
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.Contains(t, states, StateSending)
	require.Contains(t, states, StateStreaming)
	require.Contains(t, states, StateInspecting)
	require.Len(t, hist.Messages, 2)
}

func TestLoopDispatchesToolCallThenResends(t *testing.T) {
	srv := sseServer(t, [][]openai.ChatCompletionStreamResponse{
		toolCallTurn(0, "call_1", "fs_list", `{"path":"."}`),
		contentTurn("found hello.txt"),
	})
	defer srv.Close()

	client := llmclient.New(llmclient.Config{BaseURL: srv.URL, BackoffBase: time.Millisecond})
	loop := &Loop{Client: client, Model: "gpt-4", Tools: newTestRegistry(t)}

	hist := &convo.History{}
	hist.Append(convo.Message{Role: convo.RoleUser, Content: "list files"})
	out, err := loop.Run(context.Background(), "sys", hist)
	require.NoError(t, err)
	require.Equal(t, "found hello.txt", out)

	// user, assistant(tool_call), tool(result), assistant(final)
	require.Len(t, hist.Messages, 4)
	require.Equal(t, convo.RoleTool, hist.Messages[2].Role)
	require.Equal(t, "call_1", hist.Messages[2].ToolCallID)
	require.Equal(t, `{"path":"."}`, hist.Messages[1].ToolCalls[0].Arguments)
}

func TestLoopDetectsRepeatedIdenticalToolCalls(t *testing.T) {
	repeated := toolCallTurn(0, "call_x", "fs_list", `{"path":"."}`)
	// Server would happily keep returning the same tool call forever; the
	// loop must detect the repetition itself before exhausting responses.
	turns := make([][]openai.ChatCompletionStreamResponse, 0, toolCallLoopThreshold+1)
	for i := 0; i < toolCallLoopThreshold+1; i++ {
		turns = append(turns, repeated)
	}
	srv := sseServer(t, turns)
	defer srv.Close()

	client := llmclient.New(llmclient.Config{BaseURL: srv.URL, BackoffBase: time.Millisecond})
	loop := &Loop{Client: client, Model: "gpt-4", Tools: newTestRegistry(t)}

	hist := &convo.History{}
	hist.Append(convo.Message{Role: convo.RoleUser, Content: "loop please"})
	_, err := loop.Run(context.Background(), "sys", hist)
	require.Error(t, err)
	var loopErr *ToolLoopExceeded
	require.ErrorAs(t, err, &loopErr)
}

func TestLoopMergesOutOfOrderToolCallFragmentsByIndex(t *testing.T) {
	idx0, idx1 := 0, 1
	turn := []openai.ChatCompletionStreamResponse{
		// Index 1's fragment arrives before index 0 finishes — the merge
		// must key by index, not arrival order.
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &idx0, ID: "call_a", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "fs_list", Arguments: `{"pa`}}},
		}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &idx1, ID: "call_b", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "fs_read", Arguments: `{"path"`}}},
		}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &idx0, Function: openai.FunctionCall{Arguments: `th":"."}`}}},
		}, FinishReason: openai.FinishReasonToolCalls}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &idx1, Function: openai.FunctionCall{Arguments: `:"x.go"}`}}},
		}, FinishReason: openai.FinishReasonToolCalls}},
	}
	srv := sseServer(t, [][]openai.ChatCompletionStreamResponse{turn, contentTurn("ok")})
	defer srv.Close()

	client := llmclient.New(llmclient.Config{BaseURL: srv.URL, BackoffBase: time.Millisecond})
	loop := &Loop{Client: client, Model: "gpt-4", Tools: newTestRegistry(t)}

	hist := &convo.History{}
	hist.Append(convo.Message{Role: convo.RoleUser, Content: "list and read"})
	_, err := loop.Run(context.Background(), "sys", hist)
	require.NoError(t, err)

	assistantMsg := hist.Messages[1]
	require.Len(t, assistantMsg.ToolCalls, 2)
	require.Equal(t, "call_a", assistantMsg.ToolCalls[0].ID)
	require.Equal(t, `{"path":"."}`, assistantMsg.ToolCalls[0].Arguments)
	require.Equal(t, "call_b", assistantMsg.ToolCalls[1].ID)
	require.Equal(t, `{"path":"x.go"}`, assistantMsg.ToolCalls[1].Arguments)
}

func TestLoopHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := llmclient.New(llmclient.Config{BaseURL: srv.URL})
	loop := &Loop{Client: client, Model: "gpt-4", Tools: newTestRegistry(t)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hist := &convo.History{}
	hist.Append(convo.Message{Role: convo.RoleUser, Content: "hi"})
	_, err := loop.Run(ctx, "sys", hist)
	require.Error(t, err)
}
