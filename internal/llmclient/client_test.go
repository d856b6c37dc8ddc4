package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func TestEndpointNormalization(t *testing.T) {
	c1 := New(Config{BaseURL: "https://api.example.com/v1"})
	require.Equal(t, "https://api.example.com/v1/chat/completions", c1.endpoint())

	c2 := New(Config{BaseURL: "https://api.example.com"})
	require.Equal(t, "https://api.example.com/v1/chat/completions", c2.endpoint())

	c3 := New(Config{BaseURL: "https://api.example.com/v1/"})
	require.Equal(t, "https://api.example.com/v1/chat/completions", c3.endpoint())
}

func TestSendSucceedsOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hi"}}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 2, BackoffBase: time.Millisecond})
	resp, err := c.Send(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4"})
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Choices[0].Message.Content)
}

func TestSendRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limited"}`)
			return
		}
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 2, BackoffBase: time.Millisecond})
	resp, err := c.Send(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Choices[0].Message.Content)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSendFailsClientErrorWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"bad key"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3, BackoffBase: time.Millisecond})
	_, err := c.Send(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4"})
	require.Error(t, err)
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	require.Equal(t, KindClient, llmErr.Kind)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors must not be retried")
}

func TestSendRespectsRetryAfterHeader(t *testing.T) {
	var calls int32
	start := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{}`)
			return
		}
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 1, BackoffBase: time.Millisecond, RespectRetryAfter: true})
	_, err := c.Send(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestStreamAccumulatesContentAndToolCallDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		idx := 0
		events := []string{
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read_file","arguments":"{\"path\""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"a.go\"}"}}]}}]}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			flusher.Flush()
			idx++
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ReadIdleTimeout: 2 * time.Second})
	events, err := c.Stream(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4"})
	require.NoError(t, err)

	var content string
	var argParts []string
	for ev := range events {
		require.NoError(t, ev.Err)
		content += ev.ContentDelta
		for _, d := range ev.ToolCallDeltas {
			argParts = append(argParts, d.Arguments)
		}
	}
	require.Equal(t, "Hello", content)
	require.Equal(t, `{"path"`+`:"a.go"}`, argParts[0]+argParts[1])
}
