package llmclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// StreamEvent is one decoded server-sent chunk, or a terminal error/done
// signal. Exactly one of Err/Done/otherwise is meaningful per event.
type StreamEvent struct {
	ContentDelta   string
	ReasoningDelta string
	ToolCallDeltas []ToolCallDelta
	FinishReason   string
	Usage          *openai.Usage
	Done           bool
	Err            error
}

// ToolCallDelta is one fragment of a tool call accumulated by index, per
// spec.md §4.H ("accumulates... structured tool-call fragments by
// index").
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Stream issues a streaming chat-completions request and returns a
// channel of decoded events. The channel is closed once a Done event (or
// a fatal Err event) has been sent. The read-idle timeout configured on
// the Client aborts the stream if no byte arrives for that long — a
// distinct timeout from the full-request timeout per spec.md §4.H.
func (c *Client) Stream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan StreamEvent, error) {
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindDeserialize, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(string(body)))
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		data := readAllBestEffort(resp)
		return nil, &Error{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Err:        fmt.Errorf("%s", strings.TrimSpace(data)),
		}
	}

	out := make(chan StreamEvent)
	go c.pumpStream(resp, out)
	return out, nil
}

func readAllBestEffort(resp *http.Response) string {
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	var b strings.Builder
	for scanner.Scan() {
		b.WriteString(scanner.Text())
	}
	return b.String()
}

func (c *Client) pumpStream(resp *http.Response, out chan<- StreamEvent) {
	defer close(out)
	defer resp.Body.Close()

	idleTimer := time.NewTimer(c.cfg.ReadIdleTimeout)
	defer idleTimer.Stop()
	lineCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lineCh <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		close(lineCh)
	}()

	for {
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(c.cfg.ReadIdleTimeout)

		select {
		case <-idleTimer.C:
			out <- StreamEvent{Err: &Error{Kind: KindTimeout, Err: fmt.Errorf("no data received for %s", c.cfg.ReadIdleTimeout)}}
			return
		case err := <-errCh:
			out <- StreamEvent{Err: &Error{Kind: KindNetwork, Err: err}}
			return
		case line, ok := <-lineCh:
			if !ok {
				out <- StreamEvent{Done: true}
				return
			}
			if ev, emit := decodeSSELine(line); emit {
				out <- ev
				if ev.Done || ev.Err != nil {
					return
				}
			}
		}
	}
}

func decodeSSELine(line string) (StreamEvent, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return StreamEvent{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "[DONE]" {
		return StreamEvent{Done: true}, true
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return StreamEvent{Err: &Error{Kind: KindDeserialize, Err: fmt.Errorf("decode stream chunk: %w", err)}}, true
	}

	ev := StreamEvent{}
	if chunk.Usage != nil {
		ev.Usage = chunk.Usage
	}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		ev.ContentDelta = choice.Delta.Content
		if choice.FinishReason != "" {
			ev.FinishReason = string(choice.FinishReason)
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			ev.ToolCallDeltas = append(ev.ToolCallDeltas, ToolCallDelta{
				Index:     idx,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return ev, true
}
