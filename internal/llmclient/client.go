// Package llmclient implements the LLM Client (spec.md §4.H): an
// OpenAI-compatible chat-completions transport with streaming, retry
// with jitter, Retry-After respect, distinct timeouts, and classified
// errors. Wire types come from github.com/sashabaranov/go-openai; the
// request/response round trip itself is hand-rolled against net/http
// because spec.md's retry/timeout contract (separate connect/request/
// read-idle timeouts, Retry-After honoring) is more granular than that
// library's own client offers.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config configures one Client. Zero-value fields fall back to the
// defaults set in New.
type Config struct {
	BaseURL           string
	APIKey            string
	MaxRetries        int
	BackoffBase       time.Duration
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	ReadIdleTimeout   time.Duration
	RespectRetryAfter bool
}

const (
	defaultMaxRetries      = 3
	defaultBackoffBase     = 500 * time.Millisecond
	defaultConnectTimeout  = 10 * time.Second
	defaultRequestTimeout  = 120 * time.Second
	defaultReadIdleTimeout = 30 * time.Second
)

// Client is a configured, reusable chat-completions transport.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client, normalizing BaseURL per spec.md §4.H: if it ends
// with "/v1" or "/v1/", only "/chat/completions" is appended.
func New(cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = defaultReadIdleTimeout
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
	}
}

// endpoint normalizes BaseURL + "/chat/completions" per spec.md §4.H.
func (c *Client) endpoint() string {
	base := strings.TrimSuffix(c.cfg.BaseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Send issues one non-streaming chat-completions request.
func (c *Client) Send(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindDeserialize, Err: fmt.Errorf("marshal request: %w", err)}
	}

	respBody, status, headers, err := c.doWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &Error{Kind: KindDeserialize, StatusCode: status, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	_ = headers
	return &resp, nil
}

// doWithRetry POSTs body to c.endpoint(), retrying per spec.md §4.H:
// up to MaxRetries, exponential backoff base*2^attempt plus jitter; on
// 429/503 with a Retry-After header, sleep at least that long when
// RespectRetryAfter is set. Grounded on
// lowkaihon-cli-coding-agent/llm/client.go's doWithRetry, extended with
// the fuller error taxonomy and Retry-After handling spec.md requires.
func (c *Client) doWithRetry(ctx context.Context, body []byte) (respBody []byte, status int, headers http.Header, err error) {
	var lastErr *Error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoffDelay(attempt, lastErr)
			select {
			case <-ctx.Done():
				return nil, 0, nil, &Error{Kind: KindTimeout, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
		if reqErr != nil {
			return nil, 0, nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("build request: %w", reqErr)}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			lastErr = classifyTransportError(doErr)
			if attempt < c.cfg.MaxRetries {
				continue
			}
			return nil, 0, nil, lastErr
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response body: %w", readErr)}
			if attempt < c.cfg.MaxRetries {
				continue
			}
			return nil, 0, nil, lastErr
		}

		if resp.StatusCode == http.StatusOK {
			return data, resp.StatusCode, resp.Header, nil
		}

		lastErr = &Error{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(data))),
		}
		if !lastErr.Retryable() || attempt >= c.cfg.MaxRetries {
			return nil, resp.StatusCode, resp.Header, lastErr
		}
	}

	return nil, 0, nil, lastErr
}

func (c *Client) backoffDelay(attempt int, lastErr *Error) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.cfg.BackoffBase
	jitter := time.Duration(rand.Int63n(int64(c.cfg.BackoffBase)))
	delay := backoff + jitter

	if c.cfg.RespectRetryAfter && lastErr != nil && lastErr.RetryAfter > 0 {
		min := time.Duration(lastErr.RetryAfter) * time.Second
		if delay < min {
			delay = min
		}
	}
	return delay
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindClient
	default:
		return KindUnknown
	}
}

func classifyTransportError(err error) *Error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

func parseRetryAfter(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return secs
}
