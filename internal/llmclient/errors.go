package llmclient

import "fmt"

// Kind classifies an LLM request failure per spec.md §4.H's fixed
// taxonomy, so callers (internal/agent's retry/abort decisions) can
// branch on failure class without string-matching error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindServer
	KindClient
	KindTimeout
	KindNetwork
	KindDeserialize
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindDeserialize:
		return "deserialize"
	default:
		return "unknown"
	}
}

// Error wraps a classified LLM request failure. StatusCode is 0 for
// errors that never reached an HTTP response (timeout/network).
type Error struct {
	Kind       Kind
	StatusCode int
	RetryAfter int // seconds, 0 if the response carried no Retry-After header
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm request failed (%s, HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm request failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this class of failure is worth retrying at
// all — Client (4xx other than 429) never is.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}
