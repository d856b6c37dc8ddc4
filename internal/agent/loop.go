// Package agent implements the Agent Loop (spec.md §4.I): the state
// machine that turns one user turn into a sequence of LLM requests and
// tool dispatches — Idle→Sending→Streaming→Inspecting→Dispatching→
// Tooling→Sending... until the model produces a final assistant message
// with no tool calls. Grounded on session.go's Ask/AskStream/
// processToolCalls/executeToolCall/checkToolCallLoop, restructured around
// spec.md's explicit states and guarantees (single in-flight request,
// sequential tool dispatch, cooperative cancellation, a hard tool-
// iteration cap).
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mopemope/doge-code/internal/convo"
	"github.com/mopemope/doge-code/internal/llmclient"
	"github.com/mopemope/doge-code/internal/patch"
	"github.com/mopemope/doge-code/internal/sandbox"
	"github.com/mopemope/doge-code/internal/tools"
)

// State is one node of spec.md §4.I's state machine.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateInspecting
	StateDispatching
	StateTooling
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateInspecting:
		return "inspecting"
	case StateDispatching:
		return "dispatching"
	case StateTooling:
		return "tooling"
	case StateCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// maxToolIterations is the hard per-turn cap spec.md §4.I requires to
// prevent infinite self-calling loops; conservative relative to
// toolCallLoopThreshold's 3 *repeated identical* calls, this instead
// bounds total tool round-trips within one turn.
const maxToolIterations = 25

// toolCallLoopThreshold mirrors session.go's checkToolCallLoop constant:
// the same tool call (by name+arguments hash) repeated this many times in
// a row aborts the turn even under the iteration cap.
const toolCallLoopThreshold = 3

// ToolLoopExceeded is returned when either cap trips, per spec.md §4.I.
type ToolLoopExceeded struct {
	Reason string
}

func (e *ToolLoopExceeded) Error() string { return "tool loop exceeded: " + e.Reason }

// StatusEvent is emitted on every state transition, letting a caller
// (TUI, CLI, tests) observe progress without polling.
type StatusEvent struct {
	State State
	Note  string
}

// Notifier receives StatusEvents. A nil Notifier is valid — events are
// simply dropped.
type Notifier func(StatusEvent)

// Loop drives one session's turns against an LLM client, tool registry,
// and conversation history.
type Loop struct {
	Client   *llmclient.Client
	Model    string
	Tools    *tools.Registry
	Notify   Notifier
	Accounts *convo.Accountant

	state                   State
	lastToolCallKey         string
	toolCallRepetitionCount int
	lastUsage               *openai.Usage
}

// LastUsage returns the token usage reported by the most recent LLM
// response, or nil if none has been received yet (spec.md §4.G: "every
// LLM response carries prompt-token and total-token counts").
func (l *Loop) LastUsage() *openai.Usage { return l.lastUsage }

func (l *Loop) notify(s State, note string) {
	l.state = s
	if l.Notify != nil {
		l.Notify(StatusEvent{State: s, Note: note})
	}
}

// Run executes one full user turn: it sends systemPrompt + history to the
// LLM, dispatches any tool calls sequentially, resends, and repeats until
// the assistant responds with no tool calls — returning the final
// assistant text. history is mutated in place to append every message
// produced along the way (assistant turns and tool results), per
// spec.md §4.F's append-only conversation log.
func (l *Loop) Run(ctx context.Context, systemPrompt string, history *convo.History) (string, error) {
	for iteration := 0; ; iteration++ {
		if iteration >= maxToolIterations {
			return "", &ToolLoopExceeded{Reason: fmt.Sprintf("exceeded %d tool iterations in one turn", maxToolIterations)}
		}
		if err := ctx.Err(); err != nil {
			l.notify(StateCancelled, "context cancelled")
			l.notify(StateIdle, "")
			return "", err
		}

		l.notify(StateSending, "")
		req := openai.ChatCompletionRequest{
			Model:    l.Model,
			Messages: buildWireMessages(systemPrompt, history.Messages),
			Tools:    buildWireTools(l.Tools),
		}

		l.notify(StateStreaming, "")
		content, toolCalls, err := l.stream(ctx, req)
		if err != nil {
			l.notify(StateIdle, "")
			return "", err
		}

		l.notify(StateInspecting, "")
		assistantMsg := convo.Message{Role: convo.RoleAssistant, Content: content}
		for _, tc := range toolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, convo.ToolCall{
				ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
			})
		}
		history.Append(assistantMsg)

		if len(toolCalls) == 0 {
			l.notify(StateIdle, "")
			return content, nil
		}

		l.notify(StateDispatching, fmt.Sprintf("%d tool call(s)", len(toolCalls)))
		for _, tc := range toolCalls {
			if err := ctx.Err(); err != nil {
				l.notify(StateCancelled, "context cancelled mid-dispatch")
				l.notify(StateIdle, "")
				return "", err
			}

			if l.checkToolCallLoop(tc.Function.Name, tc.Function.Arguments) {
				return "", &ToolLoopExceeded{Reason: fmt.Sprintf("tool %q repeated %d times with identical arguments", tc.Function.Name, toolCallLoopThreshold)}
			}

			l.notify(StateTooling, tc.Function.Name)
			result := l.dispatchOne(ctx, tc)
			history.Append(convo.Message{Role: convo.RoleTool, ToolCallID: tc.ID, Content: result})
		}
		// loop back to Sending with the extended history
	}
}

// stream drains one streamed response to completion, accumulating
// content deltas and merging tool-call fragments by index, per
// spec.md §4.H/§4.I: "the provider may emit tool-call fragments
// out-of-order by index; the merger keys by index and finalizes once
// the stream closes."
func (l *Loop) stream(ctx context.Context, req openai.ChatCompletionRequest) (string, []openai.ToolCall, error) {
	events, err := l.Client.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var content strings.Builder
	merger := newToolCallMerger()
	for ev := range events {
		if ev.Err != nil {
			return "", nil, ev.Err
		}
		content.WriteString(ev.ContentDelta)
		merger.add(ev.ToolCallDeltas)
		if ev.Usage != nil {
			l.lastUsage = ev.Usage
		}
		if l.Notify != nil && ev.ContentDelta != "" {
			l.notify(StateStreaming, ev.ContentDelta)
		}
		if ev.Done {
			break
		}
	}
	return content.String(), merger.finalize(), nil
}

// toolCallMerger accumulates ToolCallDeltas keyed by index, concatenating
// Arguments fragments and keeping the first non-empty ID/Name seen for
// each index, per spec.md §4.H's streaming tool-call merge rule.
type toolCallMerger struct {
	order   []int
	byIndex map[int]*openai.ToolCall
}

func newToolCallMerger() *toolCallMerger {
	return &toolCallMerger{byIndex: make(map[int]*openai.ToolCall)}
}

func (m *toolCallMerger) add(deltas []llmclient.ToolCallDelta) {
	for _, d := range deltas {
		tc, ok := m.byIndex[d.Index]
		if !ok {
			tc = &openai.ToolCall{Type: openai.ToolTypeFunction}
			m.byIndex[d.Index] = tc
			m.order = append(m.order, d.Index)
		}
		if tc.ID == "" && d.ID != "" {
			tc.ID = d.ID
		}
		if tc.Function.Name == "" && d.Name != "" {
			tc.Function.Name = d.Name
		}
		tc.Function.Arguments += d.Arguments
	}
}

func (m *toolCallMerger) finalize() []openai.ToolCall {
	if len(m.order) == 0 {
		return nil
	}
	out := make([]openai.ToolCall, 0, len(m.order))
	for _, idx := range m.order {
		out = append(out, *m.byIndex[idx])
	}
	return out
}

// dispatchOne runs a single tool call and renders its outcome as the
// `tool` message content, never omitting a result even on failure, per
// spec.md §3's ToolResult invariant.
func (l *Loop) dispatchOne(ctx context.Context, tc openai.ToolCall) string {
	out, err := l.Tools.Dispatch(ctx, tc.Function.Name, tc.Function.Arguments)
	if err == nil {
		return out
	}
	errBody, _ := json.Marshal(map[string]any{
		"ok": false,
		"error": map[string]string{
			"kind":    errorKind(err),
			"message": err.Error(),
		},
	})
	return string(errBody)
}

// errorKind extracts spec.md §7's error-taxonomy identifier from a tool
// failure, walking the sandbox, patch, and tools packages' typed errors
// in turn so the model sees the specific failure (HashMismatch,
// ContextMismatch, EscapesSandbox, ...) instead of one generic kind.
func errorKind(err error) string {
	var sbErr *sandbox.Error
	if errors.As(err, &sbErr) {
		return sbErr.Kind.String()
	}
	var pErr *patch.Error
	if errors.As(err, &pErr) {
		return pErr.Kind.String()
	}
	var tErr *tools.Error
	if errors.As(err, &tErr) {
		return string(tErr.Kind)
	}
	return "tool_error"
}

// checkToolCallLoop mirrors session.go's checkToolCallLoop: the same
// tool name + arguments, hashed, repeated toolCallLoopThreshold times in
// a row signals a stuck model.
func (l *Loop) checkToolCallLoop(name, argsJSON string) bool {
	key := toolCallKey(name, argsJSON)
	if l.lastToolCallKey == key {
		l.toolCallRepetitionCount++
	} else {
		l.lastToolCallKey = key
		l.toolCallRepetitionCount = 1
	}
	return l.toolCallRepetitionCount >= toolCallLoopThreshold
}

func toolCallKey(name, argsJSON string) string {
	sum := sha256.Sum256([]byte(name + ":" + argsJSON))
	return hex.EncodeToString(sum[:])
}

func buildWireMessages(systemPrompt string, history []convo.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, m := range history {
		wm := openai.ChatCompletionMessage{Content: m.Content, ToolCallID: m.ToolCallID}
		switch m.Role {
		case convo.RoleUser:
			wm.Role = openai.ChatMessageRoleUser
		case convo.RoleAssistant:
			wm.Role = openai.ChatMessageRoleAssistant
		case convo.RoleTool:
			wm.Role = openai.ChatMessageRoleTool
		default:
			wm.Role = openai.ChatMessageRoleSystem
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

// chatRequestFor builds a non-streaming, tool-free chat request — used by
// the /compact command, which asks the model for a plain-text summary
// rather than a tool-calling turn.
func chatRequestFor(model, systemPrompt string, messages []convo.Message) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildWireMessages(systemPrompt, messages),
	}
}

func buildWireTools(reg *tools.Registry) []openai.Tool {
	if reg == nil {
		return nil
	}
	list := reg.List()
	out := make([]openai.Tool, 0, len(list))
	for _, t := range list {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}
	return out
}
