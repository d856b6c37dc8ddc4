package convo

import (
	"context"
	"fmt"
	"strings"
)

// DefaultAutoCompactThreshold is spec.md §4.G's default
// auto_compact_prompt_token_threshold. internal/agent's NewSessionRunner
// always builds its Accountant with this value; no environment variable
// or config key overrides it.
const DefaultAutoCompactThreshold = 250_000

// compactionInstructions is the system prompt used for the compaction
// turn itself; it asks the model for the structured snapshot spec.md
// names: goal, facts, filesystem state, recent actions, current plan.
const compactionInstructions = `Summarize this conversation so it can continue with no loss of essential context. Respond with exactly one <state_snapshot> block containing:
- goal: the user's overall objective
- facts: durable facts established so far
- filesystem_state: files read, created, or modified and their current understood state
- recent_actions: the last few tool calls and their outcomes
- current_plan: the next steps

Do not include anything outside the <state_snapshot> block.`

// Generator sends a request and returns the assistant's reply text. It is
// satisfied by internal/llmclient's client; kept as an interface here so
// convo has no import-time dependency on the HTTP transport.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

// Accountant owns auto-compaction state for one session, per spec.md
// §4.G: a compaction is scheduled the instant prompt_tokens crosses the
// threshold and none is already pending, and auto_compact_pending clears
// only on a confirmed successful compaction.
type Accountant struct {
	Threshold int
	pending   bool
}

// NewAccountant returns an Accountant using threshold, or
// DefaultAutoCompactThreshold if threshold <= 0.
func NewAccountant(threshold int) *Accountant {
	if threshold <= 0 {
		threshold = DefaultAutoCompactThreshold
	}
	return &Accountant{Threshold: threshold}
}

// Pending reports whether a compaction has been scheduled but not yet
// confirmed successful.
func (a *Accountant) Pending() bool { return a.pending }

// ShouldSchedule reports whether promptTokens crossing the threshold
// should schedule a new compaction turn: the threshold is met and no
// compaction is already pending.
func (a *Accountant) ShouldSchedule(promptTokens int) bool {
	return !a.pending && promptTokens >= a.Threshold
}

// Schedule marks a compaction as pending. Called once ShouldSchedule
// returns true and the compaction turn has been dispatched.
func (a *Accountant) Schedule() { a.pending = true }

// Compact runs the compaction turn against gen and, on success, replaces
// history (except the system prompt, which convo never stores) with a
// single user message carrying the `<state_snapshot>`, then clears
// pending. The caller is responsible for re-dispatching the session's
// last user input as the next turn afterward, per spec.md §4.G ("the
// user's last input is then re-dispatched") — it is not folded into the
// snapshot message itself.
func (a *Accountant) Compact(ctx context.Context, gen Generator, h *History) (string, error) {
	snapshot, err := gen.Generate(ctx, compactionInstructions, h.Messages)
	if err != nil {
		return "", fmt.Errorf("compaction turn failed: %w", err)
	}
	snapshot = strings.TrimSpace(snapshot)
	if !strings.Contains(snapshot, "<state_snapshot>") {
		snapshot = "<state_snapshot>\n" + snapshot + "\n</state_snapshot>"
	}

	h.Replace([]Message{{Role: RoleUser, Content: snapshot}})
	a.pending = false
	return snapshot, nil
}
