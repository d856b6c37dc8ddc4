package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/mopemope/doge-code/internal/convo"
	"github.com/mopemope/doge-code/internal/llmclient"
	"github.com/mopemope/doge-code/internal/session"
	"github.com/mopemope/doge-code/internal/tools"
)

// SessionRunner binds a Loop to one persisted Session, enforcing spec.md
// §4.I's single-in-flight-request rule: at most one turn runs at a time,
// and at most one more user input may queue behind it. A second queued
// input while one is already pending replaces it rather than stacking,
// matching session.go's single-slot pending-input behavior in its
// Ask/AskStream dispatch.
type SessionRunner struct {
	Session  *session.Session
	Store    *session.Store
	Loop     *Loop
	Accounts *convo.Accountant

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	pending *string
}

// NewSessionRunner wires a session, its store, and an LLM+tools Loop
// together.
func NewSessionRunner(s *session.Session, store *session.Store, client *llmclient.Client, model string, reg *tools.Registry, notify Notifier) *SessionRunner {
	acc := convo.NewAccountant(convo.DefaultAutoCompactThreshold)
	return &SessionRunner{
		Session:  s,
		Store:    store,
		Accounts: acc,
		Loop: &Loop{
			Client:   client,
			Model:    model,
			Tools:    reg,
			Notify:   notify,
			Accounts: acc,
		},
	}
}

// Submit enqueues userInput as the next turn. If a turn is already
// running, userInput is stashed as the single pending input and replaces
// any previously-stashed one (spec.md §4.I: "new input arriving mid-turn
// queues behind the in-flight request; a second arrival replaces the
// first rather than stacking").
func (r *SessionRunner) Submit(ctx context.Context, systemPrompt, userInput string) (string, error) {
	r.mu.Lock()
	if r.running {
		r.pending = &userInput
		r.mu.Unlock()
		return "", nil
	}
	r.running = true
	turnCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		next := r.pending
		r.pending = nil
		r.mu.Unlock()
		if next != nil {
			go func() { _, _ = r.Submit(ctx, systemPrompt, *next) }()
		}
	}()

	r.Session.AppendMessage(convo.Message{Role: convo.RoleUser, Content: userInput})
	r.Session.Conversation = append([]convo.Message{}, r.Session.Conversation...)
	hist := &convo.History{Messages: r.Session.Conversation}

	out, err := r.Loop.Run(turnCtx, systemPrompt, hist)
	r.Session.ReplaceConversation(hist.Messages)
	r.Session.BumpRequestCount()

	if usage := r.Loop.LastUsage(); err == nil && usage != nil {
		r.Session.SetTokenCount(usage.TotalTokens)
		if r.Accounts.ShouldSchedule(usage.PromptTokens) {
			r.Accounts.Schedule()
			if compacted, cErr := r.compactAndRedispatch(turnCtx, systemPrompt, userInput); cErr == nil {
				out = compacted
			} else {
				err = fmt.Errorf("auto-compact: %w", cErr)
			}
		}
	}

	if r.Store != nil {
		if saveErr := r.Store.Save(r.Session); saveErr != nil && err == nil {
			err = fmt.Errorf("save session: %w", saveErr)
		}
	}
	return out, err
}

// compactAndRedispatch runs spec.md §4.G's auto-compaction turn once the
// accountant trips: the conversation is replaced with a single
// <state_snapshot> message, and userInput is re-dispatched against that
// compacted history so the turn completes with a fresh context window.
func (r *SessionRunner) compactAndRedispatch(ctx context.Context, systemPrompt, userInput string) (string, error) {
	gen := generatorFunc(func(ctx context.Context, systemPrompt string, messages []convo.Message) (string, error) {
		resp, err := r.Loop.Client.Send(ctx, chatRequestFor(r.Loop.Model, systemPrompt, messages))
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("compaction response carried no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})

	hist := &convo.History{Messages: r.Session.Conversation}
	if _, err := r.Accounts.Compact(ctx, gen, hist); err != nil {
		return "", err
	}
	r.Session.ReplaceConversation(hist.Messages)

	hist.Append(convo.Message{Role: convo.RoleUser, Content: userInput})
	out, err := r.Loop.Run(ctx, systemPrompt, hist)
	r.Session.ReplaceConversation(hist.Messages)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Cancel requests cooperative cancellation of the in-flight turn, if any,
// per spec.md §4.I's Cancelled→Idle transition.
func (r *SessionRunner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Running reports whether a turn is currently in flight.
func (r *SessionRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
