package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mopemope/doge-code/internal/convo"
	"github.com/mopemope/doge-code/internal/repomap"
	"github.com/mopemope/doge-code/internal/session"
)

// CommandResult is the user-visible outcome of a slash command.
type CommandResult struct {
	Text    string
	Handled bool
}

// Command is one named slash command. Grounded on a commands.go-style
// dispatch table (a map of command name to handler func), rebuilt here
// around SPEC_FULL.md's command set since a matching commands.go source
// file itself was not retrieved in the pack.
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, r *SessionRunner, rm *repomap.Repomap, args string) (CommandResult, error)
}

// Commands is the fixed slash-command table: /compact, /cancel,
// /session, /tokens, /rebuild-repomap, /edit-symbol, /export.
var Commands = []Command{
	{
		Name:        "/compact",
		Description: "manually trigger conversation compaction",
		Run: func(ctx context.Context, r *SessionRunner, rm *repomap.Repomap, args string) (CommandResult, error) {
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
			snapshot, err := r.Accounts.Compact(ctx, gen, hist)
			if err != nil {
				return CommandResult{}, err
			}
			r.Session.ReplaceConversation(hist.Messages)
			return CommandResult{Handled: true, Text: "conversation compacted:\n" + snapshot}, nil
		},
	},
	{
		Name:        "/cancel",
		Description: "cancel the in-flight turn, if any",
		Run: func(ctx context.Context, r *SessionRunner, rm *repomap.Repomap, args string) (CommandResult, error) {
			r.Cancel()
			return CommandResult{Handled: true, Text: "cancellation requested"}, nil
		},
	},
	{
		Name:        "/session",
		Description: "show the current session id and title",
		Run: func(ctx context.Context, r *SessionRunner, rm *repomap.Repomap, args string) (CommandResult, error) {
			return CommandResult{Handled: true, Text: fmt.Sprintf("session %s (%s), %d requests", r.Session.ID, r.Session.Title, r.Session.RequestCount)}, nil
		},
	},
	{
		Name:        "/tokens",
		Description: "report estimated context usage",
		Run: func(ctx context.Context, r *SessionRunner, rm *repomap.Repomap, args string) (CommandResult, error) {
			total := 0
			for _, m := range r.Session.Conversation {
				total += convo.CountTokens(m.Content)
			}
			return CommandResult{Handled: true, Text: fmt.Sprintf("~%d tokens in conversation history", total)}, nil
		},
	},
	{
		Name:        "/rebuild-repomap",
		Description: "rebuild the repository symbol index",
		Run: func(ctx context.Context, r *SessionRunner, rm *repomap.Repomap, args string) (CommandResult, error) {
			if rm == nil {
				return CommandResult{}, fmt.Errorf("repomap is not configured for this session")
			}
			stats, err := rm.Rebuild(ctx)
			if err != nil {
				return CommandResult{}, err
			}
			return CommandResult{Handled: true, Text: fmt.Sprintf(
				"repomap rebuilt: %d scanned, %d changed, %d removed, %d symbols",
				stats.FilesScanned, stats.FilesChanged, stats.FilesRemoved, stats.Symbols,
			)}, nil
		},
	},
	{
		Name:        "/export",
		Description: "export the conversation to a markdown file (/export [full|conversation])",
		Run: func(ctx context.Context, r *SessionRunner, rm *repomap.Repomap, args string) (CommandResult, error) {
			mode := session.ExportConversation
			if strings.TrimSpace(args) == string(session.ExportFull) {
				mode = session.ExportFull
			}
			path, err := session.ExportMarkdown(r.Session, mode)
			if err != nil {
				return CommandResult{}, err
			}
			return CommandResult{Handled: true, Text: "exported to " + path}, nil
		},
	},
	{
		Name:        "/edit-symbol",
		Description: "look up a symbol's location by name (/edit-symbol <name>)",
		Run: func(ctx context.Context, r *SessionRunner, rm *repomap.Repomap, args string) (CommandResult, error) {
			if rm == nil {
				return CommandResult{}, fmt.Errorf("repomap is not configured for this session")
			}
			name := strings.TrimSpace(args)
			if name == "" {
				return CommandResult{}, fmt.Errorf("usage: /edit-symbol <name>")
			}
			syms, err := rm.GetSymbol(ctx, name)
			if err != nil {
				return CommandResult{}, err
			}
			if len(syms) == 0 {
				return CommandResult{Handled: true, Text: fmt.Sprintf("no symbol named %q", name)}, nil
			}
			var b strings.Builder
			for _, s := range syms {
				fmt.Fprintf(&b, "%s:%d-%d  %s %s\n", s.FilePath, s.StartLine, s.EndLine, s.Kind, s.Name)
			}
			return CommandResult{Handled: true, Text: b.String()}, nil
		},
	},
}

// Dispatch parses line as a possible slash command and runs it. It
// returns Handled=false when line does not start with a registered
// command name, signaling the caller to treat it as ordinary user input.
func Dispatch(ctx context.Context, r *SessionRunner, rm *repomap.Repomap, line string) (CommandResult, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return CommandResult{Handled: false}, nil
	}
	fields := strings.SplitN(trimmed, " ", 2)
	name := fields[0]
	var args string
	if len(fields) > 1 {
		args = fields[1]
	}
	for _, c := range Commands {
		if c.Name == name {
			return c.Run(ctx, r, rm, args)
		}
	}
	return CommandResult{}, fmt.Errorf("unknown command %q", name)
}

type generatorFunc func(ctx context.Context, systemPrompt string, messages []convo.Message) (string, error)

func (f generatorFunc) Generate(ctx context.Context, systemPrompt string, messages []convo.Message) (string, error) {
	return f(ctx, systemPrompt, messages)
}
