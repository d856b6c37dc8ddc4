package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	isatty "github.com/mattn/go-isatty"
	"go.uber.org/fx"

	"github.com/mopemope/doge-code/internal/agent"
	"github.com/mopemope/doge-code/internal/convo"
	"github.com/mopemope/doge-code/internal/repomap"
	"github.com/mopemope/doge-code/internal/sandbox"
)

type runCmd struct{}

type versionCmd struct{}

var cli struct {
	Version versionCmd `cmd:"version" help:"Print version information"`
	Prompt  string     `short:"p" help:"Send a single prompt non-interactively and print the reply"`
	Debug   bool       `help:"Enable debug logging"`
	Run     runCmd     `cmd:"" default:"1" help:"Run the interactive agent"`
}

// version is bumped as part of the release process.
var version = "0.1.0"

func (v versionCmd) Run() error {
	fmt.Printf("doge-code v%s\n", version)
	return nil
}

// app bundles the fx-constructed components main needs to either run
// one prompt or drive the interactive loop.
type app struct {
	fx.In

	Logger        *slog.Logger
	Config        *Config
	RepoInfo      convo.RepoInfo
	Sandbox       *sandbox.Sandbox
	Repomap       *repomap.Repomap
	SessionRunner *agent.SessionRunner
}

func (r *runCmd) Run() error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsTerminal(os.Stdin.Fd()) && cli.Prompt == "" {
		fmt.Println("doge-code requires a terminal to run interactively; pass -p/--prompt for non-interactive use.")
		return nil
	}

	var a app
	fxApp := fx.New(
		fx.Provide(
			ProvideConfig,
			ProvideLogger,
			ProvideRepoInfo,
			ProvideSandbox,
			ProvideShellRunner,
			ProvideRepomap,
			ProvideToolRegistry,
			ProvideSessionStore,
			ProvideLLMClient,
			ProvideSession,
			ProvideSessionRunner,
		),
		fx.Populate(&a),
		fx.NopLogger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := fxApp.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	defer func() {
		_ = fxApp.Stop(context.Background())
		_ = a.Repomap.Close()
	}()

	systemPrompt, err := convo.BuildSystemPrompt(a.Sandbox.ProjectRoot, a.RepoInfo)
	if err != nil {
		return fmt.Errorf("build system prompt: %w", err)
	}

	if cli.Prompt != "" {
		reply, err := a.SessionRunner.Submit(ctx, systemPrompt, cli.Prompt)
		if err != nil {
			return fmt.Errorf("agent turn failed: %w", err)
		}
		fmt.Println(reply)
		return nil
	}

	return runInteractive(ctx, &a, systemPrompt)
}

// runInteractive is a minimal line-oriented REPL: each line is either a
// slash command (routed through agent.Dispatch) or ordinary user input
// (routed through SessionRunner.Submit). It stands in for a bubbletea
// TUI, which spec.md §1 places out of scope.
func runInteractive(ctx context.Context, a *app, systemPrompt string) error {
	fmt.Printf("doge-code v%s — session %s. Type /session for status, /cancel to interrupt, Ctrl-D to quit.\n", version, a.SessionRunner.Session.ID)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		res, err := agent.Dispatch(ctx, a.SessionRunner, a.Repomap, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if res.Handled {
			fmt.Println(res.Text)
			continue
		}

		reply, err := a.SessionRunner.Submit(ctx, systemPrompt, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if reply == "" && a.SessionRunner.Running() {
			fmt.Println("(turn already in progress; input queued)")
			continue
		}
		fmt.Println(reply)
	}
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("doge-code"),
		kong.Description("A terminal coding agent."),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
