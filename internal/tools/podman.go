//go:build !ignore
// +build !ignore

package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	spec "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/specgen"
)

// ContainerRunner implements ShellRunner by executing commands inside a
// persistent podman container instead of directly on the host, giving
// execute_bash an isolated alternative backend. Grounded on
// PodmanShellRunner (podman_runner.go): same connection-discovery and
// container-creation sequence via bindings/specgen, adapted from a
// TUI-message-emitting, multi-return-type design to the plain
// ShellRunner.Run(ctx, command) (string, int, error) contract this module
// uses everywhere else. PodmanShellRunner's persistent-session wire
// protocol relied on a `__asimi_run` shell function baked into a custom
// "asimi-shell" image that is not part of this pack; this version inlines
// the equivalent start/end markers per command instead of depending on a
// prebuilt image function, so any base image with a POSIX shell works.
type ContainerRunner struct {
	imageName        string
	containerName    string
	allowFallback    bool
	noCleanup        bool
	projectRoot      string
	additionalMounts []ContainerMount
	timeout          time.Duration

	mu               sync.Mutex
	conn             context.Context
	containerStarted bool
	stdinPipe        io.WriteCloser
	stdoutPipe       io.ReadCloser

	outputs       map[int]*containerCommandOutput
	outputsMu     sync.Mutex
	nextCommandID int
}

// ContainerMount is a host path bound into the container alongside the
// project root, grounded on config.go's ContainerConfig.AdditionalMounts.
type ContainerMount struct {
	Source      string
	Destination string
}

type containerCommandOutput struct {
	output     string
	exitCode   string
	ready      chan struct{}
	outputDone bool
}

// NewContainerRunner builds a podman-backed ShellRunner rooted at
// projectRoot. allowFallback, when true, falls back to a HostRunner if
// podman cannot be reached.
func NewContainerRunner(projectRoot string, image string, allowFallback, noCleanup bool, mounts []ContainerMount, timeout time.Duration) *ContainerRunner {
	if image == "" {
		image = "docker.io/library/bash:latest"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ContainerRunner{
		imageName:        image,
		containerName:    fmt.Sprintf("doge-code-shell-%d", os.Getpid()),
		allowFallback:    allowFallback,
		noCleanup:        noCleanup,
		projectRoot:      projectRoot,
		additionalMounts: mounts,
		timeout:          timeout,
		outputs:          make(map[int]*containerCommandOutput),
		nextCommandID:    1,
	}
}

func (r *ContainerRunner) initialize(ctx context.Context) error {
	r.mu.Lock()
	hasConnection := r.conn != nil
	r.mu.Unlock()

	if !hasConnection {
		conn, err := r.establishConnection(ctx)
		if err != nil {
			return fmt.Errorf("connect to podman: %w", err)
		}
		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
	}

	r.mu.Lock()
	started := r.containerStarted
	r.mu.Unlock()

	if !started {
		if inspectData, err := containers.Inspect(r.conn, r.containerName, nil); err == nil {
			if !inspectData.State.Running {
				if err := containers.Start(r.conn, r.containerName, nil); err != nil {
					return fmt.Errorf("start existing container: %w", err)
				}
			}
		} else if err := r.createContainer(ctx); err != nil {
			return err
		}
		r.mu.Lock()
		r.containerStarted = true
		r.mu.Unlock()
	}

	r.mu.Lock()
	hasAttachment := r.stdinPipe != nil
	r.mu.Unlock()

	if !hasAttachment {
		stdinReader, stdinWriter := io.Pipe()
		stdoutReader, stdoutWriter := io.Pipe()

		go func() {
			if err := containers.Attach(r.conn, r.containerName, stdinReader, stdoutWriter, nil, nil, nil); err != nil {
				slog.Error("podman attach failed", "error", err)
				stdinReader.Close()
				stdoutWriter.Close()
				r.mu.Lock()
				r.stdinPipe = nil
				r.stdoutPipe = nil
				r.mu.Unlock()
			}
		}()

		r.mu.Lock()
		r.stdinPipe = stdinWriter
		r.stdoutPipe = stdoutReader
		r.mu.Unlock()

		go r.readStream(stdoutReader)

		if _, err := r.stdinPipe.Write([]byte(fmt.Sprintf("cd %s\n", r.projectRoot))); err != nil {
			slog.Error("failed to cd into project root in container", "error", err)
		}
	}

	return nil
}

func (r *ContainerRunner) establishConnection(ctx context.Context) (context.Context, error) {
	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}

	macOSSocket := filepath.Join(currentUser.HomeDir, ".local/share/containers/podman/machine/podman.sock")
	if _, err := os.Stat(macOSSocket); err == nil {
		if conn, err := bindings.NewConnection(ctx, "unix://"+macOSSocket); err == nil {
			return conn, nil
		}
	}

	if conn, err := bindings.NewConnection(ctx, ""); err == nil {
		return conn, nil
	}

	userSocket := fmt.Sprintf("unix:///run/user/%s/podman/podman.sock", currentUser.Uid)
	if conn, err := bindings.NewConnection(ctx, userSocket); err == nil {
		return conn, nil
	}

	return bindings.NewConnection(ctx, "unix:///var/run/podman/podman.sock")
}

func (r *ContainerRunner) createContainer(ctx context.Context) error {
	s := specgen.NewSpecGenerator(r.imageName, false)
	s.Name = r.containerName
	autoRemove := !r.noCleanup
	s.Remove = &autoRemove

	terminal := true
	s.Terminal = &terminal
	s.Env = map[string]string{"TERM": "dumb"}
	s.Command = []string{"sh", "-i"}
	stdinOpen := true
	s.Stdin = &stdinOpen

	absPath, err := filepath.Abs(r.projectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	mounts := []spec.Mount{{Type: "bind", Source: absPath, Destination: absPath}}
	for _, m := range r.additionalMounts {
		mounts = append(mounts, spec.Mount{Type: "bind", Source: m.Source, Destination: m.Destination})
	}
	s.Mounts = mounts

	createResponse, err := containers.CreateWithSpec(r.conn, s, nil)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if err := containers.Start(r.conn, createResponse.ID, nil); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

func (r *ContainerRunner) readStream(reader io.Reader) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentID int
	var output strings.Builder
	inCommand := false

	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, "__DOGE_STDOUT_START:") {
			parts := strings.Split(line, ":")
			if len(parts) >= 2 {
				if _, err := fmt.Sscanf(parts[1], "%d", &currentID); err == nil {
					inCommand = true
					output.Reset()
					continue
				}
			}
		}

		if inCommand && strings.HasPrefix(line, "__DOGE_STDOUT_END:") {
			parts := strings.Split(line, ":")
			exitCode := ""
			if len(parts) >= 3 {
				exitCode = parts[2]
			}
			r.outputsMu.Lock()
			if cmd, exists := r.outputs[currentID]; exists {
				cmd.output = output.String()
				cmd.exitCode = exitCode
				cmd.outputDone = true
				close(cmd.ready)
			}
			r.outputsMu.Unlock()
			inCommand = false
			currentID = 0
			output.Reset()
			continue
		}

		if inCommand {
			if output.Len() > 0 {
				output.WriteString("\n")
			}
			output.WriteString(line)
		}
	}

	r.outputsMu.Lock()
	for id, cmd := range r.outputs {
		if !cmd.outputDone {
			close(cmd.ready)
		}
		delete(r.outputs, id)
	}
	r.outputsMu.Unlock()
}

// Run implements ShellRunner by executing command inside the container.
func (r *ContainerRunner) Run(ctx context.Context, command string) (string, int, error) {
	if err := r.initialize(ctx); err != nil {
		if r.allowFallback {
			slog.Warn("podman unavailable, falling back to host shell", "error", err)
			return NewHostRunner(r.projectRoot).Run(ctx, command)
		}
		return "", -1, fmt.Errorf("podman unavailable and fallback is disabled: %w", err)
	}

	r.outputsMu.Lock()
	id := r.nextCommandID
	r.nextCommandID++
	cmd := &containerCommandOutput{ready: make(chan struct{})}
	r.outputs[id] = cmd
	r.outputsMu.Unlock()

	wrapped := fmt.Sprintf("echo __DOGE_STDOUT_START:%d; { %s; }; echo __DOGE_STDOUT_END:%d:$?\n", id, shellescape.Quote(command), id)
	if _, err := r.stdinPipe.Write([]byte(wrapped)); err != nil {
		r.outputsMu.Lock()
		delete(r.outputs, id)
		r.outputsMu.Unlock()
		return "", -1, fmt.Errorf("write command to container session: %w", err)
	}

	select {
	case <-cmd.ready:
	case <-time.After(r.timeout):
		r.outputsMu.Lock()
		delete(r.outputs, id)
		r.outputsMu.Unlock()
		return fmt.Sprintf("command timed out after %v", r.timeout), 124, nil
	case <-ctx.Done():
		r.outputsMu.Lock()
		delete(r.outputs, id)
		r.outputsMu.Unlock()
		return "", -1, ctx.Err()
	}

	r.outputsMu.Lock()
	output, exitCodeStr := cmd.output, cmd.exitCode
	delete(r.outputs, id)
	r.outputsMu.Unlock()

	exitCode := 0
	fmt.Sscanf(exitCodeStr, "%d", &exitCode)
	return output, exitCode, nil
}

// Close stops and, unless noCleanup is set, removes the container.
func (r *ContainerRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stdinPipe != nil {
		r.stdinPipe.Close()
		r.stdinPipe = nil
	}
	if r.stdoutPipe != nil {
		r.stdoutPipe.Close()
		r.stdoutPipe = nil
	}
	if r.conn == nil {
		return nil
	}

	timeout := uint(5)
	if err := containers.Stop(r.conn, r.containerName, &containers.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("failed to stop container", "error", err)
	}
	if !r.noCleanup {
		force := true
		if _, err := containers.Remove(r.conn, r.containerName, &containers.RemoveOptions{Force: &force}); err != nil {
			slog.Warn("failed to remove container", "error", err)
		}
	}
	return nil
}
