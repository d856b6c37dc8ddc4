// Package sandbox resolves and validates filesystem paths against a
// project root and an optional set of additional allowed roots.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Kind classifies a sandbox rejection.
type Kind int

const (
	// KindInvalidPath means the path itself is unusable (empty, contains
	// a NUL byte, or not absolute).
	KindInvalidPath Kind = iota
	// KindEscapesSandbox means the resolved path falls outside every
	// allowed root.
	KindEscapesSandbox
)

// Error reports why a path failed sandbox validation.
type Error struct {
	Kind Kind
	Path string
	Root string
	Err  error
}

// String renders the spec.md §7 error-taxonomy identifier for k, used
// verbatim as the model-visible error kind.
func (k Kind) String() string {
	switch k {
	case KindEscapesSandbox:
		return "EscapesSandbox"
	default:
		return "InvalidPath"
	}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindEscapesSandbox:
		return fmt.Sprintf("path %q escapes sandbox root %q", e.Path, e.Root)
	default:
		return fmt.Sprintf("invalid path %q: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers write errors.Is(err, sandbox.ErrEscapes) style checks
// against the Kind rather than a distinct sentinel per kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// ErrEscapes and ErrInvalid are comparison targets for errors.Is.
var (
	ErrEscapes = &Error{Kind: KindEscapesSandbox}
	ErrInvalid = &Error{Kind: KindInvalidPath}
)

// Sandbox resolves absolute paths (relative ones are rejected) and
// confirms they remain inside ProjectRoot or one of AllowedRoots.
type Sandbox struct {
	ProjectRoot  string
	AllowedRoots []string
}

// New builds a Sandbox rooted at projectRoot, with projectRoot itself
// always an allowed root.
func New(projectRoot string, extraRoots ...string) (*Sandbox, error) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, &Error{Kind: KindInvalidPath, Path: projectRoot, Err: err}
	}
	s := &Sandbox{ProjectRoot: filepath.Clean(abs)}
	for _, r := range extraRoots {
		ar, err := filepath.Abs(r)
		if err != nil {
			return nil, &Error{Kind: KindInvalidPath, Path: r, Err: err}
		}
		s.AllowedRoots = append(s.AllowedRoots, filepath.Clean(ar))
	}
	return s, nil
}

// Resolve canonicalizes path, which must already be absolute, and returns
// the resolved path if and only if it stays within the sandbox. Symlinks
// are resolved when the target exists; for not-yet-created files the
// parent directory's symlinks are resolved instead, matching a
// validatePathWithinProject-style check.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		return "", &Error{Kind: KindInvalidPath, Path: path, Err: fmt.Errorf("path cannot be empty")}
	}
	if strings.ContainsRune(path, 0) {
		return "", &Error{Kind: KindInvalidPath, Path: path, Err: fmt.Errorf("path contains a NUL byte")}
	}
	if !filepath.IsAbs(path) {
		return "", &Error{Kind: KindInvalidPath, Path: path, Err: fmt.Errorf("path must be absolute")}
	}

	abs := filepath.Clean(path)

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		parent := filepath.Dir(abs)
		realParent, perr := filepath.EvalSymlinks(parent)
		if perr != nil {
			real = abs
		} else {
			real = filepath.Join(realParent, filepath.Base(abs))
		}
	}

	for _, root := range append([]string{s.ProjectRoot}, s.AllowedRoots...) {
		rel, err := filepath.Rel(root, real)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return real, nil
		}
	}
	return "", &Error{Kind: KindEscapesSandbox, Path: path, Root: s.ProjectRoot}
}

// Check is Resolve without returning the resolved path, for call sites
// that only need a yes/no containment answer.
func (s *Sandbox) Check(path string) error {
	_, err := s.Resolve(path)
	return err
}

// Rel returns path relative to ProjectRoot, for display purposes.
func (s *Sandbox) Rel(absPath string) string {
	rel, err := filepath.Rel(s.ProjectRoot, absPath)
	if err != nil {
		return absPath
	}
	return rel
}
