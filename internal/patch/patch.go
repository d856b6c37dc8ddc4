// Package patch implements the unified-diff patch engine: parsing,
// CRLF-preserving apply with byte-for-byte verification, and inverse
// patch creation. It follows the stricter validate-then-apply-then-verify
// semantics of the apply_patch_fixed variant
// rather than its looser apply.rs sibling (every failure mode is
// detected before the target file is ever touched).
package patch

import (
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/mopemope/doge-code/internal/hashutil"
)

// Kind classifies why Apply (or a targeted replace_text_block call)
// failed.
type Kind int

const (
	KindParseError Kind = iota
	KindEmptyPatch
	KindContextMismatch
	KindReadOnly
	KindVerificationFailed
	KindHashMismatch
	KindNotFound
	KindAmbiguous
)

// String renders the spec.md §7 error-taxonomy identifier for k, used
// verbatim as the model-visible error kind.
func (k Kind) String() string { return kindName(k) }

// Error reports a patch-engine failure with its Kind, matching spec.md's
// error taxonomy for the Patch Engine component.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", kindName(e.Kind), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func kindName(k Kind) string {
	switch k {
	case KindParseError:
		return "ParseError"
	case KindEmptyPatch:
		return "EmptyPatch"
	case KindContextMismatch:
		return "ContextMismatch"
	case KindReadOnly:
		return "ReadOnly"
	case KindVerificationFailed:
		return "VerificationFailed"
	case KindHashMismatch:
		return "HashMismatch"
	case KindNotFound:
		return "NotFound"
	case KindAmbiguous:
		return "Ambiguous"
	default:
		return "PatchError"
	}
}

// Result is the outcome of a successful Apply.
type Result struct {
	ChangedFiles []string
	NewContent   string
}

var dmp = diffmatchpatch.New()

// Apply reads path, parses patchText as a unified diff, applies it, and
// writes the result back, in the 8 steps spec.md §4.C names:
//  1. read the file
//  2. remember whether it used CRLF line endings
//  3. parse the patch — a parse failure returns KindParseError without
//     touching the file
//  4. a patch with zero hunks but non-empty body is KindEmptyPatch
//  5. apply the patch against the LF-normalized content — a rejected
//     hunk returns KindContextMismatch
//  6. restore CRLF if the original file used it
//  7. refuse to write if the file is not writable (KindReadOnly)
//  8. write, then re-read and compare byte-for-byte; a mismatch is
//     KindVerificationFailed
//
// expectedHash, when non-empty, is checked against the file's current
// content before any of the above runs; a mismatch returns
// KindHashMismatch and the file is never touched. dryRun skips steps
// 6-8 and returns the would-be patched content (LF-normalized, before
// CRLF restoration) without writing anything.
func Apply(path, patchText, expectedHash string, dryRun bool) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Path: path, Err: err}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Path: path, Err: err}
	}
	if expectedHash != "" && !hashutil.Matches(raw, expectedHash) {
		return nil, &Error{Kind: KindHashMismatch, Path: path, Err: fmt.Errorf("file's current sha256 is %s, expected %s; re-read the file before patching", hashutil.Sum(raw), expectedHash)}
	}
	original := string(raw)
	hasCRLF := strings.Contains(original, "\r\n")
	lf := strings.ReplaceAll(original, "\r\n", "\n")

	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Path: path, Err: err}
	}
	if len(patches) == 0 {
		if strings.TrimSpace(patchText) != "" {
			return nil, &Error{Kind: KindEmptyPatch, Path: path, Err: fmt.Errorf("patch has no hunks")}
		}
		return nil, &Error{Kind: KindEmptyPatch, Path: path, Err: fmt.Errorf("empty patch text")}
	}

	patched, applied := dmp.PatchApply(patches, lf)
	for _, ok := range applied {
		if !ok {
			return nil, &Error{Kind: KindContextMismatch, Path: path, Err: fmt.Errorf("one or more hunks did not match the current file content; re-read the file and regenerate the patch")}
		}
	}

	if dryRun {
		return &Result{NewContent: patched}, nil
	}

	if hasCRLF {
		patched = strings.ReplaceAll(patched, "\n", "\r\n")
	}

	if info.Mode().Perm()&0o200 == 0 {
		return nil, &Error{Kind: KindReadOnly, Path: path, Err: fmt.Errorf("file is not writable")}
	}

	if err := os.WriteFile(path, []byte(patched), info.Mode().Perm()); err != nil {
		return nil, &Error{Kind: KindReadOnly, Path: path, Err: err}
	}

	verify, err := os.ReadFile(path)
	if err != nil || string(verify) != patched {
		return nil, &Error{Kind: KindVerificationFailed, Path: path, Err: fmt.Errorf("post-write content does not match expected output")}
	}

	return &Result{ChangedFiles: []string{path}, NewContent: patched}, nil
}

// Create produces a patch transforming oldContent into newContent. It is
// the pure inverse of Apply: applying Create(path, old, new) to a file
// containing old reproduces new, modulo CRLF handling which Apply does
// separately.
func Create(path, oldContent, newContent string) string {
	diffs := dmp.DiffMain(oldContent, newContent, false)
	patches := dmp.PatchMake(oldContent, diffs)
	return dmp.PatchToText(patches)
}
