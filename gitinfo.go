package main

import (
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"

	"github.com/mopemope/doge-code/internal/convo"
)

// findProjectRoot walks upward from start looking for a .git directory or
// file, falling back to start itself when none is found.
func findProjectRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// detectRepoInfo builds a convo.RepoInfo for the current working
// directory: detect a linked worktree by checking whether .git is a
// file rather than a directory, then read the current branch via
// go-git.
func detectRepoInfo(cwd string) convo.RepoInfo {
	gitPath := filepath.Join(cwd, ".git")
	info, err := os.Stat(gitPath)
	isWorktree := err == nil && !info.IsDir()

	branch := ""
	repo, err := gogit.PlainOpenWithOptions(cwd, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err == nil {
		if ref, err := repo.Head(); err == nil {
			if ref.Name().IsBranch() {
				branch = ref.Name().Short()
			} else {
				branch = ref.Hash().String()[:7]
			}
		}
	}

	return convo.RepoInfo{Branch: branch, IsWorktree: isWorktree}
}
