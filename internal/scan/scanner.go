// Package scan discovers git repositories under a root directory and
// collects per-repository metadata through the git and gh command-line
// tools.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pmacl/vspilot/internal/logging"
	"github.com/pmacl/vspilot/internal/model"
)

// Scanner produces the repository map for a run.
type Scanner interface {
	Scan(ctx context.Context, reposRoot string) (map[string]model.RepoInfo, error)
}

// runner executes a command in a directory and returns its output.
// Swapped out in tests.
type runner func(ctx context.Context, dir, name string, args ...string) (string, error)

// GitScanner inspects repositories with git, and counts open PRs with gh
// when available. PR counting is best-effort: a missing or failing gh
// yields zero, never an error.
type GitScanner struct {
	run    runner
	logger *logging.Logger
}

func NewGitScanner(logger *logging.Logger) *GitScanner {
	return &GitScanner{run: runCommand, logger: logger}
}

// Scan walks reposRoot and returns one RepoInfo per directory containing
// a .git directory.
func (s *GitScanner) Scan(ctx context.Context, reposRoot string) (map[string]model.RepoInfo, error) {
	entries, err := os.ReadDir(reposRoot)
	if err != nil {
		return nil, fmt.Errorf("read repos root: %w", err)
	}

	repos := make(map[string]model.RepoInfo)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(reposRoot, entry.Name())
		if info, err := os.Stat(filepath.Join(path, ".git")); err != nil || !info.IsDir() {
			continue
		}

		repos[entry.Name()] = model.RepoInfo{
			Path:          path,
			DefaultBranch: s.defaultBranch(ctx, path),
			Branches:      s.branches(ctx, path),
			OpenPRs:       s.openPRs(ctx, path),
			LastScan:      time.Now().Unix(),
		}
	}
	return repos, nil
}

func (s *GitScanner) branches(ctx context.Context, dir string) []string {
	out, err := s.run(ctx, dir, "git", "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		s.logger.Warnf("list branches in %s: %v", dir, err)
		return nil
	}
	var branches []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches
}

func (s *GitScanner) defaultBranch(ctx context.Context, dir string) string {
	out, err := s.run(ctx, dir, "git", "symbolic-ref", "--short", "refs/remotes/origin/HEAD")
	if err != nil {
		return "main"
	}
	branch := strings.TrimPrefix(strings.TrimSpace(out), "origin/")
	if branch == "" {
		return "main"
	}
	return branch
}

func (s *GitScanner) openPRs(ctx context.Context, dir string) int {
	out, err := s.run(ctx, dir, "gh", "pr", "list", "--json", "state")
	if err != nil {
		return 0
	}
	var prs []struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return 0
	}
	count := 0
	for _, pr := range prs {
		if pr.State == "OPEN" {
			count++
		}
	}
	return count
}

func runCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
