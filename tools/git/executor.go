// Package git drives the git CLI for branch materialization.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotRepository is returned when the executor root is not inside a git
// work tree.
var ErrNotRepository = errors.New("not a git repository")

// Executor runs git commands in one repository.
type Executor struct {
	repoRoot string
}

// NewExecutor creates a new git executor with the given repository root
func NewExecutor(repoRoot string) *Executor {
	return &Executor{repoRoot: repoRoot}
}

// Root returns the repository root.
func (e *Executor) Root() string {
	return e.repoRoot
}

// Checkout switches the work tree to ref. With force, local modifications
// are discarded.
func (e *Executor) Checkout(ctx context.Context, ref string, force bool) error {
	if err := e.requireRepo(ctx); err != nil {
		return err
	}
	if ref == "" {
		return fmt.Errorf("checkout: ref is required")
	}

	args := []string{"checkout"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, ref, "--")

	if _, err := e.runGit(ctx, args...); err != nil {
		return fmt.Errorf("checkout %s: %w", ref, err)
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (e *Executor) DeleteBranch(ctx context.Context, name string) error {
	if err := e.requireRepo(ctx); err != nil {
		return err
	}
	if !e.BranchExists(ctx, name) {
		return fmt.Errorf("delete branch %s: branch does not exist", name)
	}
	if _, err := e.runGit(ctx, "branch", "-D", name); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	return nil
}

// CreateBranch creates name at HEAD without switching to it.
func (e *Executor) CreateBranch(ctx context.Context, name string) error {
	if err := e.requireRepo(ctx); err != nil {
		return err
	}
	if err := e.ValidateBranchName(ctx, name); err != nil {
		return err
	}
	if _, err := e.runGit(ctx, "branch", name); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (e *Executor) CurrentBranch(ctx context.Context) (string, error) {
	if err := e.requireRepo(ctx); err != nil {
		return "", err
	}
	out, err := e.runGit(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Status returns the porcelain status lines of the work tree. An empty
// result means the tree is clean.
func (e *Executor) Status(ctx context.Context) ([]string, error) {
	if err := e.requireRepo(ctx); err != nil {
		return nil, err
	}
	out, err := e.runGit(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// BranchExists reports whether a local branch exists.
func (e *Executor) BranchExists(ctx context.Context, name string) bool {
	_, err := e.runGit(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// ValidateBranchName checks name against git's ref format rules.
func (e *Executor) ValidateBranchName(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("branch name is required")
	}
	if _, err := e.runGit(ctx, "check-ref-format", "--branch", name); err != nil {
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

func (e *Executor) requireRepo(ctx context.Context) error {
	if !e.isGitRepo(ctx) {
		return fmt.Errorf("%w: %s", ErrNotRepository, e.repoRoot)
	}
	return nil
}

func (e *Executor) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = e.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

func (e *Executor) isGitRepo(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = e.repoRoot
	return cmd.Run() == nil
}
