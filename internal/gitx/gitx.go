// Package gitx provides the git collaborator for the workflow engine:
// creating and checking out the working branch for a run.
package gitx

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// OpError is a failed git operation, surfaced to the engine as a run
// error.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("git %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Repo wraps a git repository for branch management.
type Repo struct {
	repo    *git.Repository
	workDir string
	prefix  string
}

// NewRepo opens the repository containing workDir. prefix is prepended
// to generated branch names (default "dirigent/").
func NewRepo(workDir, prefix string) (*Repo, error) {
	r, err := git.PlainOpenWithOptions(workDir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, &OpError{Op: "open", Err: fmt.Errorf("%s: %w", workDir, err)}
	}
	if prefix == "" {
		prefix = "dirigent/"
	}
	return &Repo{repo: r, workDir: workDir, prefix: prefix}, nil
}

// IsInsideRepo checks if the given directory is inside a git repository,
// walking up parent directories to find a .git folder.
func IsInsideRepo(dir string) bool {
	_, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	return err == nil
}

// CurrentBranch returns the name of the current branch.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", &OpError{Op: "head", Err: err}
	}
	return head.Name().Short(), nil
}

// CreateAndCheckoutBranch creates a fresh, timestamped work branch and
// switches to it, returning the branch name. If the generated name
// somehow exists already it is checked out instead.
func (r *Repo) CreateAndCheckoutBranch(slug string) (string, error) {
	branch := r.prefix + sanitizeBranchName(slug) + "-" + time.Now().Format("20060102-150405")

	exists, err := r.branchExists(branch)
	if err != nil {
		return "", err
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return "", &OpError{Op: "worktree", Err: err}
	}

	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: !exists,
	})
	if err != nil {
		return "", &OpError{Op: "checkout", Err: fmt.Errorf("branch %s: %w", branch, err)}
	}
	return branch, nil
}

func (r *Repo) branchExists(branch string) (bool, error) {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, &OpError{Op: "reference", Err: fmt.Errorf("branch %s: %w", branch, err)}
	}

	_, err = r.repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, &OpError{Op: "reference", Err: fmt.Errorf("remote branch %s: %w", branch, err)}
	}

	return false, nil
}

// sanitizeBranchName makes a string safe for use as a git branch name.
func sanitizeBranchName(s string) string {
	// Git branch naming rules:
	// - Cannot contain: space, ~, ^, :, ?, *, [, \
	// - Cannot start/end with / or .
	// - Cannot contain consecutive slashes or end with .lock

	invalidChars := regexp.MustCompile(`[~^:?*\[\]\\@{}\s]+`)
	s = invalidChars.ReplaceAllString(s, "-")

	s = regexp.MustCompile(`-+`).ReplaceAllString(s, "-")

	s = strings.Trim(s, "-.")

	if s == "" {
		s = "task"
	}

	return s
}
