// Package platforms manages the git checkout of qibolab platform
// configurations and answers inventory questions about it.
package platforms

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/qiboteam/qdashboard/internal/model"
)

// RepoURL is the upstream platform configuration repository.
const RepoURL = "https://github.com/qiboteam/qibolab_platforms_qrc.git"

// ChangeHandling decides what Switch does with a dirty working tree.
type ChangeHandling string

const (
	FailOnChanges  ChangeHandling = "fail"
	StashOnChanges ChangeHandling = "stash"
)

// ErrLocalChanges is returned by Switch when the tree is dirty and the
// caller asked to fail in that case.
var ErrLocalChanges = errors.New("local changes detected")

// ErrNotRepo is returned when the platforms directory is not a git
// checkout.
var ErrNotRepo = errors.New("not a git repository")

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Manager wraps git operations on the platforms checkout. All commands
// run with -C so the manager never changes the process directory.
type Manager struct {
	dir string
	run Runner
	log *zap.SugaredLogger
}

func NewManager(dir string, run Runner, log *zap.SugaredLogger) *Manager {
	return &Manager{dir: dir, run: run, log: log}
}

func (m *Manager) Dir() string { return m.dir }

func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	return m.run.Run(ctx, "git", append([]string{"-C", m.dir}, args...)...)
}

// IsRepo reports whether the platforms directory is a git checkout.
func (m *Manager) IsRepo() bool {
	info, err := os.Stat(filepath.Join(m.dir, ".git"))

	return err == nil && info.IsDir()
}

// Ensure makes the platforms checkout available, cloning the upstream
// repository when the directory is missing or empty.
func (m *Manager) Ensure(ctx context.Context) error {
	entries, err := os.ReadDir(m.dir)
	if err == nil && len(entries) > 0 {
		return nil
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create platforms dir: %w", err)
	}

	if _, err := m.run.Run(ctx, "git", "--version"); err != nil {
		return fmt.Errorf("git is not available: %w", err)
	}

	if m.log != nil {
		m.log.Infow("cloning platforms repository", "url", RepoURL, "dir", m.dir)
	}
	if _, err := m.run.Run(ctx, "git", "clone", RepoURL, m.dir); err != nil {
		return fmt.Errorf("clone platforms repository: %w", err)
	}

	return nil
}

// Update pulls the latest changes from the upstream main branch.
func (m *Manager) Update(ctx context.Context) error {
	if !m.IsRepo() {
		return ErrNotRepo
	}
	if _, err := m.git(ctx, "pull", "origin", "main"); err != nil {
		return fmt.Errorf("pull platforms repository: %w", err)
	}

	return nil
}

// CurrentBranch returns the checked out branch name.
func (m *Manager) CurrentBranch(ctx context.Context) (string, error) {
	out, err := m.git(ctx, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}

	return out, nil
}

// Branches fetches from all remotes and lists current, local and remote
// branches. The remote HEAD pointer is dropped from the remote list.
func (m *Manager) Branches(ctx context.Context) (model.Branches, error) {
	var b model.Branches
	if !m.IsRepo() {
		return b, ErrNotRepo
	}

	current, err := m.CurrentBranch(ctx)
	if err != nil {
		return b, err
	}
	b.Current = current

	local, err := m.git(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return b, fmt.Errorf("list local branches: %w", err)
	}
	b.Local = splitLines(local)

	if _, err := m.git(ctx, "fetch", "--all", "--prune"); err != nil && m.log != nil {
		m.log.Warnw("fetch before branch listing failed", "error", err)
	}

	remote, err := m.git(ctx, "branch", "-r", "--format=%(refname:short)")
	if err != nil {
		return b, fmt.Errorf("list remote branches: %w", err)
	}
	for _, name := range splitLines(remote) {
		if strings.HasSuffix(name, "/HEAD") {
			continue
		}
		b.Remote = append(b.Remote, name)
	}

	return b, nil
}

// HasChanges reports whether the working tree is dirty, including
// untracked files.
func (m *Manager) HasChanges(ctx context.Context) (bool, error) {
	out, err := m.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}

	return out != "", nil
}

// Status summarizes the current branch against its upstream. Ahead and
// behind stay zero when no upstream is configured.
func (m *Manager) Status(ctx context.Context) (model.RepoStatus, error) {
	var st model.RepoStatus
	if !m.IsRepo() {
		return st, ErrNotRepo
	}

	branch, err := m.CurrentBranch(ctx)
	if err != nil {
		return st, err
	}
	st.Branch = branch

	commit, err := m.git(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return st, fmt.Errorf("current commit: %w", err)
	}
	st.Commit = commit

	msg, err := m.git(ctx, "log", "-1", "--pretty=format:%s")
	if err != nil {
		return st, fmt.Errorf("commit message: %w", err)
	}
	st.Message = msg

	dirty, err := m.HasChanges(ctx)
	if err != nil {
		return st, err
	}
	st.Clean = !dirty

	if _, err := m.git(ctx, "fetch"); err != nil && m.log != nil {
		m.log.Debugw("fetch before ahead/behind failed", "error", err)
	}

	upstream, err := m.git(ctx, "rev-parse", "--abbrev-ref", branch+"@{upstream}")
	if err != nil || upstream == "" {
		return st, nil
	}

	counts, err := m.git(ctx, "rev-list", "--left-right", "--count", upstream+"..."+branch)
	if err != nil {
		return st, nil
	}
	fields := strings.Fields(counts)
	if len(fields) == 2 {
		st.Behind, _ = strconv.Atoi(fields[0])
		st.Ahead, _ = strconv.Atoi(fields[1])
	}

	return st, nil
}

// Stash saves the dirty tree, untracked files included, and returns the
// created stash name.
func (m *Manager) Stash(ctx context.Context, message string) (string, error) {
	dirty, err := m.HasChanges(ctx)
	if err != nil {
		return "", err
	}
	if !dirty {
		return "", errors.New("no changes to stash")
	}

	if _, err := m.git(ctx, "stash", "push", "-u", "-m", message); err != nil {
		return "", fmt.Errorf("stash push: %w", err)
	}

	out, err := m.git(ctx, "stash", "list", "--oneline", "-1")
	if err != nil || out == "" {
		return "stash@{0}", nil
	}
	name, _, _ := strings.Cut(out, ":")

	return strings.TrimSpace(name), nil
}

// PopStash applies and drops the newest stash. A pop that exits non-zero
// is reported as a conflict, not a failure: git keeps the stash around
// in that case so nothing is lost.
func (m *Manager) PopStash(ctx context.Context) (name string, conflicts bool, err error) {
	list, err := m.git(ctx, "stash", "list")
	if err != nil {
		return "", false, fmt.Errorf("stash list: %w", err)
	}
	if list == "" {
		return "", false, errors.New("no stashes available")
	}
	name, _, _ = strings.Cut(splitLines(list)[0], ":")

	if _, err := m.git(ctx, "stash", "pop"); err != nil {
		if m.log != nil {
			m.log.Warnw("stash pop had conflicts", "stash", name, "error", err)
		}

		return name, true, nil
	}

	return name, false, nil
}

// StashList returns the stashes of the checkout, newest first.
func (m *Manager) StashList(ctx context.Context) ([]model.Stash, error) {
	if !m.IsRepo() {
		return nil, ErrNotRepo
	}

	out, err := m.git(ctx, "stash", "list", "--pretty=format:%gd: %gs (%cr)")
	if err != nil {
		return nil, fmt.Errorf("stash list: %w", err)
	}

	stashes := []model.Stash{}
	for _, line := range splitLines(out) {
		name, rest, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		s := model.Stash{Name: name, Message: rest}
		if i := strings.LastIndex(rest, " ("); i >= 0 && strings.HasSuffix(rest, ")") {
			s.Message = rest[:i]
			s.Date = rest[i+2 : len(rest)-1]
		}
		stashes = append(stashes, s)
	}

	return stashes, nil
}

// Discard drops all uncommitted changes, untracked files included, and
// returns the paths that were discarded.
func (m *Manager) Discard(ctx context.Context) ([]string, error) {
	if !m.IsRepo() {
		return nil, ErrNotRepo
	}

	out, err := m.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	discarded := []string{}
	for _, line := range splitLines(out) {
		if _, path, found := strings.Cut(line, " "); found {
			discarded = append(discarded, strings.TrimSpace(path))
		}
	}
	if len(discarded) == 0 {
		return nil, errors.New("no changes to discard")
	}

	if _, err := m.git(ctx, "reset", "--hard", "HEAD"); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	if _, err := m.git(ctx, "clean", "-fd"); err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}

	return discarded, nil
}

// Switch checks out the given branch. A dirty tree either aborts the
// switch or is stashed and re-applied afterwards, per handling. Branches
// only present on origin get a local tracking branch.
func (m *Manager) Switch(ctx context.Context, branch string, handling ChangeHandling) (model.SwitchResult, error) {
	res := model.SwitchResult{Branch: branch}
	if !m.IsRepo() {
		return res, ErrNotRepo
	}

	if _, err := m.git(ctx, "fetch", "--all"); err != nil && m.log != nil {
		m.log.Warnw("fetch before switch failed", "error", err)
	}

	dirty, err := m.HasChanges(ctx)
	if err != nil {
		return res, err
	}
	res.HadChanges = dirty

	if dirty {
		switch handling {
		case StashOnChanges:
			name, err := m.Stash(ctx, "Auto-stash before switching to "+branch)
			if err != nil {
				return res, fmt.Errorf("stash before switch: %w", err)
			}
			res.ChangesHandled = "stashed"
			res.StashCreated = name
		default:
			return res, ErrLocalChanges
		}
	}

	local, _ := m.git(ctx, "branch", "--list", branch)
	remote, _ := m.git(ctx, "branch", "-r", "--list", "origin/"+branch)

	switch {
	case local != "":
		if _, err := m.git(ctx, "checkout", branch); err != nil {
			return res, fmt.Errorf("checkout %s: %w", branch, err)
		}
	case remote != "":
		if _, err := m.git(ctx, "checkout", "-b", branch, "origin/"+branch); err != nil {
			return res, fmt.Errorf("checkout origin/%s: %w", branch, err)
		}
	default:
		return res, fmt.Errorf("branch %q not found locally or remotely", branch)
	}

	// Pull may fail when the branch has no upstream. Not fatal.
	if _, err := m.git(ctx, "pull"); err != nil && m.log != nil {
		m.log.Debugw("pull after switch failed", "branch", branch, "error", err)
	}

	if res.ChangesHandled == "stashed" {
		name, conflicts, err := m.PopStash(ctx)
		if err == nil {
			res.StashApplied = name
			res.StashConflicts = conflicts
		} else if m.log != nil {
			m.log.Warnw("could not re-apply stash after switch", "branch", branch, "error", err)
		}
	}

	return res, nil
}

// Commit stages everything and commits it, returning the short hash.
func (m *Manager) Commit(ctx context.Context, message string) (string, error) {
	if !m.IsRepo() {
		return "", ErrNotRepo
	}

	dirty, err := m.HasChanges(ctx)
	if err != nil {
		return "", err
	}
	if !dirty {
		return "", errors.New("no changes to commit")
	}

	if _, err := m.git(ctx, "add", "."); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	if _, err := m.git(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	hash, err := m.git(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("new commit hash: %w", err)
	}

	return hash, nil
}

// Push publishes the current branch to origin.
func (m *Manager) Push(ctx context.Context) error {
	if !m.IsRepo() {
		return ErrNotRepo
	}

	branch, err := m.CurrentBranch(ctx)
	if err != nil {
		return err
	}

	ahead, err := m.git(ctx, "rev-list", "--count", "origin/"+branch+"..HEAD")
	if err == nil && ahead == "0" {
		return errors.New("no commits to push")
	}

	if _, err := m.git(ctx, "push", "origin", branch); err != nil {
		return fmt.Errorf("push origin/%s: %w", branch, err)
	}

	return nil
}

// RemoteURL returns the origin URL, empty when unknown.
func (m *Manager) RemoteURL(ctx context.Context) string {
	out, err := m.git(ctx, "remote", "get-url", "origin")
	if err != nil {
		return ""
	}

	return out
}

func splitLines(out string) []string {
	lines := []string{}
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}
