// Package git snapshots workspaces with the system git binary and
// classifies the changes between snapshots.
package git

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/forgeworks/anvil/internal/core/domain"
	"github.com/forgeworks/anvil/internal/core/ports"
)

type VersionControl struct {
	logger *slog.Logger
}

var _ ports.VersionControl = (*VersionControl)(nil)

func NewVersionControl(logger *slog.Logger) *VersionControl {
	return &VersionControl{logger: logger}
}

func (v *VersionControl) git(ctx context.Context, workspace string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workspace
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=anvil",
		"GIT_AUTHOR_EMAIL=anvil@localhost",
		"GIT_COMMITTER_NAME=anvil",
		"GIT_COMMITTER_EMAIL=anvil@localhost",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (v *VersionControl) ensureRepo(ctx context.Context, workspace string) error {
	if _, err := os.Stat(filepath.Join(workspace, ".git")); err == nil {
		return nil
	}
	if _, err := v.git(ctx, workspace, "init", "-q"); err != nil {
		return err
	}
	v.logger.Debug("initialized workspace repository", "workspace", workspace)
	return nil
}

// Commit stages everything and snapshots the workspace, returning the
// commit id. An unchanged workspace still produces a snapshot so that
// before/after pairs always exist.
func (v *VersionControl) Commit(ctx context.Context, workspace, message string) (string, error) {
	if err := v.ensureRepo(ctx, workspace); err != nil {
		return "", err
	}
	if _, err := v.git(ctx, workspace, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := v.git(ctx, workspace, "commit", "-q", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	return v.git(ctx, workspace, "rev-parse", "HEAD")
}

// Diff classifies every path touched between two snapshots. Insertions
// and deletions are counted from the unified diff hunks.
func (v *VersionControl) Diff(ctx context.Context, workspace, commitA, commitB string) ([]domain.FileChange, error) {
	out, err := v.git(ctx, workspace, "diff", commitA, commitB)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, nil
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(out)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}

	changes := make([]domain.FileChange, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		changes = append(changes, classify(fd))
	}
	return changes, nil
}

const devNull = "/dev/null"

// classify maps one file diff onto a change record. git marks creations
// and deletions by diffing against /dev/null.
func classify(fd *diff.FileDiff) domain.FileChange {
	origName := strings.TrimPrefix(fd.OrigName, "a/")
	newName := strings.TrimPrefix(fd.NewName, "b/")

	fc := domain.FileChange{Path: newName}
	switch {
	case fd.OrigName == devNull:
		fc.ChangeType = domain.ChangeWrite
	case fd.NewName == devNull:
		fc.ChangeType = domain.ChangeDelete
		fc.Path = origName
	default:
		fc.ChangeType = domain.ChangeModify
	}

	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				fc.Insertions++
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				fc.Deletions++
			}
		}
	}
	return fc
}
