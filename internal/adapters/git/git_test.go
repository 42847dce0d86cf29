package git

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/core/domain"
)

func newTestVCS(t *testing.T) (*VersionControl, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	return NewVersionControl(slog.New(slog.NewTextHandler(io.Discard, nil))), t.TempDir()
}

func writeFile(t *testing.T, workspace, name, content string) {
	t.Helper()
	path := filepath.Join(workspace, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCommit_InitializesRepository(t *testing.T) {
	vcs, ws := newTestVCS(t)
	ctx := context.Background()

	writeFile(t, ws, "main.go", "package main\n")
	id, err := vcs.Commit(ctx, ws, "initial snapshot")
	require.NoError(t, err)
	assert.Len(t, id, 40)
	assert.DirExists(t, filepath.Join(ws, ".git"))
}

func TestCommit_AllowsEmptySnapshot(t *testing.T) {
	vcs, ws := newTestVCS(t)
	ctx := context.Background()

	first, err := vcs.Commit(ctx, ws, "before")
	require.NoError(t, err)
	second, err := vcs.Commit(ctx, ws, "after")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	changes, err := vcs.Diff(ctx, ws, first, second)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDiff_ClassifiesChanges(t *testing.T) {
	vcs, ws := newTestVCS(t)
	ctx := context.Background()

	writeFile(t, ws, "kept.go", "package kept\n\nfunc A() {}\nfunc B() {}\n")
	writeFile(t, ws, "doomed.go", "package doomed\n")
	before, err := vcs.Commit(ctx, ws, "before")
	require.NoError(t, err)

	writeFile(t, ws, "kept.go", "package kept\n\nfunc A() {}\nfunc C() {}\nfunc D() {}\n")
	writeFile(t, ws, "sub/fresh.go", "package sub\n\nfunc New() {}\n")
	require.NoError(t, os.Remove(filepath.Join(ws, "doomed.go")))
	after, err := vcs.Commit(ctx, ws, "after")
	require.NoError(t, err)

	changes, err := vcs.Diff(ctx, ws, before, after)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	byPath := make(map[string]domain.FileChange, len(changes))
	for _, fc := range changes {
		byPath[fc.Path] = fc
	}

	modified := byPath["kept.go"]
	assert.Equal(t, domain.ChangeModify, modified.ChangeType)
	assert.Equal(t, 2, modified.Insertions)
	assert.Equal(t, 1, modified.Deletions)

	created := byPath["sub/fresh.go"]
	assert.Equal(t, domain.ChangeWrite, created.ChangeType)
	assert.Equal(t, 3, created.Insertions)
	assert.Zero(t, created.Deletions)

	deleted := byPath["doomed.go"]
	assert.Equal(t, domain.ChangeDelete, deleted.ChangeType)
	assert.Zero(t, deleted.Insertions)
	assert.Equal(t, 1, deleted.Deletions)
}

func TestDiff_UnknownCommit(t *testing.T) {
	vcs, ws := newTestVCS(t)
	ctx := context.Background()

	writeFile(t, ws, "main.go", "package main\n")
	_, err := vcs.Commit(ctx, ws, "snapshot")
	require.NoError(t, err)

	_, err = vcs.Diff(ctx, ws, "0000000000000000000000000000000000000000", "HEAD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git diff")
}
