package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WorkspaceManager lays out per-job workspace directories under a single
// base dir: baseDir/jobs/{id}.
type WorkspaceManager struct {
	baseDir string
}

func NewWorkspaceManager(baseDir string) *WorkspaceManager {
	if baseDir == "" {
		baseDir = os.Getenv("ANVIL_WORKSPACE_DIR")
	}
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "anvil-workspace")
	}
	return &WorkspaceManager{baseDir: baseDir}
}

// Prepare creates the workspace directory for a job and returns its path.
func (m *WorkspaceManager) Prepare(id string) (string, error) {
	path := m.Path(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return path, nil
}

// Path returns the workspace path for a job without creating it.
func (m *WorkspaceManager) Path(id string) string {
	return filepath.Join(m.baseDir, "jobs", id)
}

// Cleanup removes a job's workspace directory.
func (m *WorkspaceManager) Cleanup(id string) error {
	return os.RemoveAll(m.Path(id))
}

// Listing walks the workspace and returns a sorted relative-path listing,
// used as project-wide context for the executor. The .git directory is the
// snapshot mechanism's, not the project's, and is skipped.
func (m *WorkspaceManager) Listing(root string) (string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to list workspace: %w", err)
	}
	sort.Strings(paths)
	return strings.Join(paths, "\n"), nil
}
