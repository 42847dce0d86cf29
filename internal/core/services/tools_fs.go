package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeworks/anvil/internal/core/domain"
)

// resolveInside validates that the requested path stays within root.
func resolveInside(root, requestedPath string) (string, error) {
	cleanRoot := filepath.Clean(root)
	full := filepath.Clean(filepath.Join(cleanRoot, requestedPath))
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("security violation: path %q is outside the workspace", requestedPath)
	}
	return full, nil
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return v, nil
}

// NewWorkspaceTools builds the file primitives handed to the Agent
// Executor, jailed to one job's workspace root: read, write, list, delete.
func NewWorkspaceTools(root string) *domain.ToolRegistry {
	reg := domain.NewToolRegistry()
	// Registration only fails on name collisions, which would be a bug here.
	_ = reg.Register(newReadFileTool(root))
	_ = reg.Register(newWriteFileTool(root))
	_ = reg.Register(newListDirTool(root))
	_ = reg.Register(newDeleteFileTool(root))
	return reg
}

func newReadFileTool(root string) *domain.Tool {
	return &domain.Tool{
		Name:        "read_file",
		Description: "Reads the content of a file within the workspace.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to the file (e.g., 'src/main.go').",
				},
			},
			Required: []string{"path"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path, err := stringParam(params, "path")
			if err != nil {
				return nil, err
			}
			safePath, err := resolveInside(root, path)
			if err != nil {
				return nil, err
			}
			content, err := os.ReadFile(safePath)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file not found: %s", path)
				}
				return nil, fmt.Errorf("failed to read file: %w", err)
			}
			return string(content), nil
		},
	}
}

func newWriteFileTool(root string) *domain.Tool {
	return &domain.Tool{
		Name:        "write_file",
		Description: "Writes content to a file. Overwrites if it exists, creates parent directories if needed.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to the file.",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Text content to write.",
				},
			},
			Required: []string{"path", "content"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path, err := stringParam(params, "path")
			if err != nil {
				return nil, err
			}
			content, ok := params["content"].(string)
			if !ok {
				return nil, fmt.Errorf("content must be a string")
			}
			safePath, err := resolveInside(root, path)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(safePath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directories: %w", err)
			}
			if err := os.WriteFile(safePath, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write file: %w", err)
			}
			return fmt.Sprintf("Written %d bytes to %s", len(content), path), nil
		},
	}
}

func newListDirTool(root string) *domain.Tool {
	return &domain.Tool{
		Name:        "list_dir",
		Description: "Lists files and directories at a path within the workspace.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to list (default: workspace root).",
				},
			},
			Required: []string{},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path, _ := params["path"].(string)
			if path == "" {
				path = "."
			}
			safePath, err := resolveInside(root, path)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(safePath)
			if err != nil {
				return nil, fmt.Errorf("failed to list directory: %w", err)
			}
			var results []string
			for _, e := range entries {
				name := e.Name()
				if name == ".git" {
					continue
				}
				if e.IsDir() {
					name += "/"
				}
				results = append(results, name)
			}
			if len(results) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(results, "\n"), nil
		},
	}
}

func newDeleteFileTool(root string) *domain.Tool {
	return &domain.Tool{
		Name:        "delete_file",
		Description: "Deletes a file within the workspace.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to the file to delete.",
				},
			},
			Required: []string{"path"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			path, err := stringParam(params, "path")
			if err != nil {
				return nil, err
			}
			safePath, err := resolveInside(root, path)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(safePath)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file not found: %s", path)
				}
				return nil, fmt.Errorf("failed to stat file: %w", err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("refusing to delete directory: %s", path)
			}
			if err := os.Remove(safePath); err != nil {
				return nil, fmt.Errorf("failed to delete file: %w", err)
			}
			return fmt.Sprintf("Deleted %s", path), nil
		},
	}
}
