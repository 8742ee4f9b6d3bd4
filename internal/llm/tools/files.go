package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/emberworks/ember/internal/projectstore"
)

// File tools operate on the per-project virtual file store. Paths are plain
// keys; there is no directory traversal to guard against.

type ReadFileParams struct {
	Path string `json:"path"`
}

type WriteFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type readFileTool struct {
	files projectstore.Store
}

func NewReadFileTool(files projectstore.Store) BaseTool {
	return &readFileTool{files: files}
}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "read_file",
		Description: "Read a file from the project.",
		Parameters: map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Project-relative file path",
			},
		},
		Required: []string{"path"},
	}
}

func (t *readFileTool) Run(ctx context.Context, call ToolCall) (ToolResponse, error) {
	var params ReadFileParams
	if err := json.Unmarshal([]byte(call.Input), &params); err != nil {
		return NewTextErrorResponse(fmt.Sprintf("invalid parameters: %s", err)), nil
	}
	if params.Path == "" {
		return NewTextErrorResponse("path is required"), nil
	}

	_, projectID := GetContextValues(ctx)
	content, ok := t.files.Get(projectID, params.Path)
	if !ok {
		return NewTextErrorResponse(fmt.Sprintf("file not found: %s", params.Path)), nil
	}
	return NewTextResponse(content), nil
}

type writeFileTool struct {
	files projectstore.Store
}

func NewWriteFileTool(files projectstore.Store) BaseTool {
	return &writeFileTool{files: files}
}

func (t *writeFileTool) Name() string { return "write_file" }

func (t *writeFileTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "write_file",
		Description: "Create or overwrite a file in the project.",
		Parameters: map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Project-relative file path",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full file content",
			},
		},
		Required: []string{"path", "content"},
	}
}

func (t *writeFileTool) Run(ctx context.Context, call ToolCall) (ToolResponse, error) {
	var params WriteFileParams
	if err := json.Unmarshal([]byte(call.Input), &params); err != nil {
		return NewTextErrorResponse(fmt.Sprintf("invalid parameters: %s", err)), nil
	}
	if params.Path == "" {
		return NewTextErrorResponse("path is required"), nil
	}

	_, projectID := GetContextValues(ctx)
	t.files.Set(projectID, params.Path, params.Content)
	return NewTextResponse(fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.Path)), nil
}

type listFilesTool struct {
	files projectstore.Store
}

func NewListFilesTool(files projectstore.Store) BaseTool {
	return &listFilesTool{files: files}
}

func (t *listFilesTool) Name() string { return "list_files" }

func (t *listFilesTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "list_files",
		Description: "List all files in the project.",
		Parameters:  map[string]any{},
	}
}

func (t *listFilesTool) Run(ctx context.Context, _ ToolCall) (ToolResponse, error) {
	_, projectID := GetContextValues(ctx)
	snapshot := t.files.Snapshot(projectID)
	if len(snapshot) == 0 {
		return NewTextResponse("no files in project"), nil
	}

	paths := make([]string, 0, len(snapshot))
	for path := range snapshot {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return NewTextResponse(strings.Join(paths, "\n")), nil
}

// ProjectTools returns the default toolset backed by the given store.
func ProjectTools(files projectstore.Store) []BaseTool {
	return []BaseTool{
		NewReadFileTool(files),
		NewWriteFileTool(files),
		NewListFilesTool(files),
	}
}
