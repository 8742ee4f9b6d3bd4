package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberworks/ember/internal/projectstore"
)

func toolCtx(projectID string) context.Context {
	ctx := context.WithValue(context.Background(), TurnIDContextKey, "turn-1")
	return context.WithValue(ctx, ProjectIDContextKey, projectID)
}

func TestWriteThenReadFile(t *testing.T) {
	t.Parallel()
	files := projectstore.NewMemoryStore()
	ctx := toolCtx("proj-1")

	write := NewWriteFileTool(files)
	rsp, err := write.Run(ctx, ToolCall{
		ID:    "call-1",
		Name:  "write_file",
		Input: `{"path":"main.go","content":"package main"}`,
	})
	require.NoError(t, err)
	assert.False(t, rsp.IsError)

	read := NewReadFileTool(files)
	rsp, err = read.Run(ctx, ToolCall{
		ID:    "call-2",
		Name:  "read_file",
		Input: `{"path":"main.go"}`,
	})
	require.NoError(t, err)
	assert.False(t, rsp.IsError)
	assert.Equal(t, "package main", rsp.Content)
}

func TestReadMissingFile(t *testing.T) {
	t.Parallel()
	read := NewReadFileTool(projectstore.NewMemoryStore())

	rsp, err := read.Run(toolCtx("proj-1"), ToolCall{Input: `{"path":"nope.go"}`})
	require.NoError(t, err)
	assert.True(t, rsp.IsError)
	assert.Contains(t, rsp.Content, "not found")
}

func TestFilesAreScopedByProject(t *testing.T) {
	t.Parallel()
	files := projectstore.NewMemoryStore()
	write := NewWriteFileTool(files)
	read := NewReadFileTool(files)

	_, err := write.Run(toolCtx("proj-1"), ToolCall{Input: `{"path":"a.go","content":"x"}`})
	require.NoError(t, err)

	rsp, err := read.Run(toolCtx("proj-2"), ToolCall{Input: `{"path":"a.go"}`})
	require.NoError(t, err)
	assert.True(t, rsp.IsError)
}

func TestListFiles(t *testing.T) {
	t.Parallel()
	files := projectstore.NewMemoryStore()
	files.Set("proj-1", "b.go", "2")
	files.Set("proj-1", "a.go", "1")

	list := NewListFilesTool(files)
	rsp, err := list.Run(toolCtx("proj-1"), ToolCall{})
	require.NoError(t, err)
	assert.Equal(t, "a.go\nb.go", rsp.Content)
}

func TestInvalidParams(t *testing.T) {
	t.Parallel()
	write := NewWriteFileTool(projectstore.NewMemoryStore())

	rsp, err := write.Run(toolCtx("proj-1"), ToolCall{Input: `{`})
	require.NoError(t, err)
	assert.True(t, rsp.IsError)
}
