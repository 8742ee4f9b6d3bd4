// Package tools defines the contract between the turn loop and its tool
// collaborators. Tools are opaque units of work: the loop records their
// call and result events and never interprets their payloads.
package tools

import (
	"context"
	"encoding/json"

	"github.com/emberworks/ember/internal/proto"
)

type ToolInfo struct {
	Name        string
	Description string
	Parameters  map[string]any
	Required    []string
}

type ToolResponseType string

type (
	turnIDContextKey    string
	projectIDContextKey string
)

const (
	ToolResponseTypeText ToolResponseType = "text"

	TurnIDContextKey    turnIDContextKey    = "turn_id"
	ProjectIDContextKey projectIDContextKey = "project_id"
)

type ToolResponse struct {
	Type     ToolResponseType `json:"type"`
	Content  string           `json:"content"`
	Metadata string           `json:"metadata,omitempty"`
	IsError  bool             `json:"is_error"`
}

func NewTextResponse(content string) ToolResponse {
	return ToolResponse{
		Type:    ToolResponseTypeText,
		Content: content,
	}
}

func WithResponseMetadata(response ToolResponse, metadata any) ToolResponse {
	if metadata != nil {
		metadataBytes, err := json.Marshal(metadata)
		if err != nil {
			return response
		}
		response.Metadata = string(metadataBytes)
	}
	return response
}

func NewTextErrorResponse(content string) ToolResponse {
	return ToolResponse{
		Type:    ToolResponseTypeText,
		Content: content,
		IsError: true,
	}
}

type ToolCall = proto.ToolCall

type BaseTool interface {
	Info() ToolInfo
	Name() string
	Run(ctx context.Context, params ToolCall) (ToolResponse, error)
}

func GetContextValues(ctx context.Context) (string, string) {
	turnID := ctx.Value(TurnIDContextKey)
	projectID := ctx.Value(ProjectIDContextKey)
	if turnID == nil {
		return "", ""
	}
	if projectID == nil {
		return turnID.(string), ""
	}
	return turnID.(string), projectID.(string)
}
