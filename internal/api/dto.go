package api

import (
	"github.com/samcharles93/minijarvis/internal/action"
	"github.com/samcharles93/minijarvis/internal/bridge"
)

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// CreateSessionRequest mirrors the init call. Omitted knobs take the
// server defaults.
type CreateSessionRequest struct {
	Model       string   `json:"model"`
	ContextSize *int     `json:"context_size,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
}

type CreateSessionResponse struct {
	Object string `json:"object"`
	Handle int64  `json:"handle"`
	Model  string `json:"model"`
}

type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

type Usage struct {
	PromptTokens int    `json:"prompt_tokens"`
	OutputTokens int    `json:"output_tokens"`
	DurationMS   int64  `json:"duration_ms"`
	StopReason   string `json:"stop_reason"`
}

// Generation is one stored generate result.
type Generation struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	Handle    int64  `json:"handle"`
	Prompt    string `json:"prompt"`
	Text      string `json:"text"`
	Usage     Usage  `json:"usage"`
}

type SessionList struct {
	Object string               `json:"object"`
	Data   []bridge.SessionInfo `json:"data"`
}

type HandleResult struct {
	Object  string `json:"object"`
	Handle  int64  `json:"handle"`
	Reset   bool   `json:"reset,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// ActionRequest asks for the next UI step. With no handle the keyword
// planner answers.
type ActionRequest struct {
	Handle      int64              `json:"handle,omitempty"`
	Instruction string             `json:"instruction"`
	UI          action.UIStructure `json:"ui"`
	Grounded    bool               `json:"grounded,omitempty"`
}

type ActionResponse struct {
	action.Action
	Source   string `json:"source"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Model struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Path   string `json:"path"`
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
