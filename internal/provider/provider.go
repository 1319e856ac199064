// Package provider talks to the hosted assistant service.
package provider

import (
	"context"
	"errors"
	"fmt"

	"docchat/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// Provider is the set of remote operations the conversation service depends on.
// Implementations hold no per-session state and are safe for concurrent use.
type Provider interface {
	RetrieveAssistant(ctx context.Context, assistantID string) (Assistant, error)
	// CreateAssistant creates an assistant with the file search tool enabled over fileIDs.
	CreateAssistant(ctx context.Context, spec AssistantSpec) (Assistant, error)
	// UpdateAssistantFiles adds fileIDs to the assistant's search scope and returns the
	// vector store that now holds them.
	UpdateAssistantFiles(ctx context.Context, assistantID string, fileIDs []string) (string, error)
	UploadFile(ctx context.Context, name string, data []byte) (File, error)
	DeleteFile(ctx context.Context, fileID string) error
	DeleteAssistant(ctx context.Context, assistantID string) error
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, content string) (string, error)
	StartRun(ctx context.Context, threadID, assistantID string) (Run, error)
	RunStatus(ctx context.Context, threadID, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	// ListMessages returns up to limit messages, most recent first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}

type AssistantSpec struct {
	Name         string
	Model        string
	Instructions string
	FileIDs      []string
}

type Assistant struct {
	ID            string
	Name          string
	Model         string
	Instructions  string
	VectorStoreID string
}

type File struct {
	ID   string
	Name string
	Size int64
}

type Run struct {
	ID        string
	Status    models.RunStatus
	LastError string
}

type Message struct {
	ID      string
	Role    models.Role
	Content string
}

// Error is returned for every failed remote call.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (%d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	pe := &Error{Op: op, Message: err.Error(), Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
		pe.Message = apiErr.Message
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
	}
	return pe
}
