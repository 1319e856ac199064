package conversation

import (
	"errors"
	"fmt"

	"docchat/internal/models"
)

var (
	// ErrMissingAPIKey blocks every operation until the provider secret is configured.
	ErrMissingAPIKey = errors.New("OpenAI API key is not configured; set OPENAI_API_KEY")

	ErrRunFailed               = errors.New("run failed")
	ErrRunRequiresAction       = errors.New("run requires action")
	ErrRunTimeout              = errors.New("run did not finish in time")
	ErrUnexpectedRole          = errors.New("latest message is not from the assistant")
	ErrFileAttachInconsistency = errors.New("file uploaded but not attached to assistant")

	ErrAssistantNotReady  = errors.New("assistant is not set up")
	ErrThreadNotReady     = errors.New("thread is not created")
	ErrAssistantExists    = errors.New("assistant already set up; reset the session first")
	ErrFileAlreadyPresent = errors.New("a document is already attached; reset the session first")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnsupportedFile    = errors.New("unsupported file")
)

// RunError reports a run that stopped in a non-completed terminal state.
type RunError struct {
	RunID  string
	Status models.RunStatus
	Detail string
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches ErrRunRequiresAction for requires_action and ErrRunFailed otherwise.
func (e *RunError) Is(target error) bool {
	if e.Status == models.RunRequiresAction {
		return target == ErrRunRequiresAction
	}
	return target == ErrRunFailed
}

// FileAttachError means the upload exists remotely but the assistant cannot search it.
type FileAttachError struct {
	FileID string
	Err    error
}

func (e *FileAttachError) Error() string {
	return fmt.Sprintf("file %s uploaded but assistant update failed: %v", e.FileID, e.Err)
}

func (e *FileAttachError) Unwrap() error { return e.Err }

func (e *FileAttachError) Is(target error) bool {
	return target == ErrFileAttachInconsistency
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
