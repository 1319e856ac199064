package models

import "time"

type AssistantMode string

const (
	// AssistantExisting refers to a pre-provisioned assistant that is never deleted.
	AssistantExisting AssistantMode = "existing"
	// AssistantCreated marks an assistant created by this session.
	AssistantCreated AssistantMode = "created"
)

type AssistantRef struct {
	ID           string        `json:"id"`
	Mode         AssistantMode `json:"mode"`
	Name         string        `json:"name,omitempty"`
	Model        string        `json:"model,omitempty"`
	Instructions string        `json:"instructions,omitempty"`
}

type ThreadRef struct {
	ID string `json:"id"`
}

// SessionState is everything one user session holds. Upload survives Reset.
type SessionState struct {
	ID         string            `json:"id"`
	Assistant  *AssistantRef     `json:"assistant,omitempty"`
	Thread     *ThreadRef        `json:"thread,omitempty"`
	File       *UploadedFileRef  `json:"file,omitempty"`
	Transcript []TranscriptEntry `json:"transcript"`
	Upload     *Upload           `json:"upload,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Assistant != nil {
		a := *s.Assistant
		out.Assistant = &a
	}
	if s.Thread != nil {
		t := *s.Thread
		out.Thread = &t
	}
	if s.File != nil {
		f := *s.File
		out.File = &f
	}
	if s.Upload != nil {
		u := *s.Upload
		u.Data = append([]byte(nil), s.Upload.Data...)
		out.Upload = &u
	}
	out.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	return &out
}

// ClearConversation drops every remote reference and the transcript, keeping the cached upload.
func (s *SessionState) ClearConversation() {
	s.Assistant = nil
	s.Thread = nil
	s.File = nil
	s.Transcript = nil
}
