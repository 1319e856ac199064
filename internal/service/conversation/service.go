// Package conversation drives one document Q&A session against the assistant provider:
// assistant setup, file attachment, thread creation, message exchange and reset.
package conversation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"docchat/internal/config"
	"docchat/internal/models"
	"docchat/internal/provider"
	"docchat/internal/session"

	"github.com/oklog/ulid/v2"
)

// OrphanRecorder receives remote resources that could not be cleaned up.
type OrphanRecorder interface {
	Record(ctx context.Context, o models.Orphan) error
}

// PollConfig bounds how long a run is polled before it is cancelled.
type PollConfig struct {
	Interval time.Duration
	// Timeout bounds the whole wait; zero means no deadline beyond ctx.
	Timeout time.Duration
	// MaxAttempts bounds status checks; zero means unlimited.
	MaxAttempts int
}

// Options configures a Service; see OptionsFromConfig.
type Options struct {
	// DefaultAssistantID is the pinned assistant. It is never deleted on reset.
	DefaultAssistantID string
	DefaultName        string
	DefaultModel       string
	// Instructions is the template for created assistants; {file} becomes the document name.
	Instructions      string
	AllowedExtensions []string
	MaxUploadBytes    int64
	Poll              PollConfig
}

// OptionsFromConfig maps the loaded configuration onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultAssistantID: cfg.Assistant.DefaultID,
		DefaultName:        cfg.Assistant.DefaultName,
		DefaultModel:       cfg.Assistant.DefaultModel,
		Instructions:       cfg.Assistant.Instructions,
		AllowedExtensions:  cfg.BasicConfig.AllowedExtensions,
		MaxUploadBytes:     cfg.BasicConfig.MaxUploadBytes,
		Poll: PollConfig{
			Interval:    cfg.Poll.Interval(),
			Timeout:     cfg.Poll.Timeout(),
			MaxAttempts: cfg.Poll.MaxAttempts,
		},
	}
}

// Service is the session lifecycle controller. A nil provider means the API key is
// missing and every remote operation fails with ErrMissingAPIKey.
type Service struct {
	provider provider.Provider
	store    session.Store
	orphans  OrphanRecorder
	opts     Options
	now      func() time.Time
}

// NewService fills in default poll interval and instructions.
func NewService(p provider.Provider, store session.Store, orphans OrphanRecorder, opts Options) *Service {
	if opts.Poll.Interval <= 0 {
		opts.Poll.Interval = time.Second
	}
	if opts.Instructions == "" {
		opts.Instructions = config.DefaultInstructions
	}
	return &Service{
		provider: p,
		store:    store,
		orphans:  orphans,
		opts:     opts,
		now:      time.Now,
	}
}

// Configured reports whether a provider client is available.
func (s *Service) Configured() bool {
	return s.provider != nil
}

func (s *Service) DefaultAssistantID() string {
	return s.opts.DefaultAssistantID
}

func (s *Service) ready() error {
	if s.provider == nil {
		return ErrMissingAPIKey
	}
	return nil
}

// Snapshot is what the presentation layer renders.
type Snapshot struct {
	SessionID    string                   `json:"session_id"`
	Configured   bool                     `json:"api_key_set"`
	HasAssistant bool                     `json:"has_assistant"`
	HasThread    bool                     `json:"has_thread"`
	HasFile      bool                     `json:"has_file"`
	Assistant    *models.AssistantRef     `json:"assistant,omitempty"`
	Thread       *models.ThreadRef        `json:"thread,omitempty"`
	File         *models.UploadedFileRef  `json:"file,omitempty"`
	Transcript   []models.TranscriptEntry `json:"transcript"`
	CachedUpload string                   `json:"cached_upload,omitempty"`
}

func (s *Service) snapshotOf(state *models.SessionState) *Snapshot {
	snap := &Snapshot{
		SessionID:    state.ID,
		Configured:   s.Configured(),
		HasAssistant: state.Assistant != nil,
		HasThread:    state.Thread != nil,
		HasFile:      state.File != nil,
		Assistant:    state.Assistant,
		Thread:       state.Thread,
		File:         state.File,
		Transcript:   state.Transcript,
	}
	if snap.Transcript == nil {
		snap.Transcript = []models.TranscriptEntry{}
	}
	if state.Upload != nil {
		snap.CachedUpload = state.Upload.Name
	}
	return snap
}

// CreateSession starts an empty session.
func (s *Service) CreateSession(ctx context.Context) (*Snapshot, error) {
	state, err := s.store.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.snapshotOf(state), nil
}

func (s *Service) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	state, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshotOf(state), nil
}

// DeleteSession resets the session and forgets it.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if s.Configured() {
		if err := s.Reset(ctx, sessionID); err != nil {
			return err
		}
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Service) save(ctx context.Context, state *models.SessionState) error {
	if err := s.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Service) newEntry(role models.Role, content string) models.TranscriptEntry {
	return models.TranscriptEntry{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
}

func (s *Service) recordOrphan(ctx context.Context, kind models.OrphanKind, remoteID, sessionID, reason string) {
	log := s.log(sessionID)
	if s.orphans == nil {
		log.Warn().Str("kind", string(kind)).Str("remote_id", remoteID).Str("reason", reason).Msg("orphaned provider resource")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.orphans.Record(ctx, models.Orphan{Kind: kind, RemoteID: remoteID, SessionID: sessionID, Reason: reason})
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Str("remote_id", remoteID).Msg("record orphan failed")
		return
	}
	log.Warn().Str("kind", string(kind)).Str("remote_id", remoteID).Str("reason", reason).Msg("orphan recorded")
}

// ValidateUpload checks name, size and extension of a document before any remote call.
func (s *Service) ValidateUpload(up models.Upload) error {
	name := strings.TrimSpace(up.Name)
	if name == "" {
		return fmt.Errorf("%w: file name is required", ErrUnsupportedFile)
	}
	if len(up.Data) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrUnsupportedFile, name)
	}
	if s.opts.MaxUploadBytes > 0 && int64(len(up.Data)) > s.opts.MaxUploadBytes {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrUnsupportedFile, name, s.opts.MaxUploadBytes)
	}
	if len(s.opts.AllowedExtensions) == 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range s.opts.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (allowed: %s)", ErrUnsupportedFile, name, strings.Join(s.opts.AllowedExtensions, ", "))
}

func (s *Service) instructionsFor(custom, fileName string) string {
	tmpl := custom
	if strings.TrimSpace(tmpl) == "" {
		tmpl = s.opts.Instructions
	}
	if fileName == "" {
		fileName = "(none yet)"
	}
	return strings.ReplaceAll(tmpl, "{file}", fileName)
}
