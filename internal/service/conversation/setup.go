package conversation

import (
	"context"
	"strings"

	"docchat/internal/logging"
	"docchat/internal/models"
	"docchat/internal/provider"

	"github.com/rs/zerolog"
)

// SetupMode selects whether a session reuses an assistant or creates its own.
type SetupMode string

const (
	ModeUseExisting SetupMode = "existing"
	ModeCreateNew   SetupMode = "create"
)

// AssistantConfig describes an assistant to create.
type AssistantConfig struct {
	Name         string
	Model        string
	Instructions string
	FileIDs      []string
}

// SetupRequest is the input to SetupAssistant.
type SetupRequest struct {
	Mode       SetupMode
	ExistingID string
	Config     AssistantConfig
}

// InitRequest drives the whole setup pipeline. Upload falls back to the session's cached
// document when nil.
type InitRequest struct {
	Mode       SetupMode
	ExistingID string
	Config     AssistantConfig
	Upload     *models.Upload
}

func (s *Service) log(sessionID string) zerolog.Logger {
	return logging.Session(sessionID)
}

func (s *Service) normalizeSetup(req SetupRequest) (SetupRequest, error) {
	switch req.Mode {
	case ModeUseExisting:
		req.ExistingID = strings.TrimSpace(req.ExistingID)
		if req.ExistingID == "" {
			req.ExistingID = s.opts.DefaultAssistantID
		}
		if req.ExistingID == "" {
			return req, invalid("assistant id is required")
		}
	case ModeCreateNew:
		req.Config.Name = strings.TrimSpace(req.Config.Name)
		req.Config.Model = strings.TrimSpace(req.Config.Model)
		if req.Config.Name == "" {
			req.Config.Name = s.opts.DefaultName
		}
		if req.Config.Model == "" {
			req.Config.Model = s.opts.DefaultModel
		}
		if req.Config.Name == "" || req.Config.Model == "" {
			return req, invalid("assistant name and model are required")
		}
	default:
		return req, invalid("unknown mode %q", req.Mode)
	}
	return req, nil
}

// SetupAssistant resolves an existing assistant or creates one with file search enabled.
// Nothing is stored when the provider call fails.
func (s *Service) SetupAssistant(ctx context.Context, sessionID string, req SetupRequest) (*models.AssistantRef, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	req, err := s.normalizeSetup(req)
	if err != nil {
		return nil, err
	}
	state, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Assistant != nil {
		return nil, ErrAssistantExists
	}
	fileName := ""
	if state.Upload != nil {
		fileName = state.Upload.Name
	}
	ref, err := s.setupAssistant(ctx, req, fileName)
	if err != nil {
		return nil, err
	}
	state.Assistant = ref
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	l := s.log(sessionID)
	l.Info().Str("assistant_id", ref.ID).Str("mode", string(ref.Mode)).Msg("assistant ready")
	return ref, nil
}

func (s *Service) setupAssistant(ctx context.Context, req SetupRequest, fileName string) (*models.AssistantRef, error) {
	if req.Mode == ModeUseExisting {
		a, err := s.provider.RetrieveAssistant(ctx, req.ExistingID)
		if err != nil {
			return nil, err
		}
		return &models.AssistantRef{
			ID:           a.ID,
			Mode:         models.AssistantExisting,
			Name:         a.Name,
			Model:        a.Model,
			Instructions: a.Instructions,
		}, nil
	}

	instructions := s.instructionsFor(req.Config.Instructions, fileName)
	a, err := s.provider.CreateAssistant(ctx, provider.AssistantSpec{
		Name:         req.Config.Name,
		Model:        req.Config.Model,
		Instructions: instructions,
		FileIDs:      req.Config.FileIDs,
	})
	if err != nil {
		return nil, err
	}
	return &models.AssistantRef{
		ID:           a.ID,
		Mode:         models.AssistantCreated,
		Name:         req.Config.Name,
		Model:        req.Config.Model,
		Instructions: instructions,
	}, nil
}

// AttachFile uploads the document and adds it to the assistant's search scope. The raw
// upload is cached on the session even when attaching fails.
func (s *Service) AttachFile(ctx context.Context, sessionID string, up models.Upload) (*models.UploadedFileRef, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.ValidateUpload(up); err != nil {
		return nil, err
	}
	state, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Assistant == nil {
		return nil, ErrAssistantNotReady
	}
	if state.File != nil {
		return nil, ErrFileAlreadyPresent
	}
	return s.attachFile(ctx, state, up)
}

// uploadDocument caches the raw upload on the session, then uploads it to the provider.
// Both the attach and the create-with-file paths go through here.
func (s *Service) uploadDocument(ctx context.Context, state *models.SessionState, up models.Upload) (provider.File, error) {
	state.Upload = &models.Upload{Name: up.Name, Data: up.Data}
	if err := s.save(ctx, state); err != nil {
		return provider.File{}, err
	}
	return s.provider.UploadFile(ctx, up.Name, up.Data)
}

func (s *Service) attachFile(ctx context.Context, state *models.SessionState, up models.Upload) (*models.UploadedFileRef, error) {
	f, err := s.uploadDocument(ctx, state, up)
	if err != nil {
		return nil, err
	}
	storeID, err := s.provider.UpdateAssistantFiles(ctx, state.Assistant.ID, []string{f.ID})
	if err != nil {
		s.recordOrphan(ctx, models.OrphanFile, f.ID, state.ID, "assistant file update failed")
		return nil, &FileAttachError{FileID: f.ID, Err: err}
	}

	ref := &models.UploadedFileRef{
		ID:            f.ID,
		OriginalName:  up.Name,
		Size:          int64(len(up.Data)),
		VectorStoreID: storeID,
	}
	state.File = ref
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	l := s.log(state.ID)
	l.Info().Str("file_id", ref.ID).Str("name", ref.OriginalName).Str("assistant_id", state.Assistant.ID).Msg("file attached")
	return ref, nil
}

// CreateThread returns the session's thread, creating it on first use.
func (s *Service) CreateThread(ctx context.Context, sessionID string) (*models.ThreadRef, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	state, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.createThread(ctx, state)
}

func (s *Service) createThread(ctx context.Context, state *models.SessionState) (*models.ThreadRef, error) {
	if state.Thread != nil {
		return state.Thread, nil
	}
	id, err := s.provider.CreateThread(ctx)
	if err != nil {
		return nil, err
	}
	state.Thread = &models.ThreadRef{ID: id}
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	return state.Thread, nil
}

// Initialize runs assistant setup, file attachment and thread creation, skipping steps that
// are already done and stopping at the first failure.
func (s *Service) Initialize(ctx context.Context, sessionID string, req InitRequest) (*Snapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	state, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	up := req.Upload
	if up == nil && state.Upload != nil {
		cached := *state.Upload
		up = &cached
	}
	if up != nil {
		if err := s.ValidateUpload(*up); err != nil {
			return nil, err
		}
	}

	if state.Assistant == nil {
		setup, err := s.normalizeSetup(SetupRequest{Mode: req.Mode, ExistingID: req.ExistingID, Config: req.Config})
		if err != nil {
			return nil, err
		}
		if setup.Mode == ModeCreateNew && up != nil {
			if err := s.createWithFile(ctx, state, setup, *up); err != nil {
				return nil, err
			}
		} else {
			fileName := ""
			if up != nil {
				fileName = up.Name
			}
			ref, err := s.setupAssistant(ctx, setup, fileName)
			if err != nil {
				return nil, err
			}
			state.Assistant = ref
			if err := s.save(ctx, state); err != nil {
				return nil, err
			}
		}
	}

	if state.File == nil && up != nil {
		if _, err := s.attachFile(ctx, state, *up); err != nil {
			return nil, err
		}
	}

	if _, err := s.createThread(ctx, state); err != nil {
		return nil, err
	}
	return s.snapshotOf(state), nil
}

// createWithFile uploads first so the new assistant is created already bound to the document.
func (s *Service) createWithFile(ctx context.Context, state *models.SessionState, req SetupRequest, up models.Upload) error {
	f, err := s.uploadDocument(ctx, state, up)
	if err != nil {
		return err
	}

	instructions := s.instructionsFor(req.Config.Instructions, up.Name)
	a, err := s.provider.CreateAssistant(ctx, provider.AssistantSpec{
		Name:         req.Config.Name,
		Model:        req.Config.Model,
		Instructions: instructions,
		FileIDs:      []string{f.ID},
	})
	if err != nil {
		s.recordOrphan(ctx, models.OrphanFile, f.ID, state.ID, "assistant creation failed")
		return err
	}

	state.Assistant = &models.AssistantRef{
		ID:           a.ID,
		Mode:         models.AssistantCreated,
		Name:         req.Config.Name,
		Model:        req.Config.Model,
		Instructions: instructions,
	}
	state.File = &models.UploadedFileRef{
		ID:            f.ID,
		OriginalName:  up.Name,
		Size:          int64(len(up.Data)),
		VectorStoreID: a.VectorStoreID,
	}
	return s.save(ctx, state)
}
