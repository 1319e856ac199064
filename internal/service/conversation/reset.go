package conversation

import (
	"context"

	"docchat/internal/models"
)

// Reset deletes an assistant this session created (never the pinned default or an
// existing one) and clears the session, keeping the cached upload. A failed deletion is
// logged and recorded for the sweeper, never returned.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	state, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	if a := state.Assistant; a != nil && a.Mode == models.AssistantCreated && a.ID != s.opts.DefaultAssistantID {
		if err := s.provider.DeleteAssistant(ctx, a.ID); err != nil {
			l := s.log(sessionID)
			l.Warn().Err(err).Str("assistant_id", a.ID).Msg("delete assistant on reset failed")
			s.recordOrphan(ctx, models.OrphanAssistant, a.ID, sessionID, "delete on reset failed")
		}
	}

	state.ClearConversation()
	if err := s.save(ctx, state); err != nil {
		return err
	}
	l := s.log(sessionID)
	l.Info().Msg("session reset")
	return nil
}
