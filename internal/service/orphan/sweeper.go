package orphan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"docchat/internal/logging"
	"docchat/internal/models"
	"docchat/internal/provider"
)

const (
	DefaultSweepInterval    = 30 * time.Minute
	DefaultSweepMaxAttempts = 10
	defaultSweepBatch       = 50
)

// Deleter is the subset of provider.Provider the sweeper needs.
type Deleter interface {
	DeleteFile(ctx context.Context, fileID string) error
	DeleteAssistant(ctx context.Context, assistantID string) error
}

type Sweeper struct {
	ledger      *Ledger
	deleter     Deleter
	maxAttempts int
}

func NewSweeper(ledger *Ledger, deleter Deleter) *Sweeper {
	return &Sweeper{ledger: ledger, deleter: deleter, maxAttempts: DefaultSweepMaxAttempts}
}

// SweepResult counts what one pass did.
type SweepResult struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// Start runs SweepOnce every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.loop(ctx, interval)
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.SweepOnce(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("orphan sweep failed")
				continue
			}
			if res.Resolved > 0 || res.Failed > 0 {
				logging.Info().Int("resolved", res.Resolved).Int("failed", res.Failed).Msg("orphan sweep")
			}
		}
	}
}

// SweepOnce retries deletion of every pending orphan once.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	pending, err := s.ledger.Pending(ctx, defaultSweepBatch)
	if err != nil {
		return res, err
	}
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := s.delete(ctx, o)
		if err == nil || isNotFound(err) {
			if err := s.ledger.Resolve(ctx, o.ID); err != nil {
				return res, err
			}
			res.Resolved++
			continue
		}
		logging.Warn().Err(err).Str("kind", string(o.Kind)).Str("remote_id", o.RemoteID).Msg("orphan delete failed")
		if err := s.ledger.Failed(ctx, o.ID, err, s.maxAttempts); err != nil {
			return res, err
		}
		res.Failed++
	}
	return res, nil
}

func (s *Sweeper) delete(ctx context.Context, o models.Orphan) error {
	switch o.Kind {
	case models.OrphanFile:
		return s.deleter.DeleteFile(ctx, o.RemoteID)
	case models.OrphanAssistant:
		return s.deleter.DeleteAssistant(ctx, o.RemoteID)
	default:
		return fmt.Errorf("unknown orphan kind %q", o.Kind)
	}
}

func isNotFound(err error) bool {
	var pe *provider.Error
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}
