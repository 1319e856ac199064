// Package session keeps per-user session state between requests.
package session

import (
	"context"
	"errors"
	"time"

	"docchat/internal/models"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Store persists SessionState. Implementations return copies; callers mutate and Save.
type Store interface {
	Create(ctx context.Context) (*models.SessionState, error)
	Load(ctx context.Context, id string) (*models.SessionState, error)
	Save(ctx context.Context, state *models.SessionState) error
	Delete(ctx context.Context, id string) error
}

func newState(now time.Time) *models.SessionState {
	return &models.SessionState{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
