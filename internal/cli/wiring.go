package cli

import (
	"context"
	"database/sql"
	"fmt"

	"docchat/internal/config"
	"docchat/internal/logging"
	"docchat/internal/provider"
	"docchat/internal/redis"
	"docchat/internal/service/conversation"
	"docchat/internal/service/orphan"
	"docchat/internal/session"
	"docchat/internal/storage"
)

// newProvider returns a nil Provider when no API key is configured so the controller
// reports ErrMissingAPIKey instead of failing at startup.
func newProvider(cfg *config.Config) (provider.Provider, error) {
	if !cfg.APIKeySet() {
		logging.Warn().Msg("OPENAI_API_KEY is not set; assistant operations are disabled")
		return nil, nil
	}
	p, err := provider.NewOpenAI(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// openLedger opens and migrates the orphan ledger database.
func openLedger(cfg *config.Config) (*orphan.Ledger, *sql.DB, error) {
	dbType := cfg.BasicConfig.Database
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return orphan.NewLedger(db, dbType), db, nil
}

// recorder converts a possibly nil ledger into an OrphanRecorder.
func recorder(l *orphan.Ledger) conversation.OrphanRecorder {
	if l == nil {
		return nil
	}
	return l
}

// openStore builds the configured session store. onDelete, when set, is called for
// sessions deleted by any instance sharing the redis store.
func openStore(ctx context.Context, cfg *config.Config, onDelete func(id string)) (session.Store, func(), error) {
	switch cfg.BasicConfig.SessionStore {
	case "redis":
		client, err := redis.NewRedisClient(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create redis client: %w", err)
		}
		store := session.NewRedisStore(client, cfg.SessionTTL())
		if onDelete != nil {
			if err := store.OnDelete(ctx, onDelete); err != nil {
				client.Close()
				return nil, nil, fmt.Errorf("subscribe session deletes: %w", err)
			}
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return session.NewMemoryStore(cfg.SessionTTL()), func() {}, nil
	}
}
