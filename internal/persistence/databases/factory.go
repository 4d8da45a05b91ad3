package databases

import (
	"context"

	"deepresearch/internal/config"
)

// NewManager constructs the chat store backend named by cfg.Database.URL:
// Postgres when a DSN is configured, otherwise an in-process memory store
// suitable for local development and tests.
func NewManager(ctx context.Context, cfg config.DatabaseConfig) (Manager, error) {
	if cfg.URL == "" {
		return Manager{Chat: newMemoryChatStore()}, nil
	}
	pool, err := OpenPool(ctx, cfg.URL)
	if err != nil {
		return Manager{}, err
	}
	return Manager{Chat: NewPostgresChatStore(pool)}, nil
}
