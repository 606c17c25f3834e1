// Package store keeps the set of question ids whose drafts were confirmed
// saved, so later runs skip them. The set only grows.
package store

import (
	"context"
	"fmt"

	"github.com/go-scripts/answerbot/internal/config"
)

// Store is a durable, monotonically growing set of processed question ids.
// Add persists before returning.
type Store interface {
	Has(id string) bool
	Add(ctx context.Context, id string) error
	IDs() []string
	Close() error
}

// Open returns the backend selected by cfg.
func Open(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisKey)
	case config.BackendFile, "":
		return OpenFile(cfg.ProcessedFile)
	default:
		return nil, fmt.Errorf("unknown processed-id backend %q", cfg.Backend)
	}
}
