package storage

import (
	"fmt"
	"log/slog"

	"github.com/IshaanNene/webstalk/internal/config"
	"github.com/IshaanNene/webstalk/internal/types"
)

// Storage is the interface for all storage backends.
type Storage interface {
	// Store persists a batch of items.
	Store(items []*types.Item) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// New builds the configured storage backend.
func New(cfg config.StorageConfig, logger *slog.Logger) (Storage, error) {
	if cfg.Type == "mongo" {
		return NewMongoStorage(cfg.MongoURI, cfg.MongoDB, cfg.MongoColl, logger)
	}
	store, err := NewFileStorage(cfg.Type, cfg.OutputPath, logger)
	if err != nil {
		return nil, fmt.Errorf("build storage: %w", err)
	}
	return store, nil
}
