package storage

import (
	"context"
	"io"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
)

// OutcomeCache is the interface for the hot recent-outcomes cache
type OutcomeCache interface {
	// AddRecentOutcome adds an outcome to the recent list
	AddRecentOutcome(ctx context.Context, outcome *models.BundleOutcome) error

	// GetRecentOutcomes retrieves the most recent outcomes
	GetRecentOutcomes(ctx context.Context, limit int64) ([]*models.BundleOutcome, error)

	// PublishOutcome publishes an outcome to the Pub/Sub channel
	PublishOutcome(ctx context.Context, outcome *models.BundleOutcome) error

	// Ping checks if the cache is reachable
	Ping(ctx context.Context) error

	io.Closer
}

// OutcomeStore is the interface for persistent outcome history
type OutcomeStore interface {
	// InsertOutcome inserts a bundle outcome into the store
	InsertOutcome(ctx context.Context, outcome *models.BundleOutcome) error

	// Ping checks if the store is reachable
	Ping(ctx context.Context) error

	io.Closer
}
