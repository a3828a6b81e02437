package store

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
)

// ClickHouseStore persists bundle outcome history for analytics
type ClickHouseStore struct {
	conn driver.Conn
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	if cfg.Database == "" {
		cfg.Database = "solana"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseStore{conn: conn}, nil
}

func (c *ClickHouseStore) InsertOutcome(ctx context.Context, outcome *models.BundleOutcome) error {
	query := `
		INSERT INTO bundle_outcomes (
			bundle_id, timestamp, sent, verified, units, verified_units,
			signatures, tip_lamports, collector, unpacked_actors, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := c.conn.Exec(ctx, query,
		outcome.BundleID,
		outcome.Timestamp,
		outcome.Sent,
		outcome.Verified,
		outcome.Units,
		outcome.VerifiedUnits,
		outcome.Signatures,
		outcome.TipLamports,
		outcome.Collector,
		outcome.UnpackedActors,
		outcome.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}

	return nil
}

func (c *ClickHouseStore) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseStore) Close() error {
	return c.conn.Close()
}
