package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
)

// ErrTableNotFound is returned when the lookup table account does not
// exist on-chain. Not an error condition for callers: the address set
// simply cannot be compressed through that table.
var ErrTableNotFound = errors.New("lookup table not found")

// AccountFetcher reads a raw account from the ledger. rpc.Client
// satisfies it; fetch misses are reported via rpc.ErrAccountNotFound.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) ([]byte, error)
}

// CacheConfig configures the process-wide table cache
type CacheConfig struct {
	Fetcher   AccountFetcher
	MaxTables int           // selection cap per call
	MinMatch  int           // minimum candidate intersection for a table to be worth referencing
	MaxAge    time.Duration // 0 = never refresh (process lifetime)
	Logger    *logrus.Logger
}

// Cache is the process-wide registry of known lookup tables. Entries are
// populated lazily on miss or explicitly via Put when a collaborator
// creates or extends a table. Nothing is evicted; MaxAge only forces a
// re-fetch on access when set.
type Cache struct {
	mu         sync.RWMutex
	tables     map[solana.PublicKey]*Table
	containing map[solana.PublicKey]map[solana.PublicKey]struct{} // member -> table addresses
	inflight   map[solana.PublicKey]chan struct{}

	fetcher   AccountFetcher
	maxTables int
	minMatch  int
	maxAge    time.Duration
	log       *logrus.Logger
}

func NewCache(cfg CacheConfig) *Cache {
	if cfg.MaxTables == 0 {
		cfg.MaxTables = 3
	}
	if cfg.MinMatch == 0 {
		cfg.MinMatch = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Cache{
		tables:     make(map[solana.PublicKey]*Table),
		containing: make(map[solana.PublicKey]map[solana.PublicKey]struct{}),
		inflight:   make(map[solana.PublicKey]chan struct{}),
		fetcher:    cfg.Fetcher,
		maxTables:  cfg.MaxTables,
		minMatch:   cfg.MinMatch,
		maxAge:     cfg.MaxAge,
		log:        cfg.Logger,
	}
}

// GetTable returns the cached table, fetching and inserting it on a miss.
// Concurrent misses for the same address share one fetch; different
// addresses fetch concurrently.
func (c *Cache) GetTable(ctx context.Context, address solana.PublicKey) (*Table, error) {
	for {
		c.mu.Lock()
		if t, ok := c.tables[address]; ok && !c.expired(t) {
			c.mu.Unlock()
			return t, nil
		}
		if ch, busy := c.inflight[address]; busy {
			c.mu.Unlock()
			select {
			case <-ch:
				continue // re-check the cache
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ch := make(chan struct{})
		c.inflight[address] = ch
		c.mu.Unlock()

		t, err := c.fetch(ctx, address)

		c.mu.Lock()
		delete(c.inflight, address)
		close(ch)
		if err == nil {
			c.insertLocked(t)
		}
		c.mu.Unlock()

		return t, err
	}
}

// Put inserts or replaces a table entry, e.g. after a collaborator has
// created or extended the table on-chain. Callers must not reference a
// table for compression inside the same bundle that creates or extends
// it; only tables finalized before bundle assembly may be passed to
// SelectTables.
func (c *Cache) Put(t *Table) {
	if t == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(t)
}

// Len returns the number of cached tables
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

func (c *Cache) fetch(ctx context.Context, address solana.PublicKey) (*Table, error) {
	data, err := c.fetcher.GetAccountInfo(ctx, address)
	if err != nil {
		if errors.Is(err, rpc.ErrAccountNotFound) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("fetch lookup table %s: %w", address, err)
	}

	t, err := ParseTable(address, data)
	if err != nil {
		return nil, fmt.Errorf("parse lookup table %s: %w", address, err)
	}

	c.log.WithFields(logrus.Fields{
		"table":   address.String(),
		"members": len(t.Members),
	}).Debug("cached lookup table")

	return t, nil
}

// insertLocked replaces the entry and rebuilds both derived indices for
// it. Caller holds c.mu.
func (c *Cache) insertLocked(t *Table) {
	if old, ok := c.tables[t.Address]; ok {
		for _, m := range old.Members {
			if set, ok := c.containing[m]; ok {
				delete(set, t.Address)
				if len(set) == 0 {
					delete(c.containing, m)
				}
			}
		}
	}

	c.tables[t.Address] = t
	for _, m := range t.Members {
		set, ok := c.containing[m]
		if !ok {
			set = make(map[solana.PublicKey]struct{})
			c.containing[m] = set
		}
		set[t.Address] = struct{}{}
	}
}

func (c *Cache) expired(t *Table) bool {
	return c.maxAge > 0 && time.Since(t.FetchedAt) > c.maxAge
}
