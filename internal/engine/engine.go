package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-bundler/internal/allocator"
	"github.com/aman-zulfiqar/solana-bundler/internal/bundler"
	"github.com/aman-zulfiqar/solana-bundler/internal/config"
	"github.com/aman-zulfiqar/solana-bundler/internal/lookup"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/relay"
	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
	"github.com/aman-zulfiqar/solana-bundler/internal/storage"
	"github.com/aman-zulfiqar/solana-bundler/internal/store"
	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
)

// Engine wires the planner, table optimizer, builder and relay client
// into the end-to-end pipeline: spread a quantity across actors, pack
// their instructions into size-bounded units, submit atomically, verify.
type Engine struct {
	cfg       *config.Config
	rpcClient *rpc.Client
	planner   *allocator.Planner
	tables    *lookup.Cache
	builder   *bundler.Builder
	relay     *relay.Client
	feePayer  *wallet.Keypair

	outcomeCache storage.OutcomeCache // optional, best-effort
	outcomeStore storage.OutcomeStore // optional, best-effort

	logger *logrus.Logger
}

// NewEngine creates an engine with all dependencies from config
func NewEngine(cfg *config.Config, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.WalletPrivateKey == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY is required")
	}

	feePayer, err := wallet.ParseKeypair(cfg.WalletPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fee payer key: %w", err)
	}

	rpcClient := rpc.NewClient(rpc.ClientConfig{
		BaseURL:      cfg.RPCUrl,
		Timeout:      cfg.HTTPTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		RateLimit:    cfg.RPCRateLimit,
		Logger:       logger,
	})

	planner := allocator.NewPlanner(allocator.Config{
		DustThreshold: cfg.DustThreshold,
		FeeReserve:    cfg.FeeReserve,
		MinAllocation: cfg.MinAllocation,
		Logger:        logger,
	})

	tables := lookup.NewCache(lookup.CacheConfig{
		Fetcher:   rpcClient,
		MaxTables: cfg.MaxLookupTables,
		MinMatch:  cfg.MinTableMatch,
		MaxAge:    cfg.TableMaxAge,
		Logger:    logger,
	})

	collectors := make([]solana.PublicKey, 0, len(cfg.TipCollectors))
	for _, c := range cfg.TipCollectors {
		pk, err := solana.PublicKeyFromBase58(c)
		if err != nil {
			return nil, fmt.Errorf("invalid tip collector %q: %w", c, err)
		}
		collectors = append(collectors, pk)
	}

	builder := bundler.NewBuilder(bundler.Config{
		MaxWireSize:      cfg.MaxWireSize,
		BatchSize:        cfg.BatchSize,
		ComputeUnitLimit: cfg.ComputeUnitLimit,
		ComputeUnitPrice: cfg.ComputeUnitPrice,
		TipLamports:      cfg.TipLamports,
		TipCollectors:    collectors,
		Logger:           logger,
	}, rpcClient)

	relayClient := relay.NewClient(relay.ClientConfig{
		RelayURL:      cfg.RelayUrl,
		Timeout:       cfg.HTTPTimeout,
		SettleDelay:   cfg.SettleDelay,
		SearchHistory: cfg.SearchHistory,
		Policy:        relay.VerifyAny,
		Statuses:      rpcClient,
		Logger:        logger,
	})

	e := &Engine{
		cfg:       cfg,
		rpcClient: rpcClient,
		planner:   planner,
		tables:    tables,
		builder:   builder,
		relay:     relayClient,
		feePayer:  feePayer,
		logger:    logger,
	}

	if cfg.RedisAddr != "" {
		rc, err := store.NewRedisCache(context.Background(), store.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		e.outcomeCache = rc
	}

	if cfg.ClickHouseAddr != "" {
		ch, err := store.NewClickHouseStore(context.Background(), store.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		e.outcomeStore = ch
	}

	return e, nil
}

// NewEngineFromEnv creates an engine using environment variables
func NewEngineFromEnv(logger *logrus.Logger) (*Engine, error) {
	return NewEngine(config.Load(), logger)
}

// FeePayer returns the designated fee payer's public key
func (e *Engine) FeePayer() solana.PublicKey { return e.feePayer.PublicKey() }

// RPC exposes the ledger client for collaborators (balance snapshots,
// live-pool quote sources)
func (e *Engine) RPC() *rpc.Client { return e.rpcClient }

// Tables exposes the process-wide lookup table cache
func (e *Engine) Tables() *lookup.Cache { return e.tables }

// WarmTables populates the cache for the given table addresses. Fetch
// misses and network failures are tolerated: an unknown table simply
// cannot contribute to compression.
func (e *Engine) WarmTables(ctx context.Context, addresses []solana.PublicKey) {
	for _, addr := range addresses {
		if _, err := e.tables.GetTable(ctx, addr); err != nil {
			e.logger.WithError(err).WithField("table", addr.String()).
				Debug("lookup table unavailable")
		}
	}
}

// prepared replays instruction groups produced once by the caller's
// factory, keyed by actor, so the builder does not re-invoke the factory
// (and with it the quote estimator) a second time.
type prepared struct {
	groups map[solana.PublicKey][]solana.Instruction
}

func (p *prepared) Instructions(_ context.Context, line allocator.Line) ([]solana.Instruction, error) {
	ixs, ok := p.groups[line.Actor.Address]
	if !ok {
		return nil, fmt.Errorf("no prepared instructions for %s", line.Actor.Label)
	}
	return ixs, nil
}

// Execute runs the full pipeline for one logical operation: plan the
// allocation, materialize instructions, select compression tables, pack,
// submit and verify. knownTables are the lookup table addresses worth
// considering for compression; they must be finalized on-chain before
// this call.
func (e *Engine) Execute(
	ctx context.Context,
	actors []*models.Actor,
	targetTotal uint64,
	factory bundler.InstructionFactory,
	knownTables []solana.PublicKey,
) (*models.BundleOutcome, error) {

	lines, err := e.planner.Plan(actors, targetTotal)
	if err != nil {
		return nil, fmt.Errorf("allocation failed: %w", err)
	}
	if len(lines) == 0 {
		return nil, allocator.ErrNoEligibleActors
	}

	e.logger.WithFields(logrus.Fields{
		"actors":    len(actors),
		"lines":     len(lines),
		"target":    targetTotal,
		"allocated": allocator.Total(lines),
	}).Info("allocation planned")

	// Materialize instructions once; the quote embedded in each is a
	// point-in-time estimate and must not be recomputed downstream.
	prep := &prepared{groups: make(map[solana.PublicKey][]solana.Instruction, len(lines))}
	var candidates []solana.PublicKey
	for _, line := range lines {
		ixs, err := factory.Instructions(ctx, line)
		if err != nil {
			return nil, fmt.Errorf("build instructions for %s: %w", line.Actor.Label, err)
		}
		prep.groups[line.Actor.Address] = ixs
		for _, ix := range ixs {
			for _, meta := range ix.Accounts() {
				candidates = append(candidates, meta.PublicKey)
			}
		}
	}

	e.WarmTables(ctx, knownTables)
	selected := e.tables.SelectTables(candidates)
	e.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"tables":     len(selected),
	}).Debug("lookup tables selected")

	result, err := e.builder.Build(ctx, lines, prep, selected, e.feePayer)
	if err != nil {
		return nil, fmt.Errorf("build failed: %w", err)
	}

	// One oversized batch means the instruction shape does not fit the
	// configured batch size; retry the whole build once at half size so
	// the tip stays on the final unit.
	if len(result.TooLarge) > 0 {
		half := e.cfg.BatchSize / 2
		if half < 1 {
			half = 1
		}
		e.logger.WithFields(logrus.Fields{
			"oversized": len(result.TooLarge),
			"batch":     half,
		}).Warn("re-batching oversized bundle with smaller groups")

		smaller := bundler.NewBuilder(bundler.Config{
			MaxWireSize:      e.cfg.MaxWireSize,
			BatchSize:        half,
			ComputeUnitLimit: e.cfg.ComputeUnitLimit,
			ComputeUnitPrice: e.cfg.ComputeUnitPrice,
			TipLamports:      e.cfg.TipLamports,
			TipCollectors:    e.builderCollectors(),
			Logger:           e.logger,
		}, e.rpcClient)

		result, err = smaller.Build(ctx, lines, prep, selected, e.feePayer)
		if err != nil {
			return nil, fmt.Errorf("re-batched build failed: %w", err)
		}
	}

	if result.Bundle == nil || len(result.Bundle.Units) == 0 {
		return nil, fmt.Errorf("no unit fits the %d byte ceiling even at minimum batch size", e.cfg.MaxWireSize)
	}

	// Packed units still go out; actors left unpacked after the retry are
	// surfaced on the outcome for the caller to reschedule.
	var unpacked []string
	for _, batch := range result.TooLarge {
		for _, line := range batch {
			unpacked = append(unpacked, line.Actor.Address.String())
		}
	}
	if len(unpacked) > 0 {
		e.logger.WithFields(logrus.Fields{
			"batches": len(result.TooLarge),
			"actors":  len(unpacked),
		}).Warn("some batches remain oversized after re-batching")
	}

	outcome := e.relay.SubmitAndVerify(ctx, result.Bundle)
	outcome.UnpackedActors = unpacked
	e.publishOutcome(ctx, outcome)

	return outcome, nil
}

func (e *Engine) builderCollectors() []solana.PublicKey {
	collectors := make([]solana.PublicKey, 0, len(e.cfg.TipCollectors))
	for _, c := range e.cfg.TipCollectors {
		if pk, err := solana.PublicKeyFromBase58(c); err == nil {
			collectors = append(collectors, pk)
		}
	}
	return collectors
}

// publishOutcome records the outcome in the optional stores (best-effort)
func (e *Engine) publishOutcome(ctx context.Context, outcome *models.BundleOutcome) {
	if e.outcomeCache != nil {
		if err := e.outcomeCache.AddRecentOutcome(ctx, outcome); err != nil {
			e.logger.WithError(err).Warn("failed to cache outcome")
		}
		if err := e.outcomeCache.PublishOutcome(ctx, outcome); err != nil {
			e.logger.WithError(err).Warn("failed to publish outcome")
		}
	}
	if e.outcomeStore != nil {
		if err := e.outcomeStore.InsertOutcome(ctx, outcome); err != nil {
			e.logger.WithError(err).Warn("failed to persist outcome")
		}
	}
}

// Close cleans up all resources
func (e *Engine) Close() error {
	var errs []error

	if e.outcomeCache != nil {
		if err := e.outcomeCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if e.outcomeStore != nil {
		if err := e.outcomeStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
