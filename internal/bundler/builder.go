package bundler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-bundler/internal/allocator"
	"github.com/aman-zulfiqar/solana-bundler/internal/lookup"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
)

var (
	// ErrNoLines means Build was called with nothing to pack
	ErrNoLines = errors.New("no allocation lines to pack")
	// ErrNoFeePayer means Build was called without a fee payer keypair
	ErrNoFeePayer = errors.New("fee payer is required")
	// ErrNoCollectors means no tip collector accounts were configured;
	// a tip to the zero address would burn the lamports
	ErrNoCollectors = errors.New("at least one tip collector is required")
)

// InstructionFactory turns one allocation line into the instructions that
// execute it. The encoding of any particular operation is the factory's
// business; the builder only packs and signs what it is given.
type InstructionFactory interface {
	Instructions(ctx context.Context, line allocator.Line) ([]solana.Instruction, error)
}

// BlockhashSource supplies a recent blockhash for transaction assembly.
// rpc.Client satisfies it.
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context, commitment ...string) (solana.Hash, error)
}

// Config controls batching and unit assembly
type Config struct {
	MaxWireSize      int // serialized byte ceiling per unit
	BatchSize        int // actors per unit; depends on the instruction shape being packed
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64 // micro-lamports
	TipLamports      uint64
	TipCollectors    []solana.PublicKey
	Rand             *rand.Rand
	Logger           *logrus.Logger
}

// DefaultConfig returns packing defaults for the lighter instruction shape
func DefaultConfig() Config {
	return Config{
		MaxWireSize:      1232,
		BatchSize:        5,
		ComputeUnitLimit: 400_000,
		ComputeUnitPrice: 10_000,
		TipLamports:      100_000,
	}
}

// Unit is one assembled, signed, size-bounded transaction
type Unit struct {
	Tx     *solana.Transaction
	Actors []*models.Actor
	Size   int // serialized wire size including signatures
}

// Signature returns the unit's primary (fee payer) signature
func (u *Unit) Signature() string {
	if u.Tx == nil || len(u.Tx.Signatures) == 0 {
		return ""
	}
	return u.Tx.Signatures[0].String()
}

// Bundle is an ordered group of units submitted together. Unit order is
// preserved through signing and submission; the relay may use position
// to decide execution order.
type Bundle struct {
	Units       []*Unit
	TipLamports uint64
	Collector   solana.PublicKey
}

// Signatures returns the primary signature of each unit, in unit order
func (b *Bundle) Signatures() []string {
	sigs := make([]string, 0, len(b.Units))
	for _, u := range b.Units {
		sigs = append(sigs, u.Signature())
	}
	return sigs
}

// Result is the tagged outcome of a build: packed units plus any batches
// whose assembled unit exceeded the wire ceiling. Oversized batches are
// reported, never silently dropped; callers decide whether to re-batch
// with a smaller group size.
type Result struct {
	Bundle   *Bundle
	TooLarge [][]allocator.Line
}

// Builder packs allocation lines into signed bundles
type Builder struct {
	cfg        Config
	blockhash  BlockhashSource
	rand       *rand.Rand
	log        *logrus.Logger
	collectors []solana.PublicKey
}

func NewBuilder(cfg Config, blockhash BlockhashSource) *Builder {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Builder{
		cfg:        cfg,
		blockhash:  blockhash,
		rand:       cfg.Rand,
		log:        cfg.Logger,
		collectors: cfg.TipCollectors,
	}
}

// batch is one group of lines with its pre-tip instruction list, kept
// around so the tip can be appended and the unit reassembled.
type batch struct {
	lines []allocator.Line
	ixs   []solana.Instruction
}

// Build packs lines into size-bounded signed units referencing the given
// lookup tables. The tip transfer is appended as the final instruction
// of the final packed unit, and each unit is signed by the fee payer
// plus every actor whose instructions it carries.
//
// Tables passed in must have been finalized on-chain before this build
// began; a table created or extended within the same bundle cannot be
// used for compression by the relay.
func (b *Builder) Build(
	ctx context.Context,
	lines []allocator.Line,
	factory InstructionFactory,
	tables []*lookup.Table,
	feePayer *wallet.Keypair,
) (*Result, error) {

	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	if feePayer == nil {
		return nil, ErrNoFeePayer
	}
	if len(b.collectors) == 0 {
		return nil, ErrNoCollectors
	}
	batchSize := b.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultConfig().BatchSize
	}

	blockhash, err := b.blockhash.GetLatestBlockhash(ctx, "confirmed")
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	tableMap := make(map[solana.PublicKey]solana.PublicKeySlice, len(tables))
	for _, t := range tables {
		tableMap[t.Address] = t.Members
	}

	// Materialize per-batch instruction lists: the compute budget pair,
	// then one group per actor from the factory.
	var batches []batch
	for start := 0; start < len(lines); start += batchSize {
		end := start + batchSize
		if end > len(lines) {
			end = len(lines)
		}
		group := lines[start:end]

		ixs := []solana.Instruction{
			NewComputeUnitLimitIx(b.cfg.ComputeUnitLimit),
			NewComputeUnitPriceIx(b.cfg.ComputeUnitPrice),
		}
		for _, line := range group {
			actorIxs, err := factory.Instructions(ctx, line)
			if err != nil {
				return nil, fmt.Errorf("build instructions for %s: %w", line.Actor.Label, err)
			}
			ixs = append(ixs, actorIxs...)
		}
		batches = append(batches, batch{lines: group, ixs: ixs})
	}

	collector := b.pickCollector()

	result := &Result{}
	var assembled []struct {
		idx  int
		tx   *solana.Transaction
		size int
	}

	for i, bt := range batches {
		tx, size, err := b.assemble(bt.ixs, tableMap, blockhash, feePayer)
		if err != nil {
			return nil, err
		}
		if size > b.cfg.MaxWireSize {
			b.log.WithFields(logrus.Fields{
				"batch":  i,
				"actors": len(bt.lines),
				"size":   size,
				"limit":  b.cfg.MaxWireSize,
			}).Warn("unit exceeds wire size ceiling")
			result.TooLarge = append(result.TooLarge, bt.lines)
			continue
		}
		assembled = append(assembled, struct {
			idx  int
			tx   *solana.Transaction
			size int
		}{i, tx, size})
	}

	// Append the tip to the last packed unit. Reassembling with the tip
	// can push the unit over the ceiling, in which case that batch is
	// reported oversized and the tip moves to the previous unit.
	for len(assembled) > 0 {
		last := len(assembled) - 1
		bt := batches[assembled[last].idx]
		withTip := append(append([]solana.Instruction{}, bt.ixs...), NewTipIx(feePayer.PublicKey(), collector, b.cfg.TipLamports))

		tx, size, err := b.assemble(withTip, tableMap, blockhash, feePayer)
		if err != nil {
			return nil, err
		}
		if size > b.cfg.MaxWireSize {
			b.log.WithFields(logrus.Fields{
				"batch": assembled[last].idx,
				"size":  size,
			}).Warn("unit exceeds wire size ceiling once tip is appended")
			result.TooLarge = append(result.TooLarge, bt.lines)
			assembled = assembled[:last]
			continue
		}
		assembled[last].tx = tx
		assembled[last].size = size
		break
	}

	if len(assembled) == 0 {
		return result, nil
	}

	bundle := &Bundle{
		TipLamports: b.cfg.TipLamports,
		Collector:   collector,
	}
	for _, a := range assembled {
		bt := batches[a.idx]
		signers := make([]*wallet.Keypair, 0, len(bt.lines)+1)
		signers = append(signers, feePayer)
		actors := make([]*models.Actor, 0, len(bt.lines))
		for _, line := range bt.lines {
			actors = append(actors, line.Actor)
			signers = append(signers, line.Actor.Keys)
		}

		// Signing failures are custody problems and abort the build.
		if err := wallet.SignTransaction(a.tx, signers...); err != nil {
			return nil, err
		}

		bundle.Units = append(bundle.Units, &Unit{
			Tx:     a.tx,
			Actors: actors,
			Size:   a.size,
		})
	}
	result.Bundle = bundle

	return result, nil
}

// assemble builds an unsigned transaction and computes the wire size it
// will have once signed: message bytes plus the signature array the
// required-signer count implies. The ceiling check runs against this
// size before any key material is touched.
func (b *Builder) assemble(
	ixs []solana.Instruction,
	tables map[solana.PublicKey]solana.PublicKeySlice,
	blockhash solana.Hash,
	feePayer *wallet.Keypair,
) (*solana.Transaction, int, error) {

	opts := []solana.TransactionOption{solana.TransactionPayer(feePayer.PublicKey())}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}

	tx, err := solana.NewTransaction(ixs, blockhash, opts...)
	if err != nil {
		return nil, 0, fmt.Errorf("assemble transaction: %w", err)
	}

	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, 0, fmt.Errorf("serialize message: %w", err)
	}

	numSigs := int(tx.Message.Header.NumRequiredSignatures)
	size := compactU16Len(numSigs) + numSigs*64 + len(msgBytes)

	return tx, size, nil
}

// pickCollector assumes Build has already rejected an empty collector set
func (b *Builder) pickCollector() solana.PublicKey {
	return b.collectors[b.rand.Intn(len(b.collectors))]
}

func compactU16Len(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n < 0x4000:
		return 2
	default:
		return 3
	}
}
