package bundler

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-zulfiqar/solana-bundler/internal/allocator"
	"github.com/aman-zulfiqar/solana-bundler/internal/lookup"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
)

type fixedBlockhash struct{ hash solana.Hash }

func (f fixedBlockhash) GetLatestBlockhash(ctx context.Context, commitment ...string) (solana.Hash, error) {
	return f.hash, nil
}

// transferFactory emits one system transfer per line, plus optional
// padding bytes and shared read-only accounts to shape the unit's wire
// size.
type transferFactory struct {
	dest    solana.PublicKey
	shared  []solana.PublicKey       // referenced read-only by every line
	padding map[solana.PublicKey]int // per-actor extra instruction data
	calls   int
}

var padProgram = solana.NewWallet().PublicKey()

func (f *transferFactory) Instructions(_ context.Context, line allocator.Line) ([]solana.Instruction, error) {
	f.calls++
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], line.Amount)
	ixs := []solana.Instruction{
		solana.NewInstruction(solana.SystemProgramID, []*solana.AccountMeta{
			{PublicKey: line.Actor.Address, IsSigner: true, IsWritable: true},
			{PublicKey: f.dest, IsSigner: false, IsWritable: true},
		}, data),
	}
	if len(f.shared) > 0 {
		metas := make([]*solana.AccountMeta, 0, len(f.shared))
		for _, pk := range f.shared {
			metas = append(metas, &solana.AccountMeta{PublicKey: pk})
		}
		ixs = append(ixs, solana.NewInstruction(padProgram, metas, []byte{1}))
	}
	if pad := f.padding[line.Actor.Address]; pad > 0 {
		ixs = append(ixs, solana.NewInstruction(padProgram, nil, make([]byte, pad)))
	}
	return ixs, nil
}

func testLines(t *testing.T, n int) []allocator.Line {
	t.Helper()
	lines := make([]allocator.Line, 0, n)
	for i := 0; i < n; i++ {
		keys, err := wallet.NewRandomKeypair()
		require.NoError(t, err)
		actor := models.NewActor(keys, 1_000_000_000, fmt.Sprintf("actor-%d", i+1))
		lines = append(lines, allocator.Line{Actor: actor, Amount: 50_000_000})
	}
	return lines
}

func testConfig(batchSize int) Config {
	cfg := DefaultConfig()
	cfg.BatchSize = batchSize
	cfg.TipCollectors = []solana.PublicKey{solana.NewWallet().PublicKey()}
	cfg.Rand = rand.New(rand.NewSource(1))
	return cfg
}

func testBlockhash() fixedBlockhash {
	return fixedBlockhash{hash: solana.Hash(solana.NewWallet().PublicKey())}
}

func messageHasAccount(tx *solana.Transaction, key solana.PublicKey) bool {
	for _, k := range tx.Message.AccountKeys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}

func TestBuilder_Build(t *testing.T) {
	lines := testLines(t, 7)
	feePayer, err := wallet.NewRandomKeypair()
	require.NoError(t, err)

	factory := &transferFactory{dest: solana.NewWallet().PublicKey()}
	b := NewBuilder(testConfig(3), testBlockhash())

	result, err := b.Build(context.Background(), lines, factory, nil, feePayer)
	require.NoError(t, err)
	require.NotNil(t, result.Bundle)
	assert.Empty(t, result.TooLarge)

	// 7 lines at batch size 3 pack into units of 3, 3 and 1 actors,
	// preserving line order.
	require.Len(t, result.Bundle.Units, 3)
	assert.Len(t, result.Bundle.Units[0].Actors, 3)
	assert.Len(t, result.Bundle.Units[1].Actors, 3)
	assert.Len(t, result.Bundle.Units[2].Actors, 1)
	assert.Equal(t, lines[0].Actor.Address, result.Bundle.Units[0].Actors[0].Address)
	assert.Equal(t, lines[6].Actor.Address, result.Bundle.Units[2].Actors[0].Address)

	assert.Equal(t, 7, factory.calls, "factory runs once per line")
}

func TestBuilder_Build_SizesAndSignatures(t *testing.T) {
	lines := testLines(t, 4)
	feePayer, err := wallet.NewRandomKeypair()
	require.NoError(t, err)

	b := NewBuilder(testConfig(2), testBlockhash())
	result, err := b.Build(context.Background(), lines, &transferFactory{dest: solana.NewWallet().PublicKey()}, nil, feePayer)
	require.NoError(t, err)
	require.NotNil(t, result.Bundle)

	for _, u := range result.Bundle.Units {
		raw, err := u.Tx.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, len(raw), u.Size, "recorded size must match the signed wire size")
		assert.LessOrEqual(t, u.Size, DefaultConfig().MaxWireSize)

		// fee payer plus every batched actor signed
		assert.Len(t, u.Tx.Signatures, len(u.Actors)+1)
		for _, sig := range u.Tx.Signatures {
			assert.NotEqual(t, solana.Signature{}, sig)
		}
		assert.NotEmpty(t, u.Signature())
	}

	sigs := result.Bundle.Signatures()
	require.Len(t, sigs, len(result.Bundle.Units))
	assert.Equal(t, result.Bundle.Units[0].Signature(), sigs[0])
}

func TestBuilder_Build_TipOnFinalUnitOnly(t *testing.T) {
	lines := testLines(t, 5)
	feePayer, err := wallet.NewRandomKeypair()
	require.NoError(t, err)

	cfg := testConfig(2)
	b := NewBuilder(cfg, testBlockhash())
	result, err := b.Build(context.Background(), lines, &transferFactory{dest: solana.NewWallet().PublicKey()}, nil, feePayer)
	require.NoError(t, err)
	require.NotNil(t, result.Bundle)
	require.Len(t, result.Bundle.Units, 3)

	collector := result.Bundle.Collector
	assert.Equal(t, cfg.TipCollectors[0], collector)
	assert.Equal(t, cfg.TipLamports, result.Bundle.TipLamports)

	// Only the final unit's message references the collector account.
	units := result.Bundle.Units
	for _, u := range units[:len(units)-1] {
		assert.False(t, messageHasAccount(u.Tx, collector))
	}
	final := units[len(units)-1].Tx
	assert.True(t, messageHasAccount(final, collector))

	// And the tip is its last compiled instruction: a 12-byte system
	// transfer of the configured lamports.
	ixs := final.Message.Instructions
	require.NotEmpty(t, ixs)
	tip := ixs[len(ixs)-1]
	prog, err := final.Message.Program(tip.ProgramIDIndex)
	require.NoError(t, err)
	assert.True(t, prog.Equals(solana.SystemProgramID))
	require.Len(t, []byte(tip.Data), 12)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(tip.Data[0:4]))
	assert.Equal(t, cfg.TipLamports, binary.LittleEndian.Uint64(tip.Data[4:12]))
}

func TestBuilder_Build_OversizedBatchReported(t *testing.T) {
	lines := testLines(t, 4)
	feePayer, err := wallet.NewRandomKeypair()
	require.NoError(t, err)

	cfg := testConfig(2)
	cfg.MaxWireSize = 64 // nothing fits
	b := NewBuilder(cfg, testBlockhash())

	result, err := b.Build(context.Background(), lines, &transferFactory{dest: solana.NewWallet().PublicKey()}, nil, feePayer)
	require.NoError(t, err)

	// Oversized batches are reported with their lines, never dropped.
	assert.Nil(t, result.Bundle)
	require.Len(t, result.TooLarge, 2)
	assert.Len(t, result.TooLarge[0], 2)
	assert.Len(t, result.TooLarge[1], 2)
}

func TestBuilder_Build_TipOverflowMovesToPreviousUnit(t *testing.T) {
	// Two single-actor units where the second carries heavy padding. The
	// ceiling is set one byte under the padded unit's tipped size, so the
	// tip pushes it over and falls back to the first unit.
	lines := testLines(t, 2)
	feePayer, err := wallet.NewRandomKeypair()
	require.NoError(t, err)

	dest := solana.NewWallet().PublicKey()
	factory := &transferFactory{
		dest:    dest,
		padding: map[solana.PublicKey]int{lines[1].Actor.Address: 200},
	}
	blockhash := testBlockhash()

	probe, err := NewBuilder(testConfig(1), blockhash).
		Build(context.Background(), lines, factory, nil, feePayer)
	require.NoError(t, err)
	require.Len(t, probe.Bundle.Units, 2)
	paddedTippedSize := probe.Bundle.Units[1].Size

	cfg := testConfig(1)
	cfg.MaxWireSize = paddedTippedSize - 1
	result, err := NewBuilder(cfg, blockhash).
		Build(context.Background(), lines, factory, nil, feePayer)
	require.NoError(t, err)

	require.NotNil(t, result.Bundle)
	require.Len(t, result.Bundle.Units, 1)
	assert.Equal(t, lines[0].Actor.Address, result.Bundle.Units[0].Actors[0].Address)
	assert.True(t, messageHasAccount(result.Bundle.Units[0].Tx, result.Bundle.Collector),
		"tip must move to the last unit that still fits")

	require.Len(t, result.TooLarge, 1)
	assert.Equal(t, lines[1].Actor.Address, result.TooLarge[0][0].Actor.Address)
}

func TestBuilder_Build_LookupTablesShrinkUnits(t *testing.T) {
	lines := testLines(t, 3)
	feePayer, err := wallet.NewRandomKeypair()
	require.NoError(t, err)

	dest := solana.NewWallet().PublicKey()
	shared := []solana.PublicKey{
		solana.NewWallet().PublicKey(),
		solana.NewWallet().PublicKey(),
		solana.NewWallet().PublicKey(),
		solana.NewWallet().PublicKey(),
	}
	factory := &transferFactory{dest: dest, shared: shared}
	blockhash := testBlockhash()

	plain, err := NewBuilder(testConfig(3), blockhash).
		Build(context.Background(), lines, factory, nil, feePayer)
	require.NoError(t, err)
	require.Len(t, plain.Bundle.Units, 1)

	table := &lookup.Table{
		Address:   solana.NewWallet().PublicKey(),
		Members:   append([]solana.PublicKey{dest}, shared...),
		FetchedAt: time.Now(),
	}
	compressed, err := NewBuilder(testConfig(3), blockhash).
		Build(context.Background(), lines, factory, []*lookup.Table{table}, feePayer)
	require.NoError(t, err)
	require.Len(t, compressed.Bundle.Units, 1)

	assert.Less(t, compressed.Bundle.Units[0].Size, plain.Bundle.Units[0].Size,
		"a table covering a shared account must shrink the unit")
}

func TestBuilder_Build_InputValidation(t *testing.T) {
	feePayer, err := wallet.NewRandomKeypair()
	require.NoError(t, err)
	b := NewBuilder(testConfig(2), testBlockhash())

	_, err = b.Build(context.Background(), nil, &transferFactory{}, nil, feePayer)
	assert.ErrorIs(t, err, ErrNoLines)

	_, err = b.Build(context.Background(), testLines(t, 1), &transferFactory{}, nil, nil)
	assert.ErrorIs(t, err, ErrNoFeePayer)

	// No collector configured: the tip would burn lamports to the zero
	// address, so the build is rejected up front.
	bare := NewBuilder(DefaultConfig(), testBlockhash())
	_, err = bare.Build(context.Background(), testLines(t, 1), &transferFactory{dest: solana.NewWallet().PublicKey()}, nil, feePayer)
	assert.ErrorIs(t, err, ErrNoCollectors)
}

func TestBuilder_Build_MissingSignerAborts(t *testing.T) {
	lines := testLines(t, 1)
	// Strip the actor's signing capability so the required signer cannot
	// be satisfied.
	lines[0].Actor.Keys = nil

	feePayer, err := wallet.NewRandomKeypair()
	require.NoError(t, err)

	b := NewBuilder(testConfig(1), testBlockhash())
	_, err = b.Build(context.Background(), lines, &transferFactory{dest: solana.NewWallet().PublicKey()}, nil, feePayer)
	assert.Error(t, err)
}
