package bundler

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewComputeUnitLimitIx(t *testing.T) {
	ix := NewComputeUnitLimitIx(400_000)
	assert.True(t, ix.ProgramID().Equals(computeBudgetProgramID))

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 5)
	assert.Equal(t, byte(2), data[0])
	assert.Equal(t, uint32(400_000), binary.LittleEndian.Uint32(data[1:5]))
}

func TestNewComputeUnitPriceIx(t *testing.T) {
	ix := NewComputeUnitPriceIx(10_000)
	assert.True(t, ix.ProgramID().Equals(computeBudgetProgramID))

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 9)
	assert.Equal(t, byte(3), data[0])
	assert.Equal(t, uint64(10_000), binary.LittleEndian.Uint64(data[1:9]))
}

func TestNewTipIx(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	collector := solana.NewWallet().PublicKey()

	ix := NewTipIx(from, collector, 100_000)
	assert.True(t, ix.ProgramID().Equals(solana.SystemProgramID))

	accounts := ix.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, from, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.Equal(t, collector, accounts[1].PublicKey)
	assert.False(t, accounts[1].IsSigner)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 12)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[0:4]))
	assert.Equal(t, uint64(100_000), binary.LittleEndian.Uint64(data[4:12]))

	assert.True(t, IsTipIx(ix))
}

func TestIsTipIx_Negative(t *testing.T) {
	assert.False(t, IsTipIx(NewComputeUnitLimitIx(1)))
	assert.False(t, IsTipIx(NewComputeUnitPriceIx(1)))

	// Right program, wrong layout
	short := solana.NewInstruction(solana.SystemProgramID, nil, []byte{2, 0, 0, 0})
	assert.False(t, IsTipIx(short))
}
