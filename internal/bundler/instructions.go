package bundler

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// NewComputeUnitLimitIx builds a ComputeBudget SetComputeUnitLimit instruction.
// Layout: u8 discriminator (2), u32 units.
func NewComputeUnitLimitIx(units uint32) solana.Instruction {
	data := make([]byte, 1+4)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:5], units)
	return solana.NewInstruction(computeBudgetProgramID, nil, data)
}

// NewComputeUnitPriceIx builds a ComputeBudget SetComputeUnitPrice instruction.
// Layout: u8 discriminator (3), u64 micro-lamports per compute unit.
func NewComputeUnitPriceIx(microLamports uint64) solana.Instruction {
	data := make([]byte, 1+8)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:9], microLamports)
	return solana.NewInstruction(computeBudgetProgramID, nil, data)
}

// NewTipIx builds the relay incentive: a SystemProgram transfer to a
// collector account. Layout: u32 instruction index (2 = Transfer), u64 lamports.
func NewTipIx(from, collector solana.PublicKey, lamports uint64) solana.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	accounts := []*solana.AccountMeta{
		{PublicKey: from, IsSigner: true, IsWritable: true},
		{PublicKey: collector, IsSigner: false, IsWritable: true},
	}
	return solana.NewInstruction(solana.SystemProgramID, accounts, data)
}

// IsTipIx reports whether ix is a tip transfer built by NewTipIx
func IsTipIx(ix solana.Instruction) bool {
	if !ix.ProgramID().Equals(solana.SystemProgramID) {
		return false
	}
	data, err := ix.Data()
	if err != nil || len(data) != 12 {
		return false
	}
	return binary.LittleEndian.Uint32(data[0:4]) == 2
}
