package lookup

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

var ErrInvalidTableData = errors.New("invalid address lookup table data")

// altHeaderLen is the fixed header of an address lookup table account:
// u32 discriminator, u64 deactivation slot, u64 last extended slot,
// u8 start index, u8 has_authority, 32-byte authority, 2 bytes padding.
const altHeaderLen = 56

// altDiscriminator marks an initialized lookup table account
const altDiscriminator = 1

// TableCapacity is the on-chain limit on addresses per lookup table
const TableCapacity = 256

// Table is one cached address lookup table. Members keep on-chain order;
// FetchedAt records when this snapshot was taken (a table extended
// on-chain afterwards is stale until re-fetched).
type Table struct {
	Address   solana.PublicKey
	Members   []solana.PublicKey
	FetchedAt time.Time
}

// Contains reports whether addr is a member of the table
func (t *Table) Contains(addr solana.PublicKey) bool {
	for _, m := range t.Members {
		if m.Equals(addr) {
			return true
		}
	}
	return false
}

// ParseTable decodes a lookup table account's raw data into a Table
func ParseTable(address solana.PublicKey, data []byte) (*Table, error) {
	if len(data) < altHeaderLen {
		return nil, ErrInvalidTableData
	}
	if binary.LittleEndian.Uint32(data[0:4]) != altDiscriminator {
		return nil, ErrInvalidTableData
	}
	if (len(data)-altHeaderLen)%32 != 0 {
		return nil, ErrInvalidTableData
	}

	n := (len(data) - altHeaderLen) / 32
	members := make([]solana.PublicKey, 0, n)
	off := altHeaderLen
	for i := 0; i < n; i++ {
		var pk solana.PublicKey
		copy(pk[:], data[off:off+32])
		members = append(members, pk)
		off += 32
	}

	return &Table{
		Address:   address,
		Members:   members,
		FetchedAt: time.Now(),
	}, nil
}
