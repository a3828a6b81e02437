package models

import (
	"github.com/gagliardetto/solana-go"

	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
)

// Actor is one signing party participating in a bundle. Balance is a
// snapshot taken by the caller; this subsystem never refreshes it.
type Actor struct {
	Address solana.PublicKey
	Keys    *wallet.Keypair // signing capability, external custody
	Balance uint64          // lamports at snapshot time
	Label   string
}

// NewActor builds an Actor from its keypair and a balance snapshot
func NewActor(keys *wallet.Keypair, balance uint64, label string) *Actor {
	return &Actor{
		Address: keys.PublicKey(),
		Keys:    keys,
		Balance: balance,
		Label:   label,
	}
}
