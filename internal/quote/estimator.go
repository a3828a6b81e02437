package quote

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// ReserveSource supplies the (in, out) reserves a quote is priced against.
// The math is identical regardless of where reserves come from.
type ReserveSource interface {
	Reserves(ctx context.Context) (reserveIn, reserveOut uint64, err error)
}

// VirtualReserves models a bonding-curve pool whose reserves include an
// offset not backed by real token balances.
type VirtualReserves struct {
	ReserveIn  uint64
	ReserveOut uint64
}

func (v VirtualReserves) Reserves(ctx context.Context) (uint64, uint64, error) {
	return v.ReserveIn, v.ReserveOut, nil
}

// BalanceFetcher reads a token account's raw balance from the ledger
type BalanceFetcher interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// LivePool reads reserves directly from the pool's on-chain vaults
type LivePool struct {
	Client   BalanceFetcher
	VaultIn  solana.PublicKey
	VaultOut solana.PublicKey
}

func (p LivePool) Reserves(ctx context.Context) (uint64, uint64, error) {
	in, err := p.Client.GetTokenAccountBalance(ctx, p.VaultIn)
	if err != nil {
		return 0, 0, err
	}
	out, err := p.Client.GetTokenAccountBalance(ctx, p.VaultOut)
	if err != nil {
		return 0, 0, err
	}
	return in, out, nil
}

// Estimator binds a reserve source to a slippage tolerance
type Estimator struct {
	source   ReserveSource
	slippage uint64 // percent
	logger   *logrus.Logger
}

func NewEstimator(source ReserveSource, slippagePercent uint64, logger *logrus.Logger) *Estimator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Estimator{source: source, slippage: slippagePercent, logger: logger}
}

// Quote prices amountIn against the current reserves. Reserve read
// failures degrade to a fallback quote instead of propagating; reserve
// state changes between calls, so results are never cached.
func (e *Estimator) Quote(ctx context.Context, amountIn uint64) Quote {
	reserveIn, reserveOut, err := e.source.Reserves(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("reserve read failed, using fallback quote")
		return fallbackQuote(e.slippage)
	}
	return Compute(reserveIn, reserveOut, amountIn, e.slippage)
}
