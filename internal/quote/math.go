package quote

import (
	"math/big"
)

// Quote is an estimated swap output with its slippage-bounded minimum.
// Fallback marks low-confidence quotes produced when reserve data was
// unusable; callers must treat the MinOut of a fallback quote as advisory.
type Quote struct {
	ExpectedOut uint64
	MinOut      uint64
	Fallback    bool
}

// FallbackEstimate is the fixed nominal output used when reserves are
// zero or unavailable. Deliberately small so a fallback MinOut never
// overstates what the chain will pay out.
const FallbackEstimate uint64 = 1

// Compute prices amountIn against constant-product reserves and applies
// the slippage tolerance:
//
//	expectedOut = floor(amountIn*reserveOut / (reserveIn+amountIn))
//	minOut      = floor(expectedOut * (100-slippagePercent) / 100)
//
// All arithmetic is big.Int; the ledger does integer math and any float
// rounding here would diverge from the on-chain result and get the
// downstream instruction rejected.
func Compute(reserveIn, reserveOut, amountIn uint64, slippagePercent uint64) Quote {
	if reserveIn == 0 || reserveOut == 0 || amountIn == 0 {
		return fallbackQuote(slippagePercent)
	}

	rIn := new(big.Int).SetUint64(reserveIn)
	rOut := new(big.Int).SetUint64(reserveOut)
	in := new(big.Int).SetUint64(amountIn)

	numerator := new(big.Int).Mul(in, rOut)
	denom := new(big.Int).Add(rIn, in)
	expected := new(big.Int).Div(numerator, denom)
	if !expected.IsUint64() {
		return fallbackQuote(slippagePercent)
	}

	q := Quote{ExpectedOut: expected.Uint64()}
	q.MinOut = applySlippage(q.ExpectedOut, slippagePercent)
	return q
}

func applySlippage(amount uint64, slippagePercent uint64) uint64 {
	if slippagePercent >= 100 {
		return 0
	}
	out := new(big.Int).SetUint64(amount)
	out.Mul(out, new(big.Int).SetUint64(100-slippagePercent))
	out.Div(out, big.NewInt(100))
	return out.Uint64()
}

func fallbackQuote(slippagePercent uint64) Quote {
	return Quote{
		ExpectedOut: FallbackEstimate,
		MinOut:      applySlippage(FallbackEstimate, slippagePercent),
		Fallback:    true,
	}
}
