package allocator

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
)

func testActors(t *testing.T, balances ...uint64) []*models.Actor {
	t.Helper()
	actors := make([]*models.Actor, 0, len(balances))
	for i, b := range balances {
		keys, err := wallet.NewRandomKeypair()
		require.NoError(t, err)
		actors = append(actors, models.NewActor(keys, b, fmt.Sprintf("actor-%d", i+1)))
	}
	return actors
}

func seededPlanner(seed int64) *Planner {
	cfg := DefaultConfig()
	cfg.Rand = rand.New(rand.NewSource(seed))
	return NewPlanner(cfg)
}

func TestPlanner_ConservesTarget(t *testing.T) {
	actors := testActors(t, 2_000_000_000, 2_000_000_000, 2_000_000_000, 2_000_000_000)
	p := seededPlanner(1)

	target := uint64(1_000_000_000)
	lines, err := p.Plan(actors, target)
	require.NoError(t, err)
	require.NotEmpty(t, lines)

	// Every actor is comfortably funded, so no line is capped or dropped
	// and the last line absorbs the exact remainder.
	assert.Equal(t, target, Total(lines))
	for _, l := range lines {
		assert.GreaterOrEqual(t, l.Amount, DefaultConfig().MinAllocation)
	}
}

func TestPlanner_NeverOverAllocates(t *testing.T) {
	// Mixed balances force caps and drops; the sum can fall short of the
	// target but must never exceed it.
	actors := testActors(t, 60_000_000, 2_000_000_000, 14_000_000, 900_000_000)
	for seed := int64(0); seed < 20; seed++ {
		lines, err := seededPlanner(seed).Plan(actors, 500_000_000)
		require.NoError(t, err)
		assert.LessOrEqual(t, Total(lines), uint64(500_000_000), "seed %d", seed)
	}
}

func TestPlanner_DustActorsExcluded(t *testing.T) {
	actors := testActors(t, 500_000, 2_000_000_000, 999_999)
	p := seededPlanner(7)

	lines, err := p.Plan(actors, 100_000_000)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, actors[1].Address, lines[0].Actor.Address)
}

func TestPlanner_AllDust(t *testing.T) {
	actors := testActors(t, 100, 900_000)
	_, err := seededPlanner(7).Plan(actors, 100_000_000)
	assert.ErrorIs(t, err, ErrNoEligibleActors)
}

func TestPlanner_TargetExceedsPool(t *testing.T) {
	actors := testActors(t, 100_000_000, 100_000_000)
	// 200M pool, 95% headroom = 190M; asking for 195M must be rejected.
	_, err := seededPlanner(7).Plan(actors, 195_000_000)
	assert.ErrorIs(t, err, ErrInsufficientPool)
}

func TestPlanner_RespectsSpendableCap(t *testing.T) {
	// One thin actor among whales: its line can never dip into the fee
	// reserve it keeps back.
	cfg := DefaultConfig()
	actors := testActors(t, 40_000_000, 5_000_000_000, 5_000_000_000)

	for seed := int64(0); seed < 20; seed++ {
		lines, err := seededPlanner(seed).Plan(actors, 1_000_000_000)
		require.NoError(t, err)
		for _, l := range lines {
			if l.Actor.Address == actors[0].Address {
				assert.LessOrEqual(t, l.Amount, actors[0].Balance-cfg.FeeReserve)
			}
		}
	}
}

func TestPlanner_DropsSubMinimumLines(t *testing.T) {
	// Actor 1 can spend at most 6M after the fee reserve, below the 10M
	// minimum, so it never appears in the plan.
	actors := testActors(t, 11_000_000, 3_000_000_000, 3_000_000_000)

	for seed := int64(0); seed < 20; seed++ {
		lines, err := seededPlanner(seed).Plan(actors, 800_000_000)
		require.NoError(t, err)
		for _, l := range lines {
			assert.NotEqual(t, actors[0].Address, l.Actor.Address, "seed %d", seed)
		}
	}
}

func TestPlanner_JitterVariesShares(t *testing.T) {
	actors := testActors(t, 5_000_000_000, 5_000_000_000, 5_000_000_000, 5_000_000_000, 5_000_000_000)
	lines, err := seededPlanner(42).Plan(actors, 2_000_000_000)
	require.NoError(t, err)
	require.Greater(t, len(lines), 2)

	// A uniform split would give every non-final line the same amount.
	distinct := make(map[uint64]struct{})
	for _, l := range lines[:len(lines)-1] {
		distinct[l.Amount] = struct{}{}
	}
	assert.Greater(t, len(distinct), 1, "non-final shares should not all be equal")
}

func TestShareCap(t *testing.T) {
	assert.Equal(t, uint64(800), shareCap(1_000))
	assert.Equal(t, uint64(16), shareCap(20))

	// Small remainders keep ~80% instead of collapsing to zero.
	assert.Equal(t, uint64(8), shareCap(9))
	assert.Equal(t, uint64(1), shareCap(1))
	assert.Equal(t, uint64(0), shareCap(0))
}

func TestPlanner_FreshLinesPerCall(t *testing.T) {
	actors := testActors(t, 2_000_000_000, 2_000_000_000)
	p := seededPlanner(3)

	first, err := p.Plan(actors, 500_000_000)
	require.NoError(t, err)
	second, err := p.Plan(actors, 500_000_000)
	require.NoError(t, err)

	// Same total either way, but the slices are independent allocations.
	assert.Equal(t, Total(first), Total(second))
	if len(first) > 0 && len(second) > 0 {
		assert.NotSame(t, &first[0], &second[0])
	}
}
