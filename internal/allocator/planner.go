package allocator

import (
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
)

var (
	// ErrNoEligibleActors means every actor fell below the dust threshold
	ErrNoEligibleActors = errors.New("no actors above dust threshold")
	// ErrInsufficientPool means the target exceeds 95% of eligible balances
	ErrInsufficientPool = errors.New("target exceeds available pool")
)

// Line assigns part of the target quantity to one actor. Lines are
// produced fresh on every Plan call and never cached.
type Line struct {
	Actor  *models.Actor
	Amount uint64
}

// Config controls how a target quantity is spread across actors
type Config struct {
	DustThreshold uint64 // actors below this balance are ignored
	FeeReserve    uint64 // lamports each actor keeps back for fees
	MinAllocation uint64 // lines below this are dropped, not rounded up
	Rand          *rand.Rand
	Logger        *logrus.Logger
}

// DefaultConfig returns conservative allocation settings
func DefaultConfig() Config {
	return Config{
		DustThreshold: 1_000_000,  // 0.001 SOL
		FeeReserve:    5_000_000,  // 0.005 SOL
		MinAllocation: 10_000_000, // 0.01 SOL
	}
}

// Planner spreads a target quantity across a pool of actors
type Planner struct {
	cfg  Config
	rand *rand.Rand
	log  *logrus.Logger
}

func NewPlanner(cfg Config) *Planner {
	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	return &Planner{cfg: cfg, rand: r, log: log}
}

// Plan allocates targetTotal across the eligible actors. Every line but
// the last is a jittered share of the even split, capped by the actor's
// spendable balance and by 80% of what is still unallocated; the last
// actor receives exactly the remainder so the sum comes out to
// targetTotal (minus lines dropped below MinAllocation). The jitter
// exists so a batch of allocations is not trivially fingerprinted as a
// uniform split.
func (p *Planner) Plan(actors []*models.Actor, targetTotal uint64) ([]Line, error) {
	eligible := make([]*models.Actor, 0, len(actors))
	var poolTotal uint64
	for _, a := range actors {
		if a.Balance < p.cfg.DustThreshold {
			continue
		}
		eligible = append(eligible, a)
		poolTotal += a.Balance
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleActors
	}

	// Keep 5% of the pool back as a fee buffer.
	if targetTotal > poolTotal/20*19 {
		p.log.WithFields(logrus.Fields{
			"target": targetTotal,
			"pool":   poolTotal,
		}).Warn("allocation target exceeds 95% of eligible pool")
		return nil, ErrInsufficientPool
	}

	base := targetTotal / uint64(len(eligible))
	remaining := targetTotal
	lines := make([]Line, 0, len(eligible))

	for i, a := range eligible {
		if remaining == 0 {
			break
		}

		var amount uint64
		if i == len(eligible)-1 {
			// Last actor takes the exact remainder, not a jittered share.
			amount = remaining
		} else {
			jitter := 0.7 + p.rand.Float64()*0.6
			amount = uint64(float64(base) * jitter)

			if cap := spendable(a, p.cfg.FeeReserve); amount > cap {
				amount = cap
			}
			if cap := shareCap(remaining); amount > cap {
				amount = cap
			}
		}

		if cap := spendable(a, p.cfg.FeeReserve); amount > cap {
			amount = cap
		}

		if amount < p.cfg.MinAllocation {
			p.log.WithFields(logrus.Fields{
				"actor":  a.Label,
				"amount": amount,
			}).Debug("dropping actor below minimum allocation")
			continue
		}

		lines = append(lines, Line{Actor: a, Amount: amount})
		remaining -= amount
	}

	return lines, nil
}

// Total sums the allocated amounts of a plan
func Total(lines []Line) uint64 {
	var sum uint64
	for _, l := range lines {
		sum += l.Amount
	}
	return sum
}

// shareCap bounds one non-final line at 80% of what is still
// unallocated; a single jittered share never exhausts the remainder.
func shareCap(remaining uint64) uint64 {
	return remaining - remaining/5
}

func spendable(a *models.Actor, feeReserve uint64) uint64 {
	if a.Balance <= feeReserve {
		return 0
	}
	return a.Balance - feeReserve
}
