package lookup

import (
	"bytes"
	"sort"

	"github.com/gagliardetto/solana-go"
)

// SelectTables picks the cached tables that best compress the candidate
// address set. Pure function of the current cache state: no fetching, no
// randomness, deterministic order for identical snapshots.
//
// This is a fixed-priority greedy: tables are ranked once by how many
// candidates they contain and that ranking is not recomputed as tables
// are chosen. A fully re-optimizing greedy could occasionally pick a
// better set; the single pass is simpler, cheap and good enough for the
// handful of tables a bundle can reference anyway.
func (c *Cache) SelectTables(candidates []solana.PublicKey) []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()

	deduped := make(map[solana.PublicKey]struct{}, len(candidates))
	for _, a := range candidates {
		deduped[a] = struct{}{}
	}

	// Count, per table, how many candidates it contains. Candidates with
	// no covering table simply cannot be compressed and drop out here.
	counts := make(map[solana.PublicKey]int)
	remaining := make(map[solana.PublicKey]struct{})
	for a := range deduped {
		tables, ok := c.containing[a]
		if !ok || len(tables) == 0 {
			continue
		}
		remaining[a] = struct{}{}
		for addr := range tables {
			counts[addr]++
		}
	}
	if len(remaining) == 0 {
		return nil
	}

	ranked := make([]solana.PublicKey, 0, len(counts))
	for addr := range counts {
		ranked = append(ranked, addr)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		// Stable order for equal counts so repeated calls agree.
		return bytes.Compare(ranked[i][:], ranked[j][:]) < 0
	})

	var selected []*Table
	for _, addr := range ranked {
		// The benefit threshold is judged against the full candidate
		// set, not the shrinking remainder: a table whose members were
		// partially claimed by an earlier pick still earns its slot when
		// it covers enough of the overall set.
		if counts[addr] < c.minMatch {
			break // ranked descending, nothing later qualifies either
		}

		t := c.tables[addr]
		match := 0
		for _, m := range t.Members {
			if _, ok := remaining[m]; ok {
				delete(remaining, m)
				match++
			}
		}
		if match == 0 {
			continue // fully shadowed by earlier picks, not worth a reference
		}
		selected = append(selected, t)

		// A table already ranked as covering enough of the overall set
		// may still claim the last remaining address, so the exhaustion
		// check runs after each pick rather than gating the next one.
		if len(selected) >= c.maxTables || len(remaining) == 0 {
			break
		}
	}

	return selected
}
