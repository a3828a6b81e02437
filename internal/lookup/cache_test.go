package lookup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
)

// countingFetcher serves raw table images and counts fetches per address.
type countingFetcher struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	calls    map[solana.PublicKey]int
	delay    time.Duration
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		accounts: make(map[solana.PublicKey][]byte),
		calls:    make(map[solana.PublicKey]int),
	}
}

func (f *countingFetcher) add(addr solana.PublicKey, members ...solana.PublicKey) {
	f.accounts[addr] = rawTableData(members...)
}

func (f *countingFetcher) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	f.calls[pubkey]++
	data, ok := f.accounts[pubkey]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if !ok {
		return nil, rpc.ErrAccountNotFound
	}
	return data, nil
}

func (f *countingFetcher) fetchCount(addr solana.PublicKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[addr]
}

func TestCache_GetTable(t *testing.T) {
	addr := solana.NewWallet().PublicKey()
	member := solana.NewWallet().PublicKey()

	fetcher := newCountingFetcher()
	fetcher.add(addr, member)
	cache := NewCache(CacheConfig{Fetcher: fetcher})

	table, err := cache.GetTable(context.Background(), addr)
	require.NoError(t, err)
	assert.True(t, table.Contains(member))

	// Second read is served from the cache.
	_, err = cache.GetTable(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.fetchCount(addr))
	assert.Equal(t, 1, cache.Len())
}

func TestCache_GetTable_NotFound(t *testing.T) {
	cache := NewCache(CacheConfig{Fetcher: newCountingFetcher()})

	_, err := cache.GetTable(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrTableNotFound)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_GetTable_SharedFetch(t *testing.T) {
	addr := solana.NewWallet().PublicKey()
	fetcher := newCountingFetcher()
	fetcher.add(addr, solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	fetcher.delay = 20 * time.Millisecond
	cache := NewCache(CacheConfig{Fetcher: fetcher})

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetTable(context.Background(), addr); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, 1, fetcher.fetchCount(addr), "concurrent misses must share one fetch")
}

func TestCache_GetTable_DistinctAddressesFetchIndependently(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	fetcher := newCountingFetcher()
	fetcher.add(a, solana.NewWallet().PublicKey())
	fetcher.add(b, solana.NewWallet().PublicKey())
	cache := NewCache(CacheConfig{Fetcher: fetcher})

	var wg sync.WaitGroup
	for _, addr := range []solana.PublicKey{a, b} {
		wg.Add(1)
		go func(addr solana.PublicKey) {
			defer wg.Done()
			_, err := cache.GetTable(context.Background(), addr)
			assert.NoError(t, err)
		}(addr)
	}
	wg.Wait()

	assert.Equal(t, 2, cache.Len())
}

func TestCache_GetTable_ContextCancelled(t *testing.T) {
	cache := NewCache(CacheConfig{Fetcher: newCountingFetcher()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The address is held inflight by another goroutine forever, so the
	// waiter must give up with the context error.
	addr := solana.NewWallet().PublicKey()
	cache.mu.Lock()
	cache.inflight[addr] = make(chan struct{})
	cache.mu.Unlock()

	_, err := cache.GetTable(ctx, addr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCache_Put_ReplacesEntry(t *testing.T) {
	cache := NewCache(CacheConfig{Fetcher: newCountingFetcher()})

	addr := solana.NewWallet().PublicKey()
	oldMember := solana.NewWallet().PublicKey()
	newMember := solana.NewWallet().PublicKey()

	cache.Put(&Table{Address: addr, Members: []solana.PublicKey{oldMember}, FetchedAt: time.Now()})
	cache.Put(&Table{Address: addr, Members: []solana.PublicKey{newMember}, FetchedAt: time.Now()})

	assert.Equal(t, 1, cache.Len())

	// The reverse index must forget the replaced membership.
	assert.Empty(t, cache.SelectTables([]solana.PublicKey{oldMember, oldMember}))
	got := cache.SelectTables([]solana.PublicKey{newMember, newMember})
	require.Len(t, got, 1)
	assert.Equal(t, addr, got[0].Address)
}

func TestCache_MaxAgeForcesRefetch(t *testing.T) {
	addr := solana.NewWallet().PublicKey()
	fetcher := newCountingFetcher()
	fetcher.add(addr, solana.NewWallet().PublicKey())
	cache := NewCache(CacheConfig{Fetcher: fetcher, MaxAge: 10 * time.Millisecond})

	_, err := cache.GetTable(context.Background(), addr)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = cache.GetTable(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.fetchCount(addr))
}

func TestCache_FetchErrorNotCached(t *testing.T) {
	addr := solana.NewWallet().PublicKey()
	fetcher := newCountingFetcher()
	cache := NewCache(CacheConfig{Fetcher: fetcher})

	_, err := cache.GetTable(context.Background(), addr)
	require.Error(t, err)

	// The table appears later (a collaborator created it); the next read
	// fetches again instead of replaying the miss.
	fetcher.mu.Lock()
	fetcher.accounts[addr] = rawTableData(solana.NewWallet().PublicKey())
	fetcher.mu.Unlock()

	_, err = cache.GetTable(context.Background(), addr)
	assert.NoError(t, err)
	assert.Equal(t, 2, fetcher.fetchCount(addr))
}
