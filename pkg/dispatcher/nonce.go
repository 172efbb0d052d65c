package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// resyncInterval bounds how stale the local nonce counter may get before
// it is re-read from the chain.
const resyncInterval = 5 * time.Minute

// nonceManager allocates transaction nonces for the transport's signing
// account. Concurrent sends each reserve a distinct nonce; a failed send
// returns its nonce to the pool when no lower nonce is still in flight,
// so the account never develops a gap.
type nonceManager struct {
	mu       sync.Mutex
	next     uint64
	pending  map[uint64]time.Time
	lastSync time.Time

	// fetch reads the account's pending nonce from the chain
	fetch func(ctx context.Context) (uint64, error)
}

func newNonceManager(fetch func(ctx context.Context) (uint64, error)) *nonceManager {
	return &nonceManager{
		pending: make(map[uint64]time.Time),
		fetch:   fetch,
	}
}

// Reserve allocates the next nonce, re-syncing with the chain when the
// local counter is stale or uninitialized.
func (nm *nonceManager) Reserve(ctx context.Context) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.lastSync.IsZero() || time.Since(nm.lastSync) > resyncInterval {
		onchain, err := nm.fetch(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if onchain > nm.next {
			nm.next = onchain
		}
		nm.lastSync = time.Now()
	}

	nonce := nm.next
	nm.next++
	nm.pending[nonce] = time.Now()
	return nonce, nil
}

// Confirm releases a nonce whose transaction was accepted.
func (nm *nonceManager) Confirm(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.pending, nonce)
}

// Fail releases a nonce whose transaction was rejected. When it is the
// lowest nonce in flight the counter rewinds so the nonce is reused by
// the next send instead of leaving a gap.
func (nm *nonceManager) Fail(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pending, nonce)
	if nonce < nm.lowestPending() && nonce < nm.next {
		nm.next = nonce
	}
}

// lowestPending returns the smallest in-flight nonce, or the counter
// itself when nothing is in flight. Callers must hold nm.mu.
func (nm *nonceManager) lowestPending() uint64 {
	lowest := nm.next
	for nonce := range nm.pending {
		if nonce < lowest {
			lowest = nonce
		}
	}
	return lowest
}

// PendingCount returns the number of in-flight nonces.
func (nm *nonceManager) PendingCount() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.pending)
}
