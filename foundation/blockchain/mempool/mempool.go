// Package mempool caches signed transactions awaiting inclusion in a
// candidate block. Every entry is keyed on its origin, so the pool can
// never hold more than one pending transaction per validator — the
// block-assembly invariant of at most one transaction per origin per
// block falls straight out of that key shape, the way the teacher's
// account:nonce composite key enforced its own invariants.
package mempool

import (
	"sort"
	"sync"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
)

// DefaultCapacity bounds the pool so a flood of signed transactions from
// distinct origins cannot grow it without limit (§9 design note on
// unbounded pools).
const DefaultCapacity = 10_000

// entry pairs a transaction with the pool-local sequence it was inserted
// at, so the FIFO selector can recover insertion order without relying on
// map iteration order.
type entry struct {
	tx  database.Transaction
	seq uint64
}

// Mempool is a bounded, origin-keyed pool of signed transactions.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]entry
	capacity int
	next     uint64
}

// New constructs an empty pool with the default capacity.
func New() *Mempool {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity constructs an empty pool bounded at capacity entries.
func NewWithCapacity(capacity int) *Mempool {
	return &Mempool{
		pool:     make(map[string]entry),
		capacity: capacity,
	}
}

// Count returns the number of transactions currently pooled.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.pool)
}

// Upsert adds or replaces the pooled transaction for tx's origin. It
// returns false, dropping the transaction, if: the pool is full and tx's
// origin is not already present (the documented drop policy for a pool at
// capacity); or a transaction with the same (origin, ident) is already
// pending, the duplicate-submission rejection of §4.4's stack contract.
func (mp *Mempool) Upsert(tx database.Transaction) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	existing, exists := mp.pool[tx.Origin]
	if exists && existing.tx.Ident == tx.Ident {
		return false
	}
	if !exists && len(mp.pool) >= mp.capacity {
		return false
	}

	mp.pool[tx.Origin] = entry{tx: tx, seq: mp.next}
	mp.next++
	return true
}

// Pending reports the ident of the transaction currently pooled for origin,
// if any.
func (mp *Mempool) Pending(origin string) (string, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	e, ok := mp.pool[origin]
	if !ok {
		return "", false
	}
	return e.tx.Ident, true
}

// Delete removes the pooled transaction for origin, if any.
func (mp *Mempool) Delete(origin string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	delete(mp.pool, origin)
}

// DeleteCommitted removes every transaction in block's transaction list
// from the pool, called once a block including them commits.
func (mp *Mempool) DeleteCommitted(block database.Block) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for _, tx := range block.Tx {
		delete(mp.pool, tx.Origin)
	}
}

// Truncate clears every pooled transaction.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.pool = make(map[string]entry)
}

// Copy returns every pooled transaction, in FIFO insertion order, for
// read-only inspection (the HTTP `/pool/transactions` endpoint).
func (mp *Mempool) Copy() []database.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.pickLocked(-1)
}

// PickBest returns up to howMany pooled transactions in FIFO insertion
// order. Pass -1 for every pooled transaction. Since the pool already
// holds at most one transaction per origin, this is the one-per-origin
// candidate list the block factory assembles directly.
func (mp *Mempool) PickBest(howMany int) []database.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.pickLocked(howMany)
}

func (mp *Mempool) pickLocked(howMany int) []database.Transaction {
	entries := make([]entry, 0, len(mp.pool))
	for _, e := range mp.pool {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	if howMany < 0 || howMany > len(entries) {
		howMany = len(entries)
	}
	out := make([]database.Transaction, howMany)
	for i := 0; i < howMany; i++ {
		out[i] = entries[i].tx
	}
	return out
}
