package bus

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// nonceKey scopes a nonce to its tenant: (tenant_id, nonce) is unique
// within a replay window; duplicates are dropped.
type nonceKey struct {
	tenantID string
	nonce    string
}

// NonceLedger tracks recently-seen (tenant_id, nonce) pairs in a bounded
// LRU so duplicate deliveries under at-least-once semantics are dropped
// without the ledger growing unboundedly.
type NonceLedger struct {
	mu    sync.Mutex
	cache *lru.Cache[nonceKey, struct{}]
}

// NewNonceLedger creates a ledger retaining up to size recent nonces.
func NewNonceLedger(size int) *NonceLedger {
	if size <= 0 {
		size = 100000
	}
	cache, _ := lru.New[nonceKey, struct{}](size)
	return &NonceLedger{cache: cache}
}

// Seen reports whether (tenantID, nonce) has already been recorded as
// successfully processed. It does not record anything itself: a message
// still in flight (nacked, awaiting retry) must keep reaching the handler,
// so recording happens only once Decision == Ack (see Record).
func (l *NonceLedger) Seen(tenantID, nonce string) bool {
	key := nonceKey{tenantID: tenantID, nonce: nonce}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.cache.Get(key)
	return ok
}

// Record marks (tenantID, nonce) as done, so any later duplicate delivery
// of the same message is dropped instead of reprocessed.
func (l *NonceLedger) Record(tenantID, nonce string) {
	key := nonceKey{tenantID: tenantID, nonce: nonce}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Add(key, struct{}{})
}
