package auth

import (
	"container/heap"
	"time"
)

// expiryEntry tracks one session's expiry for the sweep heap.
type expiryEntry struct {
	sessionID string
	expiresAt time.Time
}

// expiryHeap is a min-heap ordered by expiresAt, giving the background
// sweep O(log n) insert and O(k log n) eviction of the k expired entries
// instead of a full table scan.
type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// sessionExpiryIndex wraps expiryHeap with the push/pop-expired operations
// the manager's sweep needs. Not safe for concurrent use; it is only ever
// touched from the manager's single owning goroutine.
type sessionExpiryIndex struct {
	h expiryHeap
}

func newSessionExpiryIndex() *sessionExpiryIndex {
	idx := &sessionExpiryIndex{h: make(expiryHeap, 0)}
	heap.Init(&idx.h)
	return idx
}

func (s *sessionExpiryIndex) add(sessionID string, expiresAt time.Time) {
	heap.Push(&s.h, expiryEntry{sessionID: sessionID, expiresAt: expiresAt})
}

// popExpired removes and returns every entry whose expiry is at or before
// now, in ascending expiry order.
func (s *sessionExpiryIndex) popExpired(now time.Time) []string {
	var out []string
	for s.h.Len() > 0 && !s.h[0].expiresAt.After(now) {
		entry := heap.Pop(&s.h).(expiryEntry)
		out = append(out, entry.sessionID)
	}
	return out
}
