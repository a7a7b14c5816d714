package llmrouter

import "sync"

// Memory is a bounded per-episode ring of Turns, prepended to the
// provider prompt on analyze and appended to on return.
type Memory struct {
	mu      sync.Mutex
	turns   map[string][]Turn
	maxSize int
}

// NewMemory creates a Memory retaining up to maxSize turns per episode
// ID (default 20 if <= 0).
func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 20
	}
	return &Memory{turns: make(map[string][]Turn), maxSize: maxSize}
}

// History returns a copy of the retained turns for episodeID, oldest
// first.
func (m *Memory) History(episodeID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns[episodeID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Append adds a turn to episodeID's ring, evicting the oldest entry once
// maxSize is exceeded.
func (m *Memory) Append(episodeID string, turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := append(m.turns[episodeID], turn)
	if len(turns) > m.maxSize {
		turns = turns[len(turns)-m.maxSize:]
	}
	m.turns[episodeID] = turns
}
