package core

import (
	"sync"
	"time"

	"github.com/JonMunkholm/fhirmap/internal/store"
)

// historySize is how many loads are remembered without a database.
const historySize = 50

// loadHistory keeps recent loads in memory, newest last.
type loadHistory struct {
	mu    sync.Mutex
	loads []store.Load
}

func (h *loadHistory) add(l store.Load) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.loads) == historySize {
		copy(h.loads, h.loads[1:])
		h.loads = h.loads[:historySize-1]
	}
	h.loads = append(h.loads, l)
}

// recent returns up to limit loads, newest first.
func (h *loadHistory) recent(limit int) []store.Load {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.loads)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]store.Load, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.loads[i])
	}
	return out
}

// prune drops loads started before cutoff and returns how many went.
func (h *loadHistory) prune(cutoff time.Time) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.loads[:0]
	for _, l := range h.loads {
		if !l.StartedAt.Before(cutoff) {
			kept = append(kept, l)
		}
	}
	removed := int64(len(h.loads) - len(kept))
	clear(h.loads[len(kept):])
	h.loads = kept
	return removed
}
