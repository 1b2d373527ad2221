package usecase

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/example/skinsight/internal/prediction"
)

// Status is the visible state of a session's result slot.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusAnalyzing Status = "analyzing"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
)

// Slot is the single visible result for a client session.
type Slot struct {
	SessionID   string                  `json:"session_id"`
	RequestID   string                  `json:"request_id"`
	Status      Status                  `json:"status"`
	Predictions []prediction.Prediction `json:"predictions,omitempty"`
	Error       string                  `json:"error,omitempty"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// generations tracks the newest upload per session so that older uploads
// finishing late cannot overwrite the slot. Generation numbers are never
// reused, so forgetting a session cannot revive a stale upload.
type generations struct {
	mu      sync.Mutex
	seq     uint64
	current map[string]uint64
}

func newGenerations() *generations {
	return &generations{current: make(map[string]uint64)}
}

// next starts a new generation for session, superseding any in flight.
func (g *generations) next(sessionID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.current[sessionID] = g.seq
	return g.seq
}

// isCurrent reports whether gen is still the newest for session.
func (g *generations) isCurrent(sessionID string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current[sessionID] == gen
}

// forget drops session bookkeeping once gen is done, unless something newer
// has started.
func (g *generations) forget(sessionID string, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current[sessionID] == gen {
		delete(g.current, sessionID)
	}
}

// slotLocks serializes the check-then-write of a session's slot so a
// superseded result cannot land after its successor's write.
type slotLocks [64]sync.Mutex

func (l *slotLocks) forSession(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &l[h.Sum32()%uint32(len(l))]
}
