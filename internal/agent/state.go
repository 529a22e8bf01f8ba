package agent

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dreamware/segstart/internal/protocol"
)

// ErrSegmentNotFound is returned by StateStore.Get for a dbid never
// started by this agent.
var ErrSegmentNotFound = errors.New("segment not found")

// SegmentState is the last outcome the agent recorded for a segment.
type SegmentState struct {
	Updated    time.Time       `json:"updated"`
	DispatchID string          `json:"dispatch_id"`
	TargetMode string          `json:"target_mode"`
	Status     protocol.Status `json:"status"`
	DbID       int             `json:"dbid"`
	Port       int             `json:"port"`
	Duration   time.Duration   `json:"duration"`
}

// StateStore keeps the latest SegmentState per dbid in memory.
// Thread-safe: All methods are safe for concurrent access.
type StateStore struct {
	mu     sync.RWMutex
	states map[int]SegmentState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[int]SegmentState)}
}

// Put replaces the state recorded for s.DbID.
func (m *StateStore) Put(s SegmentState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.DbID] = s
}

func (m *StateStore) Get(dbid int) (SegmentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[dbid]
	if !ok {
		return SegmentState{}, ErrSegmentNotFound
	}
	return s, nil
}

// List returns every recorded state ordered by dbid.
func (m *StateStore) List() []SegmentState {
	m.mu.RLock()
	out := make([]SegmentState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DbID < out[j].DbID })
	return out
}
