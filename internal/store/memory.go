package store

import (
	"context"
	"sync"

	"github.com/crowdguard/veritas/internal/ledger"
	"github.com/crowdguard/veritas/internal/trust"
)

// Memory is an in-process store with the same contract as the Postgres
// store. It backs tests and single-node runs without a database.
type Memory struct {
	mu     sync.RWMutex
	events map[string]ledger.Event
	votes  map[string]map[string]ledger.Vote // event_id -> voter_id -> vote
	scores map[string]trust.Score
}

func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]ledger.Event),
		votes:  make(map[string]map[string]ledger.Vote),
		scores: make(map[string]trust.Score),
	}
}

func (m *Memory) GetEvent(_ context.Context, eventID string) (*ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evt, ok := m.events[eventID]
	if !ok {
		return nil, nil
	}
	return &evt, nil
}

func (m *Memory) CreateEvent(_ context.Context, evt ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[evt.ID]; !ok {
		m.events[evt.ID] = evt
	}
	return nil
}

func (m *Memory) UpdateEventStatus(_ context.Context, eventID string, status ledger.EventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evt, ok := m.events[eventID]
	if !ok {
		return nil
	}
	evt.Status = status
	m.events[eventID] = evt
	return nil
}

func (m *Memory) GetVotesForEvent(_ context.Context, eventID string) ([]ledger.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perVoter := m.votes[eventID]
	out := make([]ledger.Vote, 0, len(perVoter))
	for _, v := range perVoter {
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) UpsertVote(_ context.Context, v ledger.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	perVoter, ok := m.votes[v.EventID]
	if !ok {
		perVoter = make(map[string]ledger.Vote)
		m.votes[v.EventID] = perVoter
	}
	perVoter[v.VoterID] = v
	return nil
}

func (m *Memory) GetTrustScore(_ context.Context, userID string) (*trust.Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.scores[userID]
	if !ok {
		return nil, nil
	}
	cp := sc
	cp.History = append([]trust.Change(nil), sc.History...)
	return &cp, nil
}

func (m *Memory) PutTrustScore(_ context.Context, sc *trust.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sc
	cp.History = append([]trust.Change(nil), sc.History...)
	m.scores[sc.UserID] = cp
	return nil
}
