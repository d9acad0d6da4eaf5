package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"opsboard/internal/domain"
)

// Memory is an in-process Ledger.
type Memory struct {
	mu      sync.RWMutex
	entries []domain.PointsEntry
	ids     map[string]struct{}
	Now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{ids: map[string]struct{}{}, Now: time.Now}
}

func (m *Memory) Append(_ context.Context, e domain.PointsEntry) (domain.PointsEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := Validate(e); err != nil {
		return domain.PointsEntry{}, err
	}
	if e.SourceID != nil {
		id := *e.SourceID
		e.SourceID = &id
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = map[string]struct{}{}
	}
	if _, ok := m.ids[e.ID]; ok {
		return domain.PointsEntry{}, fmt.Errorf("ledger entry %s already exists", e.ID)
	}
	if e.CreatedAt == "" && m.Now != nil {
		e.CreatedAt = m.Now().UTC().Format(time.RFC3339)
	}
	m.ids[e.ID] = struct{}{}
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *Memory) TotalFor(_ context.Context, ownerID string, r DateRange) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TotalFor(m.entries, ownerID, r), nil
}

func (m *Memory) Rank(_ context.Context, r DateRange) ([]Standing, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Rank(m.entries, r), nil
}

// Entries returns a copy of every stored entry in append order.
func (m *Memory) Entries() []domain.PointsEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PointsEntry, len(m.entries))
	copy(out, m.entries)
	return out
}
