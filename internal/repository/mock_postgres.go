package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nadmax/resqview/internal/repository/models"
)

var _ ActionRepository = (*MockActionRepository)(nil)

// MockActionRepository is an in-memory ActionRepository for handler tests.
type MockActionRepository struct {
	mu                 sync.Mutex
	Actions            []models.Action
	LogActionCalls     []models.Action
	RecentActionsCalls []int
	LogActionError     error
	RecentActionsError error
	ActionStatsError   error
	Closed             bool
}

func NewMockActionRepository() *MockActionRepository {
	return &MockActionRepository{
		Actions:        make([]models.Action, 0),
		LogActionCalls: make([]models.Action, 0),
	}
}

func (m *MockActionRepository) LogAction(ctx context.Context, a *models.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LogActionCalls = append(m.LogActionCalls, *a)

	if m.LogActionError != nil {
		return m.LogActionError
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.Actions = append(m.Actions, *a)
	return nil
}

func (m *MockActionRepository) RecentActions(ctx context.Context, limit int) ([]models.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecentActionsCalls = append(m.RecentActionsCalls, limit)

	if m.RecentActionsError != nil {
		return nil, m.RecentActionsError
	}

	out := make([]models.Action, 0, min(limit, len(m.Actions)))
	for i := len(m.Actions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Actions[i])
	}
	return out, nil
}

func (m *MockActionRepository) ActionsByType(ctx context.Context, action string, limit int) ([]models.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecentActionsError != nil {
		return nil, m.RecentActionsError
	}

	out := []models.Action{}
	for i := len(m.Actions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.Actions[i].Action == action {
			out = append(out, m.Actions[i])
		}
	}
	return out, nil
}

func (m *MockActionRepository) ActionStats(ctx context.Context, hours int) ([]models.ActionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ActionStatsError != nil {
		return nil, m.ActionStatsError
	}

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	index := make(map[string]int)
	stats := []models.ActionStats{}
	for _, a := range m.Actions {
		if a.CreatedAt.Before(cutoff) {
			continue
		}
		i, ok := index[a.Action]
		if !ok {
			i = len(stats)
			index[a.Action] = i
			stats = append(stats, models.ActionStats{Action: a.Action})
		}
		stats[i].Count++
		stats[i].Affected += a.Affected
		if a.Error != "" {
			stats[i].Failures++
		}
	}
	return stats, nil
}

func (m *MockActionRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Closed = true
	return nil
}
