package repository

import (
	"context"
	"sync"

	"proctoring-engine/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process. Used when no database is configured.
type MemoryRepository struct {
	mu   sync.RWMutex
	logs []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.logs {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) ListByExam(ctx context.Context, examID string, limit, offset int) ([]*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.AuditLog
	skipped := 0
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].ExamID != examID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		c := *m.logs[i]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	c := *a
	m.mu.Lock()
	m.logs = append(m.logs, &c)
	m.mu.Unlock()
	return nil
}
