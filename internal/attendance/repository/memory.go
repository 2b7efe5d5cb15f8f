package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"proctoring-engine/internal/attendance/domain"
)

type recordKey struct {
	studentID string
	date      time.Time
}

// MemoryRepository is an in-process Repository for development and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[recordKey]*domain.Record
	reports []*domain.Report
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[recordKey]*domain.Record)}
}

func copyRecord(r *domain.Record) *domain.Record {
	c := *r
	if r.MarkedAt != nil {
		t := *r.MarkedAt
		c.MarkedAt = &t
	}
	return &c
}

func copyReport(r *domain.Report) *domain.Report {
	c := *r
	c.Present = append([]string(nil), r.Present...)
	c.Absent = append([]string(nil), r.Absent...)
	c.Recognitions = append([]domain.Recognition(nil), r.Recognitions...)
	return &c
}

func (m *MemoryRepository) InsertIfMissing(ctx context.Context, rec *domain.Record) (bool, error) {
	key := recordKey{rec.StudentID, domain.DateOf(rec.Date)}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	c := copyRecord(rec)
	c.Date = key.date
	m.records[key] = c
	return true, nil
}

func (m *MemoryRepository) MarkPresent(ctx context.Context, sessionKey, studentID string, date, at time.Time, confidence float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey{studentID, domain.DateOf(date)}]
	if !ok || rec.SessionKey != sessionKey || rec.Mark != domain.MarkAbsent {
		return false, nil
	}
	rec.Mark = domain.MarkPresent
	rec.MarkedAt = &at
	rec.Confidence = confidence
	return true, nil
}

func (m *MemoryRepository) ListBySession(ctx context.Context, sessionKey string, date time.Time) ([]*domain.Record, error) {
	day := domain.DateOf(date)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Record
	for k, r := range m.records {
		if k.date.Equal(day) && r.SessionKey == sessionKey {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

func (m *MemoryRepository) SaveReport(ctx context.Context, r *domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, copyReport(r))
	return nil
}

func (m *MemoryRepository) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reports {
		if r.ID == id {
			return copyReport(r), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) ListReports(ctx context.Context, sessionKey string, limit int) ([]*domain.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Report
	for i := len(m.reports) - 1; i >= 0; i-- {
		if m.reports[i].SessionKey != sessionKey {
			continue
		}
		out = append(out, copyReport(m.reports[i]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
