package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"proctoring-engine/internal/ledger"
	"proctoring-engine/internal/session/domain"
)

// MemoryRepository is an in-process Repository. It enforces the live-session uniqueness constraint under
// its own lock so it behaves like the Postgres partial unique index.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	live     map[string]string // student|exam -> session id
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*domain.Session),
		live:     make(map[string]string),
	}
}

func liveKey(studentID, examID string) string {
	return studentID + "|" + examID
}

// GetByID returns a copy of the session, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id].Clone(), nil
}

// GetLive returns a copy of the pair's live session, or nil.
func (r *MemoryRepository) GetLive(ctx context.Context, studentID, examID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.live[liveKey(studentID, examID)]
	if !ok {
		return nil, nil
	}
	return r.sessions[id].Clone(), nil
}

// Create stores s. Returns ErrLiveSessionExists if the pair already has a live session.
func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := liveKey(s.StudentID, s.ExamID)
	if s.Status.IsLive() {
		if _, exists := r.live[key]; exists {
			return ErrLiveSessionExists
		}
		r.live[key] = s.ID
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

// Update replaces the header fields of the stored session; ledgers are left untouched.
func (r *MemoryRepository) Update(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok {
		return ErrSessionMissing
	}
	key := liveKey(cur.StudentID, cur.ExamID)
	if s.Status.IsLive() {
		if other, exists := r.live[key]; exists && other != s.ID {
			return ErrLiveSessionExists
		}
		r.live[key] = s.ID
	} else if r.live[key] == s.ID {
		delete(r.live, key)
	}
	next := s.Clone()
	next.Verifications = cur.Verifications
	next.Violations = cur.Violations
	r.sessions[s.ID] = next
	return nil
}

// AppendVerification appends rec to the session's verification ledger.
func (r *MemoryRepository) AppendVerification(ctx context.Context, rec domain.VerificationRecord) (domain.VerificationRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[rec.SessionID]
	if !ok {
		return domain.VerificationRecord{}, false, ErrSessionMissing
	}
	if rec.IdempotencyKey != "" {
		for _, existing := range s.Verifications {
			if existing.IdempotencyKey == rec.IdempotencyKey {
				return existing, false, nil
			}
		}
	}
	if !s.Status.IsLive() {
		return domain.VerificationRecord{}, false, ErrSessionNotLive
	}
	s.Verifications = append(s.Verifications, rec)
	return rec, true, nil
}

// AppendViolation appends v to the session's violation ledger.
func (r *MemoryRepository) AppendViolation(ctx context.Context, v domain.Violation) (domain.Violation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[v.SessionID]
	if !ok {
		return domain.Violation{}, false, ErrSessionMissing
	}
	if v.IdempotencyKey != "" {
		for _, existing := range s.Violations {
			if existing.IdempotencyKey == v.IdempotencyKey {
				return existing, false, nil
			}
		}
	}
	if !s.Status.IsLive() {
		return domain.Violation{}, false, ErrSessionNotLive
	}
	s.Violations = append(s.Violations, v)
	return v, true, nil
}

// List returns matching sessions ordered by start time then id.
func (r *MemoryRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*domain.Session, error) {
	r.mu.RLock()
	matched := make([]*domain.Session, 0)
	for _, s := range r.sessions {
		if filter.ExamID != "" && s.ExamID != filter.ExamID {
			continue
		}
		if filter.StudentID != "" && s.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		matched = append(matched, s.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime.Equal(matched[j].StartTime) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].StartTime.Before(matched[j].StartTime)
	})
	if offset >= len(matched) {
		return []*domain.Session{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// ListIDsByExamAndStatus returns ids of the exam's sessions in status, sorted.
func (r *MemoryRepository) ListIDsByExamAndStatus(ctx context.Context, examID string, status domain.Status) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0)
	for _, s := range r.sessions {
		if s.ExamID == examID && s.Status == status {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListExamIDsWithLiveSessions returns distinct exam ids with a live session, sorted.
func (r *MemoryRepository) ListExamIDsWithLiveSessions(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, id := range r.live {
		seen[r.sessions[id].ExamID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for examID := range seen {
		out = append(out, examID)
	}
	sort.Strings(out)
	return out, nil
}

// ListVerifications returns a window of the session's verification ledger.
func (r *MemoryRepository) ListVerifications(ctx context.Context, sessionID string, q ledger.Query) (ledger.Page[domain.VerificationRecord], error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	var recs []domain.VerificationRecord
	if ok {
		recs = append(recs, s.Verifications...)
	}
	r.mu.RUnlock()
	if !ok {
		return ledger.Page[domain.VerificationRecord]{}, ErrSessionMissing
	}
	return ledger.Apply(recs, func(v domain.VerificationRecord) time.Time { return v.Timestamp }, q), nil
}

// ListViolations returns a window of the session's violation ledger.
func (r *MemoryRepository) ListViolations(ctx context.Context, sessionID string, q ledger.Query) (ledger.Page[domain.Violation], error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	var vs []domain.Violation
	if ok {
		vs = append(vs, s.Violations...)
	}
	r.mu.RUnlock()
	if !ok {
		return ledger.Page[domain.Violation]{}, ErrSessionMissing
	}
	return ledger.Apply(vs, func(v domain.Violation) time.Time { return v.Timestamp }, q), nil
}
