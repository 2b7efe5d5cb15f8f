package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"proctoring-engine/internal/ledger"
	"proctoring-engine/internal/session/domain"
)

type MemoryRepositorySuite struct {
	suite.Suite
	repo *MemoryRepository
	ctx  context.Context
	base time.Time
}

func TestMemoryRepositorySuite(t *testing.T) {
	suite.Run(t, new(MemoryRepositorySuite))
}

func (s *MemoryRepositorySuite) SetupTest() {
	s.repo = NewMemoryRepository()
	s.ctx = context.Background()
	s.base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *MemoryRepositorySuite) newSession(id, student, exam string, status domain.Status) *domain.Session {
	return &domain.Session{
		ID:        id,
		ExamID:    exam,
		StudentID: student,
		Status:    status,
		StartTime: s.base,
		CreatedAt: s.base,
		UpdatedAt: s.base,
	}
}

func (s *MemoryRepositorySuite) TestCreateEnforcesSingleLiveSession() {
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("s1", "stu", "exam", domain.StatusActive)))

	err := s.repo.Create(s.ctx, s.newSession("s2", "stu", "exam", domain.StatusActive))
	s.ErrorIs(err, ErrLiveSessionExists)

	s.Run("other exam is independent", func() {
		s.NoError(s.repo.Create(s.ctx, s.newSession("s3", "stu", "exam-2", domain.StatusActive)))
	})

	s.Run("ended session frees the pair", func() {
		cur, err := s.repo.GetByID(s.ctx, "s1")
		s.Require().NoError(err)
		cur.Status = domain.StatusCompleted
		s.Require().NoError(s.repo.Update(s.ctx, cur))

		live, err := s.repo.GetLive(s.ctx, "stu", "exam")
		s.Require().NoError(err)
		s.Nil(live)
		s.NoError(s.repo.Create(s.ctx, s.newSession("s4", "stu", "exam", domain.StatusActive)))
	})
}

func (s *MemoryRepositorySuite) TestConcurrentCreateExactlyOneWins() {
	const goroutines = 32
	var wg sync.WaitGroup
	var created, conflicts atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := s.newSession(string(rune('a'+i)), "stu", "exam", domain.StatusActive)
			switch err := s.repo.Create(s.ctx, sess); err {
			case nil:
				created.Add(1)
			case ErrLiveSessionExists:
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()
	s.Equal(int32(1), created.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *MemoryRepositorySuite) TestGetByIDReturnsCopy() {
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("s1", "stu", "exam", domain.StatusActive)))

	got, err := s.repo.GetByID(s.ctx, "s1")
	s.Require().NoError(err)
	got.Status = domain.StatusTerminated

	again, err := s.repo.GetByID(s.ctx, "s1")
	s.Require().NoError(err)
	s.Equal(domain.StatusActive, again.Status)

	missing, err := s.repo.GetByID(s.ctx, "nope")
	s.NoError(err)
	s.Nil(missing)
}

func (s *MemoryRepositorySuite) TestUpdateMissing() {
	err := s.repo.Update(s.ctx, s.newSession("ghost", "stu", "exam", domain.StatusPaused))
	s.ErrorIs(err, ErrSessionMissing)
}

func (s *MemoryRepositorySuite) TestUpdateLeavesLedgersIntact() {
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("s1", "stu", "exam", domain.StatusActive)))
	_, _, err := s.repo.AppendViolation(s.ctx, domain.Violation{ID: "v1", SessionID: "s1", Type: "tab_switch", Severity: domain.SeverityLow})
	s.Require().NoError(err)

	stale := s.newSession("s1", "stu", "exam", domain.StatusPaused)
	s.Require().NoError(s.repo.Update(s.ctx, stale))

	got, err := s.repo.GetByID(s.ctx, "s1")
	s.Require().NoError(err)
	s.Equal(domain.StatusPaused, got.Status)
	s.Len(got.Violations, 1)
}

func (s *MemoryRepositorySuite) TestAppendIdempotency() {
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("s1", "stu", "exam", domain.StatusActive)))

	first := domain.VerificationRecord{ID: "r1", SessionID: "s1", Result: domain.ResultVerified, Confidence: 0.9, IdempotencyKey: "k1"}
	stored, appended, err := s.repo.AppendVerification(s.ctx, first)
	s.Require().NoError(err)
	s.True(appended)
	s.Equal("r1", stored.ID)

	retry := first
	retry.ID = "r2"
	stored, appended, err = s.repo.AppendVerification(s.ctx, retry)
	s.Require().NoError(err)
	s.False(appended)
	s.Equal("r1", stored.ID)

	s.Run("keyless appends are never deduplicated", func() {
		for i := 0; i < 2; i++ {
			_, appended, err := s.repo.AppendViolation(s.ctx, domain.Violation{SessionID: "s1", Type: "noise", Severity: domain.SeverityLow})
			s.Require().NoError(err)
			s.True(appended)
		}
		got, err := s.repo.GetByID(s.ctx, "s1")
		s.Require().NoError(err)
		s.Len(got.Violations, 2)
		s.Len(got.Verifications, 1)
	})

	s.Run("unknown session", func() {
		_, _, err := s.repo.AppendViolation(s.ctx, domain.Violation{SessionID: "ghost", Type: "x", Severity: domain.SeverityLow})
		s.ErrorIs(err, ErrSessionMissing)
	})
}

func (s *MemoryRepositorySuite) TestAppendAfterSessionEnded() {
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("s1", "stu", "exam", domain.StatusActive)))
	_, _, err := s.repo.AppendVerification(s.ctx, domain.VerificationRecord{ID: "r1", SessionID: "s1", Result: domain.ResultVerified, IdempotencyKey: "k1"})
	s.Require().NoError(err)
	s.Require().NoError(s.repo.Update(s.ctx, s.newSession("s1", "stu", "exam", domain.StatusCompleted)))

	_, _, err = s.repo.AppendViolation(s.ctx, domain.Violation{SessionID: "s1", Type: "noise", Severity: domain.SeverityLow})
	s.ErrorIs(err, ErrSessionNotLive)
	_, _, err = s.repo.AppendVerification(s.ctx, domain.VerificationRecord{ID: "r2", SessionID: "s1", Result: domain.ResultFailed})
	s.ErrorIs(err, ErrSessionNotLive)

	s.Run("retry of an earlier key still returns the stored row", func() {
		stored, appended, err := s.repo.AppendVerification(s.ctx, domain.VerificationRecord{ID: "r3", SessionID: "s1", Result: domain.ResultVerified, IdempotencyKey: "k1"})
		s.Require().NoError(err)
		s.False(appended)
		s.Equal("r1", stored.ID)
	})

	got, err := s.repo.GetByID(s.ctx, "s1")
	s.Require().NoError(err)
	s.Len(got.Verifications, 1)
	s.Empty(got.Violations)
}

func (s *MemoryRepositorySuite) TestListFiltersAndOrders() {
	a := s.newSession("b", "stu-1", "exam", domain.StatusActive)
	b := s.newSession("a", "stu-2", "exam", domain.StatusActive)
	c := s.newSession("c", "stu-3", "exam", domain.StatusCompleted)
	c.StartTime = s.base.Add(-time.Hour)
	d := s.newSession("d", "stu-1", "other", domain.StatusPaused)
	for _, sess := range []*domain.Session{a, b, c, d} {
		s.Require().NoError(s.repo.Create(s.ctx, sess))
	}

	all, err := s.repo.List(s.ctx, ListFilter{ExamID: "exam"}, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]string{"c", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

	page, err := s.repo.List(s.ctx, ListFilter{ExamID: "exam"}, 1, 1)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("a", page[0].ID)

	active, err := s.repo.ListIDsByExamAndStatus(s.ctx, "exam", domain.StatusActive)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, active)

	exams, err := s.repo.ListExamIDsWithLiveSessions(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"exam", "other"}, exams)
}

func (s *MemoryRepositorySuite) TestListViolationsWindow() {
	s.Require().NoError(s.repo.Create(s.ctx, s.newSession("s1", "stu", "exam", domain.StatusActive)))
	for i := 0; i < 5; i++ {
		_, _, err := s.repo.AppendViolation(s.ctx, domain.Violation{
			ID: string(rune('0' + i)), SessionID: "s1", Type: "tab_switch", Severity: domain.SeverityLow,
			Timestamp: s.base.Add(time.Duration(i) * time.Minute),
		})
		s.Require().NoError(err)
	}

	since := s.base.Add(time.Minute)
	page, err := s.repo.ListViolations(s.ctx, "s1", ledger.Query{Since: &since, Limit: 2, NewestFirst: true})
	s.Require().NoError(err)
	s.Equal(4, page.Total)
	s.Require().Len(page.Items, 2)
	s.Equal("4", page.Items[0].ID)
	s.Equal(2, page.NextOffset)

	_, err = s.repo.ListVerifications(s.ctx, "ghost", ledger.Query{})
	s.ErrorIs(err, ErrSessionMissing)
}
