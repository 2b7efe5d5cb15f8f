package repository

import (
	"context"
	"testing"
	"time"

	"proctoring-engine/internal/audit/domain"
)

func TestMemoryRepository_ListByExam(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	for i, exam := range []string{"exam-1", "exam-2", "exam-1", "exam-1"} {
		err := repo.Create(ctx, &domain.AuditLog{
			ID: string(rune('a' + i)), ExamID: exam, Action: "x", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	testCases := []struct {
		name          string
		limit, offset int
		want          []string
	}{
		{"all newest first", 0, 0, []string{"d", "c", "a"}},
		{"first page", 2, 0, []string{"d", "c"}},
		{"second page", 2, 2, []string{"a"}},
		{"past the end", 2, 5, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.ListByExam(ctx, "exam-1", tc.limit, tc.offset)
			if err != nil {
				t.Fatalf("ListByExam: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i].ID != tc.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i].ID, tc.want[i])
				}
			}
		})
	}

	a, err := repo.GetByID(ctx, "b")
	if err != nil || a == nil || a.ExamID != "exam-2" {
		t.Errorf("GetByID(b) = %+v, %v", a, err)
	}
	missing, err := repo.GetByID(ctx, "zzz")
	if err != nil || missing != nil {
		t.Errorf("GetByID(missing) = %+v, %v", missing, err)
	}
}
