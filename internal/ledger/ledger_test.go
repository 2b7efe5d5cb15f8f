package ledger

import (
	"testing"
	"time"
)

type entry struct {
	n  int
	at time.Time
}

func entries(n int, base time.Time) []entry {
	out := make([]entry, n)
	for i := range out {
		out[i] = entry{n: i, at: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func ts(e entry) time.Time { return e.at }

func TestApply_OffsetLimit(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	all := entries(5, base)

	p := Apply(all, ts, Query{Offset: 1, Limit: 2})
	if len(p.Items) != 2 || p.Items[0].n != 1 || p.Items[1].n != 2 {
		t.Fatalf("items = %+v", p.Items)
	}
	if p.Total != 5 || p.NextOffset != 3 {
		t.Errorf("total=%d next=%d", p.Total, p.NextOffset)
	}

	last := Apply(all, ts, Query{Offset: 3, Limit: 10})
	if len(last.Items) != 2 || last.NextOffset != -1 {
		t.Errorf("last page = %+v", last)
	}

	past := Apply(all, ts, Query{Offset: 9, Limit: 2})
	if len(past.Items) != 0 || past.NextOffset != -1 {
		t.Errorf("past end = %+v", past)
	}
}

func TestApply_NewestFirstDoesNotMutateInput(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	all := entries(3, base)
	p := Apply(all, ts, Query{NewestFirst: true})
	if p.Items[0].n != 2 || p.Items[2].n != 0 {
		t.Errorf("order = %+v", p.Items)
	}
	if all[0].n != 0 {
		t.Error("input slice was reordered")
	}
}

func TestApply_DateWindow(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	all := entries(5, base)
	since := base.Add(1 * time.Minute)
	until := base.Add(3 * time.Minute)
	p := Apply(all, ts, Query{Since: &since, Until: &until})
	if p.Total != 2 || p.Items[0].n != 1 || p.Items[1].n != 2 {
		t.Errorf("window = %+v", p.Items)
	}
}

func TestQuery_Normalized(t *testing.T) {
	q := Query{Offset: -4, Limit: 0}.Normalized()
	if q.Offset != 0 || q.Limit != DefaultLimit {
		t.Errorf("normalized = %+v", q)
	}
	if got := (Query{Limit: 10_000}).Normalized().Limit; got != MaxLimit {
		t.Errorf("limit = %d, want %d", got, MaxLimit)
	}
}
