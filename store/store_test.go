package store

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRecordAndQueryFills(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	fills := []FillRecord{
		{Timestamp: base, Symbol: "BTC", OID: "a", Side: "buy", Price: 100000, Size: 0.01, Fee: -0.15, RealizedPnl: 0},
		{Timestamp: base.Add(time.Hour), Symbol: "BTC", OID: "b", Side: "sell", Price: 101000, Size: 0.01, Fee: -0.15, RealizedPnl: 10},
		{Timestamp: base.Add(2 * time.Hour), Symbol: "ETH", OID: "c", Side: "buy", Price: 3000, Size: 0.1, Fee: 0.05, RealizedPnl: 0},
	}
	for i := range fills {
		if err := s.RecordFill(&fills[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FillsSince("BTC", base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].OID != "b" {
		t.Fatalf("expected only the later BTC fill, got %+v", got)
	}
}

func TestRecordFillDefaultsTimestamp(t *testing.T) {
	s := openTestStore(t)
	f := FillRecord{Symbol: "BTC", OID: "x", Side: "buy", Price: 100, Size: 1}
	if err := s.RecordFill(&f); err != nil {
		t.Fatal(err)
	}
	if f.Timestamp.IsZero() {
		t.Fatal("zero timestamp should be defaulted")
	}
}

func TestSummaries(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	s.RecordFill(&FillRecord{Timestamp: base, Symbol: "BTC", Side: "buy", Price: 100, Size: 1, Fee: 0.1, RealizedPnl: 0})
	s.RecordFill(&FillRecord{Timestamp: base, Symbol: "BTC", Side: "sell", Price: 102, Size: 1, Fee: 0.1, RealizedPnl: 2})

	sums, err := s.Summaries()
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(sums))
	}
	got := sums[0]
	if got.Symbol != "BTC" || got.NumFills != 2 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if math.Abs(got.RealizedPnl-2) > 1e-9 || math.Abs(got.TotalFees-0.2) > 1e-9 {
		t.Fatalf("unexpected aggregates: %+v", got)
	}
	if math.Abs(got.VolumeUsd-202) > 1e-9 {
		t.Fatalf("expected volume 202, got %f", got.VolumeUsd)
	}
}

func TestRecordBacktestRun(t *testing.T) {
	s := openTestStore(t)
	run := BacktestRun{Symbol: "BTC", DurationHours: 24, NetPnl: 3.5, TotalFills: 42}
	if err := s.RecordBacktestRun(&run); err != nil {
		t.Fatal(err)
	}
	if run.ID == 0 {
		t.Fatal("primary key should be assigned")
	}
	if run.CreatedAt.IsZero() {
		t.Fatal("created_at should be defaulted")
	}
}
