package backtest

import (
	"os"
	"path/filepath"
	"testing"

	"perp-maker-go/market"
)

func TestCreateTimelineSnapshotFirstOnTie(t *testing.T) {
	var l Loader
	snaps := []market.OrderBookSnapshot{
		{Timestamp: "2026-08-01T00:00:01.000Z"},
		{Timestamp: "2026-08-01T00:00:03.000Z"},
	}
	trades := []market.TradeTick{
		{Timestamp: "2026-08-01T00:00:01.000Z", Side: "sell", Price: 100, Size: 1},
		{Timestamp: "2026-08-01T00:00:02.000Z", Side: "buy", Price: 100, Size: 1},
	}

	events := l.CreateTimeline(snaps, trades)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	// 时间戳相同：快照在前，先刷新报价再撮合
	if events[0].Snapshot == nil {
		t.Fatal("tied timestamp: snapshot must come first")
	}
	if events[1].Trade == nil || events[2].Trade == nil || events[3].Snapshot == nil {
		t.Fatalf("unexpected event order")
	}
}

func TestLoadDay(t *testing.T) {
	dataDir := t.TempDir()
	dayDir := filepath.Join(dataDir, "BTC", "2026-08-01")
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		t.Fatal(err)
	}

	l2 := `timestamp,level,bid_price,bid_size,ask_price,ask_size
2026-08-01T00:00:01.000Z,0,99.9,1.0,100.1,1.0
2026-08-01T00:00:01.000Z,1,99.8,2.0,100.2,2.0
2026-08-01T00:00:02.000Z,0,99.95,1.0,100.05,1.0
2026-08-01T00:00:02.000Z,1,not-a-number,1.0,,
`
	trades := `timestamp,side,price,size
2026-08-01T00:00:01.500Z,SELL,99.9,0.5
2026-08-01T00:00:02.500Z,buy,100.05,0.2
2026-08-01T00:00:03.000Z,buy,-1,0.2
`
	if err := os.WriteFile(filepath.Join(dayDir, "l2_00.csv"), []byte(l2), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dayDir, "trades_00.csv"), []byte(trades), 0o644); err != nil {
		t.Fatal(err)
	}

	var l Loader
	snaps, trds, err := l.LoadDay("BTC", "2026-08-01", dataDir)
	if err != nil {
		t.Fatal(err)
	}

	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	first := snaps[0]
	if len(first.Bids) != 2 || len(first.Asks) != 2 {
		t.Fatalf("rows with equal timestamp should group: %d bids, %d asks", len(first.Bids), len(first.Asks))
	}
	if first.Bids[0].Price != 99.9 || first.Bids[1].Price != 99.8 {
		t.Fatalf("bids must sort descending: %+v", first.Bids)
	}
	if first.Asks[0].Price != 100.1 || first.Asks[1].Price != 100.2 {
		t.Fatalf("asks must sort ascending: %+v", first.Asks)
	}

	// 坏行（负价）跳过，side 统一小写
	if len(trds) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trds))
	}
	if trds[0].Side != "sell" {
		t.Fatalf("side must be lower-cased, got %q", trds[0].Side)
	}
}

func TestLoadDayMissingDir(t *testing.T) {
	var l Loader
	snaps, trds, err := l.LoadDay("BTC", "1999-01-01", t.TempDir())
	if err != nil || snaps != nil || trds != nil {
		t.Fatalf("missing day should be empty, not an error: %v", err)
	}
}

func TestAnnualizedSharpe(t *testing.T) {
	if got := annualizedSharpe([]float64{5.0}); got != 0 {
		t.Fatalf("single sample should give 0, got %f", got)
	}
	if got := annualizedSharpe([]float64{5.0, 5.0, 5.0}); got != 0 {
		t.Fatalf("zero variance should give 0, got %f", got)
	}
	if got := annualizedSharpe([]float64{1.0, 3.0}); got <= 0 {
		t.Fatalf("positive mean should give positive sharpe, got %f", got)
	}
}
