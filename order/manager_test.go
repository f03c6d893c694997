package order

import (
	"context"
	"math"
	"testing"

	"perp-maker-go/gateway"
	"perp-maker-go/quote"
)

func newTestManager(t *testing.T) (*Manager, *gateway.PaperExchange) {
	t.Helper()
	ex := gateway.NewPaperExchange(nil)
	return NewManager(ex, "BTC", nil, nil), ex
}

func singleQuote(price, size float64) []quote.Quote {
	return []quote.Quote{{Side: "buy", Price: price, Size: size, Level: 0}}
}

func openOID(t *testing.T, ex *gateway.PaperExchange) string {
	t.Helper()
	open, err := ex.GetOpenOrders(context.Background(), "BTC")
	if err != nil || len(open) != 1 {
		t.Fatalf("expected exactly one open order, got %d (%v)", len(open), err)
	}
	return open[0].OID
}

func TestPlaceAndKeep(t *testing.T) {
	m, ex := newTestManager(t)
	ctx := context.Background()

	m.UpdateQuotes(ctx, singleQuote(100.0, 1.0))
	if m.NumActive() != 1 {
		t.Fatalf("expected 1 active order, got %d", m.NumActive())
	}
	oid := openOID(t, ex)

	// 相同报价：不动
	m.UpdateQuotes(ctx, singleQuote(100.0, 1.0))
	if got := openOID(t, ex); got != oid {
		t.Fatal("unchanged quote must keep the same order")
	}
	if m.Stats().TotalModified != 0 {
		t.Fatalf("expected no modifications, got %d", m.Stats().TotalModified)
	}
}

func TestModifyThresholdBoundary(t *testing.T) {
	m, ex := newTestManager(t)
	ctx := context.Background()

	m.UpdateQuotes(ctx, singleQuote(100.0, 1.0))
	oid := openOID(t, ex)

	// 恰好 0.5 bps：阈值是严格大于，不改单
	m.UpdateQuotes(ctx, singleQuote(100.005, 1.0))
	if got := openOID(t, ex); got != oid {
		t.Fatal("0.5 bps move must not trigger a modify")
	}

	// 超过 0.5 bps：撤旧挂新
	m.UpdateQuotes(ctx, singleQuote(100.006, 1.0))
	if got := openOID(t, ex); got == oid {
		t.Fatal("move past threshold should replace the order")
	}
	if m.Stats().TotalModified != 1 {
		t.Fatalf("expected 1 modification, got %d", m.Stats().TotalModified)
	}
}

func TestSizeChangeThreshold(t *testing.T) {
	m, ex := newTestManager(t)
	ctx := context.Background()

	m.UpdateQuotes(ctx, singleQuote(100.0, 1.0))
	oid := openOID(t, ex)

	m.UpdateQuotes(ctx, singleQuote(100.0, 1.04)) // 4%，阈值内
	if got := openOID(t, ex); got != oid {
		t.Fatal("small size change must not trigger")
	}

	m.UpdateQuotes(ctx, singleQuote(100.0, 1.10))
	if got := openOID(t, ex); got == oid {
		t.Fatal("10 pct size change should replace")
	}
}

func TestStaleSlotCancelled(t *testing.T) {
	m, ex := newTestManager(t)
	ctx := context.Background()

	m.UpdateQuotes(ctx, []quote.Quote{
		{Side: "buy", Price: 99.9, Size: 1.0, Level: 0},
		{Side: "sell", Price: 100.1, Size: 1.0, Level: 0},
	})
	if m.NumActive() != 2 {
		t.Fatalf("expected 2 active, got %d", m.NumActive())
	}

	// sell 槽位从期望集中消失
	m.UpdateQuotes(ctx, singleQuote(99.9, 1.0))
	if m.NumActive() != 1 {
		t.Fatalf("stale slot should be cancelled, got %d active", m.NumActive())
	}
	open, _ := ex.GetOpenOrders(ctx, "BTC")
	if len(open) != 1 || open[0].Side != "buy" {
		t.Fatalf("exchange should only hold the bid, got %+v", open)
	}
}

func TestPartialFillWatermark(t *testing.T) {
	m, ex := newTestManager(t)
	ctx := context.Background()

	m.UpdateQuotes(ctx, singleQuote(100.0, 1.0))
	oid := openOID(t, ex)

	ex.Fill(oid, 0.4)
	fills := m.CheckPartialFills(ctx, -0.00015)
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if math.Abs(fills[0].Size-0.4) > 1e-12 {
		t.Fatalf("expected size 0.4, got %f", fills[0].Size)
	}
	// 返佣：负费率 → 负 fee
	wantFee := 100.0 * 0.4 * -0.00015
	if math.Abs(fills[0].Fee-wantFee) > 1e-12 {
		t.Fatalf("expected fee %f, got %f", wantFee, fills[0].Fee)
	}

	// 幂等：无新成交不重发
	if again := m.CheckPartialFills(ctx, -0.00015); len(again) != 0 {
		t.Fatalf("watermark must not re-emit, got %d fills", len(again))
	}

	// 剩余量成交后订单在交易所消失 → 增量 = 剩余 0.6
	ex.Fill(oid, 0.6)
	fills = m.CheckPartialFills(ctx, -0.00015)
	if len(fills) != 1 || math.Abs(fills[0].Size-0.6) > 1e-12 {
		t.Fatalf("expected final fill 0.6, got %+v", fills)
	}
	if m.NumActive() != 0 {
		t.Fatalf("fully filled order should be dropped, got %d active", m.NumActive())
	}
}

func TestMissingOrderTreatedAsFullFill(t *testing.T) {
	m, ex := newTestManager(t)
	ctx := context.Background()

	m.UpdateQuotes(ctx, singleQuote(100.0, 1.0))
	oid := openOID(t, ex)

	ex.Fill(oid, 1.0) // 全部成交，交易所侧移除
	fills := m.CheckPartialFills(ctx, 0)
	if len(fills) != 1 || math.Abs(fills[0].Size-1.0) > 1e-12 {
		t.Fatalf("expected full fill 1.0, got %+v", fills)
	}
}

func TestFillCallbackInvoked(t *testing.T) {
	ex := gateway.NewPaperExchange(nil)
	var gotSide string
	var gotSize float64
	m := NewManager(ex, "BTC", func(oid, side string, price, size, fee float64) {
		gotSide = side
		gotSize = size
	}, nil)
	ctx := context.Background()

	m.UpdateQuotes(ctx, singleQuote(100.0, 1.0))
	ex.Fill(openOID(t, ex), 0.5)
	m.CheckPartialFills(ctx, 0)

	if gotSide != "buy" || math.Abs(gotSize-0.5) > 1e-12 {
		t.Fatalf("callback not invoked correctly: %s %f", gotSide, gotSize)
	}
}

func TestCancelAll(t *testing.T) {
	m, ex := newTestManager(t)
	ctx := context.Background()

	m.UpdateQuotes(ctx, []quote.Quote{
		{Side: "buy", Price: 99.9, Size: 1.0, Level: 0},
		{Side: "buy", Price: 99.8, Size: 1.0, Level: 1},
		{Side: "sell", Price: 100.1, Size: 1.0, Level: 0},
	})
	if n := m.CancelAll(ctx); n != 3 {
		t.Fatalf("expected 3 cancelled, got %d", n)
	}
	if m.NumActive() != 0 {
		t.Fatal("tracking should be empty after cancel all")
	}
	open, _ := ex.GetOpenOrders(ctx, "BTC")
	if len(open) != 0 {
		t.Fatalf("exchange should be empty, got %d", len(open))
	}
}
