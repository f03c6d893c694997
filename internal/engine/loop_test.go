package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"perp-maker-go/gateway"
	"perp-maker-go/inventory"
	"perp-maker-go/quote"
	"perp-maker-go/risk"
)

func newTestLoop(t *testing.T) (*Loop, *gateway.PaperExchange) {
	t.Helper()
	ex := gateway.NewPaperExchange(nil)
	ex.SetMidPrice("BTC", 100.0)

	p := quote.Params{
		BaseSpreadBps:   10.0,
		VolMultiplier:   0,
		MinSpreadBps:    1.0,
		MaxSpreadBps:    20.0,
		OrderSizeUsd:    100.0,
		NumLevels:       1,
		LevelSpacingBps: 2.0,
	}
	loop := New(
		Config{
			Symbol:         "BTC",
			TickInterval:   time.Second,
			MaxPositionUsd: 500,
			MakerFee:       0,
			CapitalUsd:     1000,
			VolWindow:      20,
		},
		ex,
		quote.NewEngine(p),
		inventory.NewManager("BTC", 500),
		risk.NewManager(risk.DefaultConfig()),
		nil, nil, nil, nil,
	)
	return loop, ex
}

func TestIterationPlacesTwoSidedQuotes(t *testing.T) {
	loop, ex := newTestLoop(t)
	ctx := context.Background()

	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}

	open, _ := ex.GetOpenOrders(ctx, "BTC")
	if len(open) != 2 {
		t.Fatalf("expected bid and ask, got %d orders", len(open))
	}
	var bid, ask float64
	for _, o := range open {
		if o.Side == "buy" {
			bid = o.Price
		} else {
			ask = o.Price
		}
	}
	// 10 bps 固定价差，关于 mid=100 对称
	if math.Abs(bid-99.95) > 1e-9 || math.Abs(ask-100.05) > 1e-9 {
		t.Fatalf("unexpected quotes: bid=%.6f ask=%.6f", bid, ask)
	}
}

func TestIterationRoutesFillsToInventory(t *testing.T) {
	loop, ex := newTestLoop(t)
	ctx := context.Background()

	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}
	open, _ := ex.GetOpenOrders(ctx, "BTC")
	for _, o := range open {
		if o.Side == "buy" {
			ex.Fill(o.OID, 0.4)
		}
	}

	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}
	if got := loop.inv.State().PositionSize; math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("partial fill should land in inventory, got %g", got)
	}
}

func TestLargeMoveTriggersHaltAndCancel(t *testing.T) {
	loop, ex := newTestLoop(t)
	ctx := context.Background()

	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}
	open, _ := ex.GetOpenOrders(ctx, "BTC")
	if len(open) == 0 {
		t.Fatal("setup: expected live orders")
	}

	// 单周期 +2%：风控进入冷却，撤掉全部在场订单
	ex.SetMidPrice("BTC", 102.0)
	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}

	open, _ = ex.GetOpenOrders(ctx, "BTC")
	if len(open) != 0 {
		t.Fatalf("halt should cancel everything, got %d orders", len(open))
	}
	if loop.riskMgr.State().Status != risk.StatusHalt {
		t.Fatalf("expected halt, got %s", loop.riskMgr.State().Status)
	}
}

func TestPauseSideSuppressesHeavySide(t *testing.T) {
	loop, ex := newTestLoop(t)
	ctx := context.Background()

	// 预置接近上限的多头仓位：80% 规则停买
	loop.inv.OnFill("buy", 100, 4.2, 0) // $420 > 80% * 500

	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}
	open, _ := ex.GetOpenOrders(ctx, "BTC")
	if len(open) != 1 || open[0].Side != "sell" {
		t.Fatalf("heavy long should quote sell-only, got %+v", open)
	}
}

func TestInvalidMidSkipsIteration(t *testing.T) {
	loop, ex := newTestLoop(t)
	ctx := context.Background()

	ex.SetMidPrice("BTC", -1)
	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}
	open, _ := ex.GetOpenOrders(ctx, "BTC")
	if len(open) != 0 {
		t.Fatal("invalid mid must not quote")
	}
}

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }

func TestDisplacedPriceKeepsExtendingCooldown(t *testing.T) {
	loop, ex := newTestLoop(t)
	ctx := context.Background()
	clk := &stubClock{now: time.Unix(1756400000, 0)}
	loop.riskMgr.SetClock(clk)

	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}

	// +2% 触发冷却；价格停在位移后的水平
	ex.SetMidPrice("BTC", 102.0)
	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}
	if loop.riskMgr.State().Status != risk.StatusHalt {
		t.Fatal("setup: expected halt")
	}

	// 原冷却已过，但参考价未推进，2% 位移重新触发
	clk.now = clk.now.Add(301 * time.Second)
	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}
	if loop.riskMgr.State().Status != risk.StatusHalt {
		t.Fatal("displaced price should re-arm the cooldown")
	}
	if open, _ := ex.GetOpenOrders(ctx, "BTC"); len(open) != 0 {
		t.Fatalf("still halted, expected no orders, got %d", len(open))
	}

	// 价格回落到参考价附近，冷却过期后恢复报价
	ex.SetMidPrice("BTC", 100.2)
	clk.now = clk.now.Add(301 * time.Second)
	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}
	if loop.riskMgr.State().Status == risk.StatusHalt {
		t.Fatal("price back near reference, halt should clear")
	}
	if open, _ := ex.GetOpenOrders(ctx, "BTC"); len(open) == 0 {
		t.Fatal("expected quotes after recovery")
	}
}

type neverFills struct{}

func (neverFills) FillProbability(_, _ float64) float64 { return 0 }

func TestFillPredictorCanDropQuotes(t *testing.T) {
	loop, ex := newTestLoop(t)
	ctx := context.Background()

	loop.SetFillPredictor(neverFills{})
	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}
	open, _ := ex.GetOpenOrders(ctx, "BTC")
	if len(open) != 0 {
		t.Fatalf("zero fill probability should drop every level, got %d", len(open))
	}
}

func TestParamHotReloadAppliedNextIteration(t *testing.T) {
	loop, ex := newTestLoop(t)
	ctx := context.Background()

	p := loop.quoter.Params()
	p.BaseSpreadBps = 20.0
	loop.UpdateQuoteParams(p)

	if err := loop.RunIteration(ctx); err != nil {
		t.Fatal(err)
	}

	open, _ := ex.GetOpenOrders(ctx, "BTC")
	var bid float64
	for _, o := range open {
		if o.Side == "buy" {
			bid = o.Price
		}
	}
	// 新参数 20 bps：bid = 100*(1-0.001)
	if math.Abs(bid-99.9) > 1e-9 {
		t.Fatalf("hot reload should widen the quote, got bid=%.6f", bid)
	}
}
