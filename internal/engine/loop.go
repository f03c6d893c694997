package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"perp-maker-go/gateway"
	"perp-maker-go/inventory"
	"perp-maker-go/market"
	"perp-maker-go/metrics"
	"perp-maker-go/order"
	"perp-maker-go/quote"
	"perp-maker-go/risk"
	"perp-maker-go/signal"
	"perp-maker-go/store"
)

// Config 单交易对循环配置。
type Config struct {
	Symbol             string
	TickInterval       time.Duration
	MaxPositionUsd     float64
	MakerFee           float64
	CapitalUsd         float64
	EmergencySpreadBps float64 // Critical 状态下双边额外加宽
	VolWindow          int
	LargeMovePct       float64 // 单周期位移超过该百分比时上报风控
}

// Loop 一个交易对一个实例的单线程决策循环：
// 行情 → 风控 → 报价 → 订单对齐 → 成交对账。
// 多交易对 = 多个互不共享状态的 Loop 各跑一个 goroutine。
type Loop struct {
	cfg     Config
	ex      gateway.Exchange
	quoter  *quote.Engine
	inv     *inventory.Manager
	riskMgr *risk.Manager
	orders  *order.Manager
	bias    signal.BiasProvider
	tox     signal.ToxicityAdjuster
	fillP   signal.FillPredictor
	vol     *market.VolatilityWindow
	journal *store.Store // 可为 nil
	log     *zap.Logger

	paramMu       sync.Mutex
	pendingParams *quote.Params

	lastMid   float64
	lastHour  int
	iteration int
}

// New 创建循环；bias/tox 传 nil 时使用 no-op 默认实现。
func New(
	cfg Config,
	ex gateway.Exchange,
	quoter *quote.Engine,
	inv *inventory.Manager,
	riskMgr *risk.Manager,
	bias signal.BiasProvider,
	tox signal.ToxicityAdjuster,
	journal *store.Store,
	log *zap.Logger,
) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.LargeMovePct <= 0 {
		cfg.LargeMovePct = 0.5
	}
	if bias == nil {
		bias = signal.NopBias{}
	}
	if tox == nil {
		tox = signal.NopToxicity{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loop{
		cfg:      cfg,
		ex:       ex,
		quoter:   quoter,
		inv:      inv,
		riskMgr:  riskMgr,
		bias:     bias,
		tox:      tox,
		fillP:    signal.NopFillPredictor{},
		vol:      market.NewVolatilityWindow(cfg.VolWindow),
		journal:  journal,
		log:      log.With(zap.String("symbol", cfg.Symbol)),
		lastHour: -1,
	}
	l.orders = order.NewManager(ex, cfg.Symbol, nil, l.log)
	return l
}

// Orders 返回订单管理器（测试用）。
func (l *Loop) Orders() *order.Manager { return l.orders }

// SetFillPredictor 替换成交概率模型；nil 恢复默认（全部按会成交处理）。
func (l *Loop) SetFillPredictor(p signal.FillPredictor) {
	if p == nil {
		p = signal.NopFillPredictor{}
	}
	l.fillP = p
}

// UpdateQuoteParams 从监听 goroutine 投递新参数；下一个周期开头生效。
func (l *Loop) UpdateQuoteParams(p quote.Params) {
	l.paramMu.Lock()
	l.pendingParams = &p
	l.paramMu.Unlock()
}

// Run 固定周期运行直到 ctx 取消；退出前撤掉全部在场订单。
// 每个周期串行完成全部交易所调用，周期内不存在并发。
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("starting market making loop",
		zap.Duration("interval", l.cfg.TickInterval),
		zap.Float64("maxPositionUsd", l.cfg.MaxPositionUsd))

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if err := l.RunIteration(ctx); err != nil {
				// 瞬时交易所错误：记日志、计数，下个周期继续
				l.log.Warn("iteration failed", zap.Int("iteration", l.iteration), zap.Error(err))
				l.riskMgr.OnApiError()
				metrics.APIErrors.WithLabelValues(l.cfg.Symbol).Inc()
			}
		}
	}
}

// RunIteration 执行一个完整报价周期。
func (l *Loop) RunIteration(ctx context.Context) error {
	l.iteration++
	l.applyPendingParams()

	// 1. 中间价
	mid, err := l.ex.GetMidPrice(ctx, l.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("get mid price: %w", err)
	}
	if mid <= 0 {
		l.log.Warn("invalid mid price", zap.Float64("mid", mid))
		return nil
	}

	// 2. 大幅位移检测。参考价只在本周期正常走完后推进：
	// 价格停在位移后的水平时每个周期都会重新触发，冷却随之顺延。
	if l.lastMid > 0 {
		movePct := (mid - l.lastMid) / l.lastMid * 100
		if movePct > l.cfg.LargeMovePct || movePct < -l.cfg.LargeMovePct {
			l.riskMgr.OnLargeMove(movePct, 0)
			l.log.Warn("large move detected", zap.Float64("movePct", movePct))
		}
	}

	// 3. 波动率与浮动盈亏
	vol := l.vol.Update(mid)
	l.inv.UpdateUnrealized(mid)

	// 4. 风控
	equity := l.cfg.CapitalUsd + l.inv.TotalPnl()
	positionUsd := l.inv.State().PositionSize * mid
	status := l.riskMgr.CheckAll(l.inv.TotalPnl(), equity, vol, absFloat(positionUsd), l.cfg.MaxPositionUsd)
	l.publishMetrics(status, positionUsd)

	if status == risk.StatusHalt {
		if l.orders.NumActive() > 0 {
			l.log.Warn("risk halt, cancelling orders", zap.String("reason", l.riskMgr.State().Reason))
			l.orders.CancelAll(ctx)
		}
		return nil
	}

	// 5. 波动基线 EMA
	l.riskMgr.UpdateNormalVol(vol, 0.01)

	// 6. 小时级信号更新
	if hour := time.Now().UTC().Hour(); hour != l.lastHour {
		if l.lastHour >= 0 {
			l.bias.OnBar(mid)
			l.tox.OnBar(mid)
		}
		l.lastHour = hour
	}

	// 7. 生成报价
	quotes := l.quoter.Calculate(quote.Input{
		MidPrice:       mid,
		Volatility:     vol,
		InventoryUsd:   positionUsd,
		MaxPositionUsd: l.cfg.MaxPositionUsd,
		Bias:           l.bias.Bias(),
		MakerFee:       l.cfg.MakerFee,
	})

	// 8. 过滤会加重仓位的方向
	filtered := quotes[:0]
	for _, q := range quotes {
		if l.inv.ShouldPauseSide(q.Side, mid) {
			continue
		}
		filtered = append(filtered, q)
	}

	// 8a. 成交概率过滤：预期 5% 以下的档位不挂
	kept := filtered[:0]
	for _, q := range filtered {
		distBps := absFloat(q.Price-mid) / mid * 10000
		if l.fillP.FillProbability(distBps, vol) < 0.05 {
			continue
		}
		kept = append(kept, q)
	}
	filtered = kept

	// 8b. 毒性流调整：对应方向远离中间价
	if buyMult, sellMult := l.tox.SideMultipliers(); buyMult != 1 || sellMult != 1 {
		for i := range filtered {
			if filtered[i].Side == "buy" {
				filtered[i].Price = mid - (mid-filtered[i].Price)*buyMult
			} else {
				filtered[i].Price = mid + (filtered[i].Price-mid)*sellMult
			}
		}
	}

	// 9. Critical 状态下双边加宽
	if status == risk.StatusCritical && l.cfg.EmergencySpreadBps > 0 {
		for i := range filtered {
			if filtered[i].Side == "buy" {
				filtered[i].Price *= 1 - l.cfg.EmergencySpreadBps*0.0001
			} else {
				filtered[i].Price *= 1 + l.cfg.EmergencySpreadBps*0.0001
			}
		}
	}

	// 10. 对齐在场订单
	l.orders.UpdateQuotes(ctx, filtered)
	l.publishQuotedSpread(filtered, mid)

	// 11. 成交对账（含部分成交）
	for _, f := range l.orders.CheckPartialFills(ctx, l.cfg.MakerFee) {
		realized := l.inv.OnFill(f.Side, f.Price, f.Size, f.Fee)
		l.tox.OnFill(f.Side, f.Price, mid, f.Size)
		l.journalFill(f, realized)
		l.log.Info("fill",
			zap.String("side", f.Side),
			zap.Float64("price", f.Price),
			zap.Float64("size", f.Size),
			zap.Float64("realized", realized),
			zap.Float64("position", l.inv.State().PositionSize),
			zap.Float64("netPnl", l.inv.NetPnl()))
	}

	if l.iteration%60 == 0 {
		l.logStatus(mid)
	}
	l.lastMid = mid
	return nil
}

func (l *Loop) applyPendingParams() {
	l.paramMu.Lock()
	p := l.pendingParams
	l.pendingParams = nil
	l.paramMu.Unlock()
	if p != nil {
		l.quoter.SetParams(*p)
		l.log.Info("quote params reloaded",
			zap.Float64("baseSpreadBps", p.BaseSpreadBps),
			zap.Int("numLevels", p.NumLevels))
	}
}

func (l *Loop) journalFill(f order.DetectedFill, realized float64) {
	if l.journal == nil {
		return
	}
	rec := &store.FillRecord{
		Symbol: l.cfg.Symbol, OID: f.OID, Side: f.Side,
		Price: f.Price, Size: f.Size, Fee: f.Fee, RealizedPnl: realized,
	}
	if err := l.journal.RecordFill(rec); err != nil {
		l.log.Warn("journal write failed", zap.Error(err))
	}
}

func (l *Loop) publishMetrics(status risk.Status, positionUsd float64) {
	metrics.InventoryUsd.WithLabelValues(l.cfg.Symbol).Set(positionUsd)
	metrics.NetPnl.WithLabelValues(l.cfg.Symbol).Set(l.inv.NetPnl())
	metrics.RiskStatus.WithLabelValues(l.cfg.Symbol).Set(statusValue(status))
}

func (l *Loop) publishQuotedSpread(quotes []quote.Quote, mid float64) {
	var bestBid, bestAsk float64
	for _, q := range quotes {
		if q.Side == "buy" && q.Price > bestBid {
			bestBid = q.Price
		}
		if q.Side == "sell" && (bestAsk == 0 || q.Price < bestAsk) {
			bestAsk = q.Price
		}
	}
	if bestBid > 0 && bestAsk > 0 && mid > 0 {
		metrics.QuotedSpreadBps.WithLabelValues(l.cfg.Symbol).Set((bestAsk - bestBid) / mid * 10000)
	}
}

// shutdown 最后一次撤单；用独立超时上下文，父 ctx 已取消。
func (l *Loop) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n := l.orders.CancelAll(ctx)
	st := l.inv.State()
	l.log.Info("loop stopped",
		zap.Int("cancelled", n),
		zap.Int("iterations", l.iteration),
		zap.Float64("realizedPnl", st.RealizedPnl),
		zap.Float64("totalFees", st.TotalFees),
		zap.Int("roundTrips", st.RoundTrips))
}

func (l *Loop) logStatus(mid float64) {
	st := l.inv.State()
	l.log.Info("status",
		zap.Float64("mid", mid),
		zap.Float64("position", st.PositionSize),
		zap.Float64("netPnl", l.inv.NetPnl()),
		zap.Float64("unrealized", st.UnrealizedPnl),
		zap.Int("activeOrders", l.orders.NumActive()),
		zap.String("risk", string(l.riskMgr.State().Status)))
}

func statusValue(s risk.Status) float64 {
	switch s {
	case risk.StatusWarning:
		return 1
	case risk.StatusCritical:
		return 2
	case risk.StatusHalt:
		return 3
	default:
		return 0
	}
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
