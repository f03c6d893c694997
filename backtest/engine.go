package backtest

import (
	"sort"

	"go.uber.org/zap"

	"perp-maker-go/inventory"
	"perp-maker-go/market"
	"perp-maker-go/quote"
	"perp-maker-go/risk"
)

// PendingOrder 模拟盘里的在场限价单。
// QueuePosition 是估计排在我们前面的名义深度（USD），只减不增。
type PendingOrder struct {
	Side          string
	Price         float64
	Size          float64
	Remaining     float64
	PlacedAt      string
	Level         int
	QueuePosition float64
}

// Config 回放引擎配置。
type Config struct {
	QuoteParams           quote.Params
	MakerFee              float64 // 负值 = 返佣
	TakerFee              float64
	MaxPositionUsd        float64
	MaxDailyLoss          float64
	CapitalUsd            float64
	QuoteRefreshSnapshots int  // 每 N 个快照重新报价
	UseQueuePosition      bool // 关闭后退化为纯价格穿越模型
	VolWindow             int
}

// DefaultConfig 返回与实盘默认一致的回放配置。
func DefaultConfig() Config {
	return Config{
		QuoteParams:           quote.DefaultParams(),
		MakerFee:              -0.00015,
		TakerFee:              0.00045,
		MaxPositionUsd:        500.0,
		MaxDailyLoss:          50.0,
		CapitalUsd:            1000.0,
		QuoteRefreshSnapshots: 1,
		UseQueuePosition:      true,
		VolWindow:             20,
	}
}

// Engine 订单簿回放回测器：用录制的 L2/成交流驱动与实盘完全相同的
// 报价/库存/风控组件，以队列位置感知的撮合器代替真实交易所。
// 完全确定性、单线程。
type Engine struct {
	cfg     Config
	quoter  *quote.Engine
	inv     *inventory.Manager
	riskMgr *risk.Manager
	log     *zap.Logger

	pendingBids []*PendingOrder
	pendingAsks []*PendingOrder
	current     *market.OrderBookSnapshot
	snapCount   int
	vol         *market.VolatilityWindow

	fillTimes       []float64
	queuePositions  []float64
	spreadsQuoted   []float64
	spreadsCaptured []float64
	marketSpreads   []float64
	invSamples      []float64
	adverseCount    int
	equityCurve     []float64
	dailyPnl        map[string]float64
}

// NewEngine 创建回放引擎。
func NewEngine(cfg Config, log *zap.Logger) *Engine {
	if cfg.QuoteRefreshSnapshots <= 0 {
		cfg.QuoteRefreshSnapshots = 1
	}
	if cfg.VolWindow <= 0 {
		cfg.VolWindow = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: log}
}

// Run 回放合并时间线并返回汇总结果。
func (e *Engine) Run(snapshots []market.OrderBookSnapshot, trades []market.TradeTick, symbol string) Result {
	if len(snapshots) == 0 {
		return Result{Symbol: symbol, TotalMarketTrades: len(trades)}
	}

	e.quoter = quote.NewEngine(e.cfg.QuoteParams)
	e.inv = inventory.NewManager(symbol, e.cfg.MaxPositionUsd)
	e.riskMgr = risk.NewManager(risk.Config{
		MaxDailyLossUsd: e.cfg.MaxDailyLoss,
		MaxDrawdownPct:  risk.DefaultConfig().MaxDrawdownPct,
		CapitalUsd:      e.cfg.CapitalUsd,
	})

	e.pendingBids = nil
	e.pendingAsks = nil
	e.current = nil
	e.snapCount = 0
	e.vol = market.NewVolatilityWindow(e.cfg.VolWindow)
	e.fillTimes = nil
	e.queuePositions = nil
	e.spreadsQuoted = nil
	e.spreadsCaptured = nil
	e.marketSpreads = nil
	e.invSamples = nil
	e.adverseCount = 0
	e.equityCurve = []float64{e.cfg.CapitalUsd}
	e.dailyPnl = make(map[string]float64)

	var loader Loader
	for _, ev := range loader.CreateTimeline(snapshots, trades) {
		if ev.Snapshot != nil {
			e.onSnapshot(ev.Snapshot)
		} else if ev.Trade != nil {
			e.onTrade(ev.Trade)
		}
	}

	return e.compile(symbol, snapshots, trades)
}

// onSnapshot 更新行情状态，按周期刷新报价。
func (e *Engine) onSnapshot(snap *market.OrderBookSnapshot) {
	e.current = snap
	e.snapCount++

	mid := snap.MidPrice()
	if mid > 0 {
		e.vol.Update(mid)
		e.marketSpreads = append(e.marketSpreads, snap.SpreadBps())
	}

	e.invSamples = append(e.invSamples, e.inv.PositionUsd())

	if e.snapCount%e.cfg.QuoteRefreshSnapshots == 0 && mid > 0 {
		e.refreshQuotes(snap)
	}
}

// refreshQuotes 撤掉全部在场单并用引擎输出重建 PendingOrder。
func (e *Engine) refreshQuotes(snap *market.OrderBookSnapshot) {
	mid := snap.MidPrice()
	invUsd := e.inv.State().PositionSize * mid

	equity := e.cfg.CapitalUsd + e.inv.State().RealizedPnl
	dailyPnl := e.inv.State().RealizedPnl

	status := e.riskMgr.CheckAll(dailyPnl, equity, e.vol.Value(), absFloat(invUsd), e.cfg.MaxPositionUsd)
	if status == risk.StatusHalt {
		e.pendingBids = nil
		e.pendingAsks = nil
		return
	}

	quotes := e.quoter.Calculate(quote.Input{
		MidPrice:       mid,
		Volatility:     e.vol.Value(),
		InventoryUsd:   invUsd,
		MaxPositionUsd: e.cfg.MaxPositionUsd,
		BookImbalance:  snap.Imbalance(),
	})

	e.pendingBids = e.pendingBids[:0]
	e.pendingAsks = e.pendingAsks[:0]

	for _, q := range quotes {
		o := &PendingOrder{
			Side:          q.Side,
			Price:         q.Price,
			Size:          q.Size,
			Remaining:     q.Size,
			PlacedAt:      snap.Timestamp,
			Level:         q.Level,
			QueuePosition: e.estimateQueuePosition(q.Side, q.Price, snap),
		}
		if q.Side == "buy" {
			e.pendingBids = append(e.pendingBids, o)
		} else {
			e.pendingAsks = append(e.pendingAsks, o)
		}
	}
	// 保持买单从高到低、卖单从低到高的簿内顺序
	sort.SliceStable(e.pendingBids, func(i, j int) bool { return e.pendingBids[i].Price > e.pendingBids[j].Price })
	sort.SliceStable(e.pendingAsks, func(i, j int) bool { return e.pendingAsks[i].Price < e.pendingAsks[j].Price })

	if len(e.pendingBids) > 0 && len(e.pendingAsks) > 0 {
		bestBid := e.pendingBids[0].Price
		bestAsk := e.pendingAsks[0].Price
		e.spreadsQuoted = append(e.spreadsQuoted, (bestAsk-bestBid)/mid*10000.0)
	}
}

// onTrade 市场成交只打对手侧：卖单吃我们的 bid，买单吃我们的 ask。
// 单笔成交可按簿内顺序连续吃穿多个在场单。
func (e *Engine) onTrade(trade *market.TradeTick) {
	if e.current == nil {
		return
	}

	var book []*PendingOrder
	switch trade.Side {
	case "sell":
		book = e.pendingBids
	case "buy":
		book = e.pendingAsks
	default:
		return
	}

	remaining := trade.Size
	for _, o := range append([]*PendingOrder(nil), book...) {
		if remaining <= 0 {
			break
		}
		fillSize := e.checkFill(o, trade, remaining)
		if fillSize > 0 {
			e.executeFill(o, trade, fillSize)
			remaining -= fillSize
		}
	}
}

// checkFill 判定在场单能否被该成交打中，返回成交量（0 = 未成交）。
// 队列模拟开启时成交必须先吃穿前方深度，剩余部分才轮到我们。
func (e *Engine) checkFill(o *PendingOrder, trade *market.TradeTick, available float64) float64 {
	if o.Remaining <= 0 {
		return 0
	}

	// 价格条件
	if o.Side == "buy" && trade.Price > o.Price {
		return 0
	}
	if o.Side == "sell" && trade.Price < o.Price {
		return 0
	}

	availableAfterQueue := available
	if e.cfg.UseQueuePosition && o.QueuePosition > 0 {
		queueUnits := 0.0
		if trade.Price > 0 {
			queueUnits = o.QueuePosition / trade.Price
		}
		if available <= queueUnits {
			// 成交被前方队列吃掉，只推进我们的排位
			o.QueuePosition -= available * trade.Price
			if o.QueuePosition < 0 {
				o.QueuePosition = 0
			}
			return 0
		}
		availableAfterQueue = available - queueUnits
		o.QueuePosition = 0
	}

	fillSize := availableAfterQueue
	if o.Remaining < fillSize {
		fillSize = o.Remaining
	}
	if fillSize <= 0 {
		return 0
	}
	return fillSize
}

// executeFill 记账一笔成交：手续费、库存、延迟、捕获价差、逆向选择。
func (e *Engine) executeFill(o *PendingOrder, trade *market.TradeTick, fillSize float64) {
	fee := e.cfg.MakerFee * o.Price * fillSize
	realized := e.inv.OnFill(o.Side, o.Price, fillSize, fee)

	o.Remaining -= fillSize
	if o.Remaining <= 1e-12 {
		if o.Side == "buy" {
			e.pendingBids = removeOrder(e.pendingBids, o)
		} else {
			e.pendingAsks = removeOrder(e.pendingAsks, o)
		}
	}

	// 成交延迟：挂单时刻到成交时刻（毫秒）
	if placed, ok1 := parseTimestamp(o.PlacedAt); ok1 {
		if filled, ok2 := parseTimestamp(trade.Timestamp); ok2 {
			e.fillTimes = append(e.fillTimes, filled.Sub(placed).Seconds()*1000.0)
		}
	}

	e.queuePositions = append(e.queuePositions, o.QueuePosition)

	// 捕获价差：成交价相对快照中间价的带符号距离
	mid := o.Price
	if e.current != nil && e.current.MidPrice() > 0 {
		mid = e.current.MidPrice()
	}
	if mid > 0 {
		if o.Side == "buy" {
			e.spreadsCaptured = append(e.spreadsCaptured, (mid-o.Price)/mid*10000.0)
		} else {
			e.spreadsCaptured = append(e.spreadsCaptured, (o.Price-mid)/mid*10000.0)
		}
	}

	// 逆向选择：成交价穿过我们报价超过 0.1%
	if o.Side == "buy" && trade.Price < o.Price*0.999 {
		e.adverseCount++
	} else if o.Side == "sell" && trade.Price > o.Price*1.001 {
		e.adverseCount++
	}

	equity := e.cfg.CapitalUsd + e.inv.State().RealizedPnl + e.inv.State().TotalFees
	e.equityCurve = append(e.equityCurve, equity)

	dateKey := "unknown"
	if len(trade.Timestamp) >= 10 {
		dateKey = trade.Timestamp[:10]
	}
	e.dailyPnl[dateKey] += realized + fee
}

// estimateQueuePosition 估计挂单前方的名义深度（USD）：
// 严格优于我们价格的全部深度 + 同价位深度的 50%（FIFO 近似）。
func (e *Engine) estimateQueuePosition(side string, price float64, snap *market.OrderBookSnapshot) float64 {
	if !e.cfg.UseQueuePosition {
		return 0
	}

	var depth float64
	levels := snap.Asks
	better := func(lvlPrice float64) bool { return lvlPrice < price }
	if side == "buy" {
		levels = snap.Bids
		better = func(lvlPrice float64) bool { return lvlPrice > price }
	}
	for _, lvl := range levels {
		if better(lvl.Price) {
			depth += lvl.Price * lvl.Size
		} else if absFloat(lvl.Price-price) < 1e-9 {
			depth += lvl.Price * lvl.Size * 0.5
		}
	}
	return depth
}

// compile 汇总全部指标。
func (e *Engine) compile(symbol string, snapshots []market.OrderBookSnapshot, trades []market.TradeTick) Result {
	durationHours := 0.0
	if len(snapshots) >= 2 {
		t0, ok1 := parseTimestamp(snapshots[0].Timestamp)
		t1, ok2 := parseTimestamp(snapshots[len(snapshots)-1].Timestamp)
		if ok1 && ok2 {
			durationHours = t1.Sub(t0).Hours()
			if durationHours < 0.001 {
				durationHours = 0.001
			}
		} else {
			durationHours = 1.0
		}
	}

	st := e.inv.State()
	totalFills := st.NumBuys + st.NumSells

	maxDD := 0.0
	peak := e.cfg.CapitalUsd
	if len(e.equityCurve) > 0 {
		peak = e.equityCurve[0]
	}
	for _, eq := range e.equityCurve {
		if eq > peak {
			peak = eq
		}
		if dd := peak - eq; dd > maxDD {
			maxDD = dd
		}
	}

	dailyPnls := make([]float64, 0, len(e.dailyPnl))
	for _, v := range e.dailyPnl {
		dailyPnls = append(dailyPnls, v)
	}

	r := Result{
		Symbol:            symbol,
		DurationHours:     durationHours,
		TotalSnapshots:    len(snapshots),
		TotalMarketTrades: len(trades),
		GrossPnl:          st.RealizedPnl,
		TotalFees:         st.TotalFees,
		NetPnl:            st.RealizedPnl + st.TotalFees,
		TotalFills:        totalFills,
		BuyFills:          st.NumBuys,
		SellFills:         st.NumSells,
		MaxDrawdown:       maxDD,
		SharpeRatio:       annualizedSharpe(dailyPnls),
		AdverseFills:      e.adverseCount,
		DailyPnls:         dailyPnls,
	}
	if durationHours > 0 {
		r.FillsPerHour = float64(totalFills) / durationHours
	}
	if totalFills > 0 {
		r.AdversePct = float64(e.adverseCount) / float64(totalFills) * 100.0
	}
	r.AvgQueuePosition = mean(e.queuePositions)
	r.AvgFillTimeMs = mean(e.fillTimes)
	r.AvgSpreadQuotedBps = mean(e.spreadsQuoted)
	r.AvgSpreadCapturedBps = mean(e.spreadsCaptured)
	r.AvgMarketSpreadBps = mean(e.marketSpreads)
	r.AvgInventoryUsd = mean(e.invSamples)
	for _, v := range e.invSamples {
		if v > r.MaxInventoryUsd {
			r.MaxInventoryUsd = v
		}
	}
	return r
}

func removeOrder(orders []*PendingOrder, target *PendingOrder) []*PendingOrder {
	for i, o := range orders {
		if o == target {
			return append(orders[:i], orders[i+1:]...)
		}
	}
	return orders
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
