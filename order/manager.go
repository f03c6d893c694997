package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"perp-maker-go/gateway"
	"perp-maker-go/metrics"
	"perp-maker-go/quote"
)

// minModifyThresholdBps 价格变动不超过该值时不改单，省 API 配额。
const minModifyThresholdBps = 0.5

// sizeChangeThreshold 数量相对变化超过 5% 才改单。
const sizeChangeThreshold = 0.05

// ManagedOrder 本地跟踪的在场订单。
type ManagedOrder struct {
	OID       string
	Symbol    string
	Side      string
	Price     float64
	Size      float64
	FilledQty float64
	Quote     quote.Quote
	PlacedAt  time.Time
}

// RemainingQty 未成交数量。
func (o *ManagedOrder) RemainingQty() float64 {
	return o.Size - o.FilledQty
}

// IsFullyFilled 剩余量近似为零即视为全部成交。
func (o *ManagedOrder) IsFullyFilled() bool {
	return o.RemainingQty() <= 1e-12
}

// DetectedFill 对账发现的一笔成交增量。
type DetectedFill struct {
	OID   string
	Side  string
	Price float64
	Size  float64
	Fee   float64
}

// FillCallback 每笔成交增量回调恰好一次。
type FillCallback func(oid, side string, price, size, fee float64)

// Stats 订单流量统计。
type Stats struct {
	TotalPlaced    int
	TotalModified  int
	TotalCancelled int
	TotalFills     int
}

// Manager 以最小交易所流量把期望报价集对齐到在场订单，
// 并通过 filledQty 水位对账部分成交。非并发安全：调用方按
// 交易对串行调用 UpdateQuotes / CheckPartialFills。
type Manager struct {
	ex     gateway.Exchange
	symbol string
	onFill FillCallback
	log    *zap.Logger

	active map[string]*ManagedOrder // oid -> order
	stats  Stats
}

// NewManager 创建订单管理器。
func NewManager(ex gateway.Exchange, symbol string, onFill FillCallback, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		ex:     ex,
		symbol: symbol,
		onFill: onFill,
		log:    log,
		active: make(map[string]*ManagedOrder),
	}
}

// slotKey 逻辑报价槽位：(方向, 档位)。
type slotKey struct {
	side  string
	level int
}

// UpdateQuotes 将期望报价与在场订单按槽位对比：
// 价格变动 ≤0.5bps 且数量变动 ≤5% 的订单原样保留；
// 先撤后挂；挂单优先批量，失败回退逐单（降级但正确）。
func (m *Manager) UpdateQuotes(ctx context.Context, desired []quote.Quote) {
	now := time.Now()

	want := make(map[slotKey]quote.Quote, len(desired))
	for _, q := range desired {
		want[slotKey{q.Side, q.Level}] = q
	}

	have := make(map[slotKey]*ManagedOrder, len(m.active))
	for _, mo := range m.active {
		have[slotKey{mo.Quote.Side, mo.Quote.Level}] = mo
	}

	var toCancel []string
	var toPlace []quote.Quote

	for key, q := range want {
		if mo, ok := have[key]; ok {
			if m.shouldModify(mo, q) {
				toCancel = append(toCancel, mo.OID)
				toPlace = append(toPlace, q)
				m.stats.TotalModified++
			}
			// 否则足够接近，留在队列里不动
		} else {
			toPlace = append(toPlace, q)
		}
	}

	// 槽位已不在期望集中的订单撤掉
	for key, mo := range have {
		if _, ok := want[key]; !ok {
			toCancel = append(toCancel, mo.OID)
		}
	}

	// 先执行撤单
	for _, oid := range toCancel {
		if _, err := m.ex.CancelOrder(ctx, m.symbol, oid); err != nil {
			// 撤单失败仍然放弃本地跟踪；交易所可能仍视其为在场，
			// 存在孤儿挂单风险（已知缺口，保持原行为）。
			m.log.Warn("cancel failed, dropping from tracking anyway",
				zap.String("symbol", m.symbol), zap.String("oid", oid), zap.Error(err))
			metrics.CancelFailures.WithLabelValues(m.symbol).Inc()
		} else {
			m.stats.TotalCancelled++
			metrics.OrdersCancelled.WithLabelValues(m.symbol).Inc()
		}
		delete(m.active, oid)
	}

	if len(toPlace) == 0 {
		return
	}

	// 批量挂单
	reqs := make([]gateway.OrderRequest, 0, len(toPlace))
	for _, q := range toPlace {
		reqs = append(reqs, gateway.OrderRequest{
			Symbol: m.symbol, Side: q.Side,
			Price: q.Price, Size: q.Size, PostOnly: true,
		})
	}
	oids, err := m.ex.BatchModifyOrders(ctx, reqs)
	if err != nil {
		m.log.Warn("batch place failed, falling back to individual",
			zap.String("symbol", m.symbol), zap.Error(err))
		for _, q := range toPlace {
			m.placeSingle(ctx, q, now)
		}
		return
	}
	for i, oid := range oids {
		if oid == "" || i >= len(toPlace) {
			continue
		}
		m.track(oid, toPlace[i], now)
	}
}

func (m *Manager) placeSingle(ctx context.Context, q quote.Quote, now time.Time) {
	oid, err := m.ex.PlaceLimitOrder(ctx, m.symbol, q.Side, q.Price, q.Size, true)
	if err != nil {
		m.log.Warn("place failed",
			zap.String("symbol", m.symbol), zap.String("side", q.Side),
			zap.Float64("price", q.Price), zap.Error(err))
		return
	}
	if oid != "" {
		m.track(oid, q, now)
	}
}

func (m *Manager) track(oid string, q quote.Quote, now time.Time) {
	m.active[oid] = &ManagedOrder{
		OID: oid, Symbol: m.symbol, Side: q.Side,
		Price: q.Price, Size: q.Size, Quote: q, PlacedAt: now,
	}
	m.stats.TotalPlaced++
	metrics.OrdersPlaced.WithLabelValues(m.symbol, q.Side).Inc()
}

func (m *Manager) shouldModify(mo *ManagedOrder, q quote.Quote) bool {
	if mo.Price == 0 {
		return true
	}
	diffBps := absFloat(q.Price-mo.Price) / mo.Price * 10000
	base := mo.Size
	if base < 1e-12 {
		base = 1e-12
	}
	sizeChanged := absFloat(q.Size-mo.Size)/base > sizeChangeThreshold
	return diffBps > minModifyThresholdBps || sizeChanged
}

// CheckPartialFills 拉取交易所在场订单作为权威数据，与本地 filledQty
// 水位对比：缺失 = 剩余量全部成交；filledQty 增大 = 增量部分成交。
// 水位只前进，重复观测不会重发同一增量（幂等）。
// 交易所拉取失败时按"本周期无事"处理，不动本地状态。
func (m *Manager) CheckPartialFills(ctx context.Context, makerFee float64) []DetectedFill {
	if len(m.active) == 0 {
		return nil
	}

	open, err := m.ex.GetOpenOrders(ctx, m.symbol)
	if err != nil {
		m.log.Warn("get open orders failed", zap.String("symbol", m.symbol), zap.Error(err))
		metrics.APIErrors.WithLabelValues(m.symbol).Inc()
		return nil
	}

	remote := make(map[string]gateway.OrderInfo, len(open))
	for _, oi := range open {
		remote[oi.OID] = oi
	}

	var detected []DetectedFill
	for oid, mo := range m.active {
		oi, exists := remote[oid]
		if !exists {
			// 交易所已没有该订单：剩余量视为全部成交
			if delta := mo.RemainingQty(); delta > 1e-12 {
				detected = append(detected, m.emit(mo, delta, makerFee))
			}
			delete(m.active, oid)
			continue
		}
		if oi.FilledQty > mo.FilledQty+1e-12 {
			delta := oi.FilledQty - mo.FilledQty
			mo.FilledQty = oi.FilledQty
			detected = append(detected, m.emit(mo, delta, makerFee))
			if mo.IsFullyFilled() {
				delete(m.active, oid)
			}
		}
	}
	return detected
}

func (m *Manager) emit(mo *ManagedOrder, size, makerFee float64) DetectedFill {
	fee := mo.Price * size * makerFee
	m.stats.TotalFills++
	metrics.FillsDetected.WithLabelValues(m.symbol, mo.Side).Inc()
	if m.onFill != nil {
		m.onFill(mo.OID, mo.Side, mo.Price, size, fee)
	}
	return DetectedFill{OID: mo.OID, Side: mo.Side, Price: mo.Price, Size: size, Fee: fee}
}

// CancelAll 撤掉全部在场订单；批量失败时逐单兜底，最后清空本地跟踪。
func (m *Manager) CancelAll(ctx context.Context) int {
	if len(m.active) == 0 {
		return 0
	}

	if count, err := m.ex.CancelAllOrders(ctx, m.symbol); err != nil {
		m.log.Error("batch cancel failed, cancelling individually",
			zap.String("symbol", m.symbol), zap.Error(err))
		for oid := range m.active {
			if _, cerr := m.ex.CancelOrder(ctx, m.symbol, oid); cerr != nil {
				metrics.CancelFailures.WithLabelValues(m.symbol).Inc()
			}
		}
	} else {
		m.log.Info("cancelled all orders",
			zap.String("symbol", m.symbol), zap.Int("count", count))
	}

	n := len(m.active)
	m.active = make(map[string]*ManagedOrder)
	m.stats.TotalCancelled += n
	return n
}

// NumActive 在场订单数。
func (m *Manager) NumActive() int { return len(m.active) }

// Stats 返回统计副本。
func (m *Manager) Stats() Stats { return m.stats }

// Active 返回指定订单（测试用）。
func (m *Manager) Active(oid string) (*ManagedOrder, bool) {
	mo, ok := m.active[oid]
	return mo, ok
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
