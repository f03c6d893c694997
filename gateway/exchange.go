package gateway

import "context"

// OrderInfo 交易所侧的订单视图（对账时的权威数据）。
type OrderInfo struct {
	OID          string
	Symbol       string
	Side         string // "buy" / "sell"
	Price        float64
	Size         float64
	FilledQty    float64
	RemainingQty float64
	Status       string // "open" / "partially_filled" / "filled" / "cancelled"
}

// Position 交易所侧持仓。
type Position struct {
	Size          float64
	Side          string
	EntryPrice    float64
	UnrealizedPnl float64
}

// OrderRequest 批量下单请求中的一条。
type OrderRequest struct {
	Symbol   string
	Side     string
	Price    float64
	Size     float64
	PostOnly bool
}

// Exchange 订单管理与实盘循环依赖的交易所能力集合。
// 具体场所适配器（Hyperliquid 等）实现该接口，核心不触碰任何厂商 SDK。
type Exchange interface {
	PlaceLimitOrder(ctx context.Context, symbol, side string, price, size float64, postOnly bool) (string, error)
	CancelOrder(ctx context.Context, symbol, oid string) (bool, error)
	CancelAllOrders(ctx context.Context, symbol string) (int, error)
	BatchModifyOrders(ctx context.Context, reqs []OrderRequest) ([]string, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderInfo, error)
	GetMidPrice(ctx context.Context, symbol string) (float64, error)
	GetPosition(ctx context.Context, symbol string) (Position, error)
}

// Heartbeater 交易所侧 dead-man's-switch：进程停跳后交易所自动撤单。
// 独立于 Exchange 定义，纸面适配器可以不实现。
type Heartbeater interface {
	Heartbeat(ctx context.Context, timeout int) error
}

// SymbolMeta 交易对精度信息，连接后一次性填充，此后只读。
type SymbolMeta struct {
	Symbol   string
	TickSize float64
	LotSize  float64
}
