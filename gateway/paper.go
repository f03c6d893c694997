package gateway

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownSymbol 请求了未配置的交易对。
var ErrUnknownSymbol = errors.New("unknown symbol")

// PaperExchange 内存撮合桩：订单只挂不撮合，由测试或模拟器显式打成交。
// 用于 runner 的 dry 模式与单元测试。并发安全。
type PaperExchange struct {
	mu     sync.Mutex
	meta   map[string]SymbolMeta
	mids   map[string]float64
	orders map[string]*OrderInfo // oid -> order
}

// NewPaperExchange 创建纸面交易所；meta 为各交易对精度，之后不可变。
func NewPaperExchange(meta []SymbolMeta) *PaperExchange {
	m := make(map[string]SymbolMeta, len(meta))
	for _, s := range meta {
		m[s.Symbol] = s
	}
	return &PaperExchange{
		meta:   m,
		mids:   make(map[string]float64),
		orders: make(map[string]*OrderInfo),
	}
}

// SetMidPrice 测试/模拟器注入中间价。
func (p *PaperExchange) SetMidPrice(symbol string, mid float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mids[symbol] = mid
}

// Fill 模拟一笔（部分）成交，推进交易所侧 filledQty 水位。
func (p *PaperExchange) Fill(oid string, qty float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[oid]
	if !ok {
		return
	}
	o.FilledQty += qty
	o.RemainingQty = o.Size - o.FilledQty
	if o.RemainingQty <= 1e-12 {
		o.RemainingQty = 0
		o.Status = "filled"
		delete(p.orders, oid)
	} else {
		o.Status = "partially_filled"
	}
}

func (p *PaperExchange) PlaceLimitOrder(_ context.Context, symbol, side string, price, size float64, _ bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if meta, ok := p.meta[symbol]; ok {
		price = roundToStep(price, meta.TickSize)
		size = roundToStep(size, meta.LotSize)
	}

	oid := uuid.NewString()
	p.orders[oid] = &OrderInfo{
		OID: oid, Symbol: symbol, Side: side,
		Price: price, Size: size, RemainingQty: size, Status: "open",
	}
	return oid, nil
}

func (p *PaperExchange) CancelOrder(_ context.Context, _ string, oid string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[oid]; !ok {
		return false, nil
	}
	delete(p.orders, oid)
	return true, nil
}

func (p *PaperExchange) CancelAllOrders(_ context.Context, symbol string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for oid, o := range p.orders {
		if o.Symbol == symbol {
			delete(p.orders, oid)
			n++
		}
	}
	return n, nil
}

func (p *PaperExchange) BatchModifyOrders(ctx context.Context, reqs []OrderRequest) ([]string, error) {
	oids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		oid, err := p.PlaceLimitOrder(ctx, r.Symbol, r.Side, r.Price, r.Size, r.PostOnly)
		if err != nil {
			return oids, err
		}
		oids = append(oids, oid)
	}
	return oids, nil
}

func (p *PaperExchange) GetOpenOrders(_ context.Context, symbol string) ([]OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderInfo, 0, len(p.orders))
	for _, o := range p.orders {
		if o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (p *PaperExchange) GetMidPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mid, ok := p.mids[symbol]
	if !ok {
		return 0, ErrUnknownSymbol
	}
	return mid, nil
}

func (p *PaperExchange) GetPosition(_ context.Context, _ string) (Position, error) {
	return Position{}, nil
}

func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step) * step
}
