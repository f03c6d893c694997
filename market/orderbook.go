package market

// L2Level 订单簿单个价位。
type L2Level struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot 某一时刻的完整 L2 快照。
// Bids 按价格降序，Asks 按价格升序；回放与录制双方都依赖该排序。
type OrderBookSnapshot struct {
	Timestamp string // ISO 格式
	Bids      []L2Level
	Asks      []L2Level
}

// MidPrice 返回中间价；任一侧为空时返回 0。
func (s *OrderBookSnapshot) MidPrice() float64 {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0
	}
	return (s.Bids[0].Price + s.Asks[0].Price) / 2.0
}

// SpreadBps 返回买卖价差（bps）。
func (s *OrderBookSnapshot) SpreadBps() float64 {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0
	}
	mid := s.MidPrice()
	if mid == 0 {
		return 0
	}
	return (s.Asks[0].Price - s.Bids[0].Price) / mid * 10000.0
}

// BidDepth 返回买侧全部名义深度（USD）。
func (s *OrderBookSnapshot) BidDepth() float64 {
	var d float64
	for _, lvl := range s.Bids {
		d += lvl.Price * lvl.Size
	}
	return d
}

// AskDepth 返回卖侧全部名义深度（USD）。
func (s *OrderBookSnapshot) AskDepth() float64 {
	var d float64
	for _, lvl := range s.Asks {
		d += lvl.Price * lvl.Size
	}
	return d
}

// Imbalance 返回 [-1,1] 的深度失衡；正值表示买压。
func (s *OrderBookSnapshot) Imbalance() float64 {
	bid, ask := s.BidDepth(), s.AskDepth()
	total := bid + ask
	if total <= 0 {
		return 0
	}
	return (bid - ask) / total
}

// TradeTick 单笔市场成交。Side 为 "buy" 或 "sell"（吃单方向）。
type TradeTick struct {
	Timestamp string
	Side      string
	Price     float64
	Size      float64
}
