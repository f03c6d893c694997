package inventory

import "time"

// positionEpsilon 仓位归零的浮点容差。
const positionEpsilon = 1e-10

// Fill 单笔成交；Fee 为正表示成本，负表示返佣。
type Fill struct {
	Timestamp time.Time
	Side      string
	Price     float64
	Size      float64
	Fee       float64
}

// State 单个交易对的库存状态；仅由所属 Manager 修改。
type State struct {
	Symbol          string
	PositionSize    float64 // + 多 / - 空
	AvgEntryPrice   float64 // 仅 PositionSize != 0 时有意义
	RealizedPnl     float64
	UnrealizedPnl   float64
	TotalFees       float64
	NumBuys         int
	NumSells        int
	VolumeTradedUsd float64
	RoundTrips      int
	DailyHighInv    float64
	DailyLowInv     float64
}

// Manager 逐笔维护仓位与盈亏。一个交易对一个实例，不跨实例共享。
type Manager struct {
	state          State
	maxPositionUsd float64
	fills          []Fill
}

// NewManager 创建库存管理器。
func NewManager(symbol string, maxPositionUsd float64) *Manager {
	return &Manager{
		state:          State{Symbol: symbol},
		maxPositionUsd: maxPositionUsd,
	}
}

// State 返回状态副本。
func (m *Manager) State() State { return m.state }

// MaxPositionUsd 返回仓位上限。
func (m *Manager) MaxPositionUsd() float64 { return m.maxPositionUsd }

// PositionUsd 按均价计的仓位名义额（绝对值）。
func (m *Manager) PositionUsd() float64 {
	if m.state.AvgEntryPrice == 0 {
		return 0
	}
	v := m.state.PositionSize * m.state.AvgEntryPrice
	if v < 0 {
		v = -v
	}
	return v
}

// InventoryRatio 仓位占上限的带符号比例（-1..+1）。
func (m *Manager) InventoryRatio() float64 {
	if m.maxPositionUsd == 0 || m.state.AvgEntryPrice == 0 {
		return 0
	}
	return m.state.PositionSize * m.state.AvgEntryPrice / m.maxPositionUsd
}

// OnFill 处理一笔成交并返回本笔实现盈亏（开仓为 0）。
// 同向加仓按加权均价；反向先平 min(size,|pos|)，超出部分翻仓。
func (m *Manager) OnFill(side string, price, size, fee float64) float64 {
	realized := 0.0
	signedSize := size
	if side != "buy" {
		signedSize = -size
	}

	oldPos := m.state.PositionSize

	if oldPos == 0 || (oldPos > 0 && side == "buy") || (oldPos < 0 && side == "sell") {
		// 开仓或加仓：加权平均成本
		totalCost := m.state.AvgEntryPrice*abs(oldPos) + price*size
		m.state.PositionSize += signedSize
		if abs(m.state.PositionSize) > 0 {
			m.state.AvgEntryPrice = totalCost / abs(m.state.PositionSize)
		}
	} else {
		// 减仓
		closeSize := size
		if abs(oldPos) < closeSize {
			closeSize = abs(oldPos)
		}
		if oldPos > 0 {
			realized = (price - m.state.AvgEntryPrice) * closeSize
		} else {
			realized = (m.state.AvgEntryPrice - price) * closeSize
		}

		m.state.PositionSize += signedSize

		// 翻仓：剩余部分以成交价为新均价
		remaining := size - closeSize
		if remaining > 0 {
			m.state.AvgEntryPrice = price
		} else if abs(m.state.PositionSize) < positionEpsilon {
			m.state.PositionSize = 0
			m.state.AvgEntryPrice = 0
		}

		if closeSize > 0 {
			m.state.RoundTrips++
		}
	}

	m.state.RealizedPnl += realized
	m.state.TotalFees += fee
	m.state.VolumeTradedUsd += price * size

	if side == "buy" {
		m.state.NumBuys++
	} else {
		m.state.NumSells++
	}

	// 日内仓位极值
	posUsd := m.state.PositionSize * price
	if posUsd > m.state.DailyHighInv {
		m.state.DailyHighInv = posUsd
	}
	if posUsd < m.state.DailyLowInv {
		m.state.DailyLowInv = posUsd
	}

	m.fills = append(m.fills, Fill{
		Timestamp: time.Now(),
		Side:      side,
		Price:     price,
		Size:      size,
		Fee:       fee,
	})

	return realized
}

// UpdateUnrealized 按最新价重算浮动盈亏，与 OnFill 解耦。
func (m *Manager) UpdateUnrealized(currentPrice float64) {
	if m.state.PositionSize == 0 {
		m.state.UnrealizedPnl = 0
		return
	}
	if m.state.PositionSize > 0 {
		m.state.UnrealizedPnl = (currentPrice - m.state.AvgEntryPrice) * m.state.PositionSize
	} else {
		m.state.UnrealizedPnl = (m.state.AvgEntryPrice - currentPrice) * abs(m.state.PositionSize)
	}
}

// NetPnl 实现盈亏减手续费（不含浮动）。
func (m *Manager) NetPnl() float64 {
	return m.state.RealizedPnl - m.state.TotalFees
}

// TotalPnl 实现 + 浮动 - 手续费。
func (m *Manager) TotalPnl() float64 {
	return m.state.RealizedPnl + m.state.UnrealizedPnl - m.state.TotalFees
}

// ShouldPauseSide 当某方向继续成交会把仓位推过上限 80% 时返回 true。
func (m *Manager) ShouldPauseSide(side string, currentPrice float64) bool {
	price := currentPrice
	if price <= 0 {
		price = m.state.AvgEntryPrice
	}
	if price == 0 {
		return false
	}
	posUsd := m.state.PositionSize * price
	threshold := m.maxPositionUsd * 0.8

	if side == "buy" && posUsd > threshold {
		return true // 多头过重，不再买
	}
	if side == "sell" && posUsd < -threshold {
		return true // 空头过重，不再卖
	}
	return false
}

// ShouldHedge 仓位超过上限 90% 时返回 true。
func (m *Manager) ShouldHedge(currentPrice float64) bool {
	price := currentPrice
	if price <= 0 {
		price = m.state.AvgEntryPrice
	}
	if price == 0 {
		return false
	}
	return abs(m.state.PositionSize*price) > m.maxPositionUsd*0.9
}

// ResetDaily 清零日内统计。
func (m *Manager) ResetDaily() {
	m.state.DailyHighInv = 0
	m.state.DailyLowInv = 0
}

// Fills 返回成交历史。
func (m *Manager) Fills() []Fill { return m.fills }

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
