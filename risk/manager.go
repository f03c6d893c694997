package risk

import (
	"fmt"
	"time"
)

// Status 风控状态机的四个档位。
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusHalt     Status = "halt"
)

// State 当前风控状态。PeakEquity 单调不降（高水位）。
type State struct {
	Status               Status
	Reason               string
	DailyPnl             float64
	PeakEquity           float64
	CurrentDrawdownPct   float64
	LastPriceMovePct     float64
	PausedUntil          time.Time
	APIErrorsCount       int
	APIErrorsWindowStart time.Time
}

// Config 风控阈值。
type Config struct {
	MaxDailyLossUsd     float64 `yaml:"maxDailyLossUsd"`
	MaxDrawdownPct      float64 `yaml:"maxDrawdownPct"`
	VolatilityPauseMult float64 `yaml:"volatilityPauseMult"`
	CapitalUsd          float64 `yaml:"capitalUsd"`
}

// DefaultConfig 返回默认阈值。
func DefaultConfig() Config {
	return Config{
		MaxDailyLossUsd:     50.0,
		MaxDrawdownPct:      5.0,
		VolatilityPauseMult: 3.0,
		CapitalUsd:          1000.0,
	}
}

// Manager 熔断状态机。每次 CheckAll 从头评估，不是单调推进；
// 触发条件消失后可以从 Halt 恢复，唯独冷却计时器是粘性的。
type Manager struct {
	cfg       Config
	state     State
	normalVol float64
	volSeeded bool
	clock     Clock
}

// NewManager 创建风控管理器。
func NewManager(cfg Config) *Manager {
	if cfg.VolatilityPauseMult <= 0 {
		cfg.VolatilityPauseMult = 3.0
	}
	return &Manager{
		cfg:   cfg,
		state: State{Status: StatusNormal, PeakEquity: cfg.CapitalUsd},
		clock: realClock{},
	}
}

// SetClock 注入测试时钟。
func (m *Manager) SetClock(c Clock) {
	if c != nil {
		m.clock = c
	}
}

// State 返回状态副本。
func (m *Manager) State() State { return m.state }

// CheckAll 依次执行全部风控检查并返回总体状态。
// 顺序：冷却 → 日亏损 → 回撤 → 波动尖峰 → 仓位比例。
func (m *Manager) CheckAll(dailyPnl, equity, currentVol, positionUsd, maxPositionUsd float64) Status {
	m.state.DailyPnl = dailyPnl
	if equity > m.state.PeakEquity {
		m.state.PeakEquity = equity
	}

	// 冷却计时器
	if m.clock.Now().Before(m.state.PausedUntil) {
		return m.set(StatusHalt, "paused (cooldown)")
	}

	// 日亏损上限（严格小于）
	if dailyPnl < -m.cfg.MaxDailyLossUsd {
		return m.set(StatusHalt, fmt.Sprintf("daily loss $%.2f > limit $%.2f", dailyPnl, m.cfg.MaxDailyLossUsd))
	}

	// 回撤
	if m.state.PeakEquity > 0 {
		dd := (m.state.PeakEquity - equity) / m.state.PeakEquity * 100
		m.state.CurrentDrawdownPct = dd
		if dd > m.cfg.MaxDrawdownPct {
			return m.set(StatusHalt, fmt.Sprintf("drawdown %.1f%% > limit %.1f%%", dd, m.cfg.MaxDrawdownPct))
		}
	}

	// 波动尖峰；首个观测只建立基线，不触发
	if m.volSeeded && currentVol > m.normalVol*m.cfg.VolatilityPauseMult {
		return m.set(StatusCritical, fmt.Sprintf("volatility spike: %.4f > %.4f", currentVol, m.normalVol*m.cfg.VolatilityPauseMult))
	}
	if !m.volSeeded && currentVol > 0 {
		m.normalVol = currentVol
		m.volSeeded = true
	}

	// 仓位比例
	if maxPositionUsd > 0 {
		ratio := absFloat(positionUsd) / maxPositionUsd
		if ratio > 0.9 {
			return m.set(StatusCritical, fmt.Sprintf("position %.0f%% of max", ratio*100))
		}
		if ratio > 0.7 {
			return m.set(StatusWarning, fmt.Sprintf("position %.0f%% of max", ratio*100))
		}
	}

	return m.set(StatusNormal, "")
}

// OnLargeMove 行情瞬间位移超过 1% 时设置冷却暂停。
func (m *Manager) OnLargeMove(pctMove float64, pause time.Duration) {
	if pause <= 0 {
		pause = 300 * time.Second
	}
	m.state.LastPriceMovePct = pctMove
	if absFloat(pctMove) > 1.0 {
		m.state.PausedUntil = m.clock.Now().Add(pause)
		m.set(StatusHalt, fmt.Sprintf("large move %+.2f%%, paused %s", pctMove, pause))
	}
}

// OnApiError 维护 60 秒滚动错误计数；超过 5 次进入 120 秒冷却。
func (m *Manager) OnApiError() {
	now := m.clock.Now()
	if now.Sub(m.state.APIErrorsWindowStart) > 60*time.Second {
		m.state.APIErrorsCount = 0
		m.state.APIErrorsWindowStart = now
	}
	m.state.APIErrorsCount++

	if m.state.APIErrorsCount > 5 {
		m.state.PausedUntil = now.Add(120 * time.Second)
		m.set(StatusHalt, "too many API errors")
	}
}

// UpdateNormalVol 用 EMA 缓慢更新波动基线；由调用方每周期调用一次，
// 与检查本身解耦，避免瞬时尖峰永久抬高基线。
func (m *Manager) UpdateNormalVol(vol, alpha float64) {
	if alpha <= 0 {
		alpha = 0.01
	}
	if !m.volSeeded {
		m.normalVol = vol
		m.volSeeded = true
		return
	}
	m.normalVol = m.normalVol*(1-alpha) + vol*alpha
}

// NormalVol 返回当前波动基线（未建立时为 0）。
func (m *Manager) NormalVol() float64 { return m.normalVol }

func (m *Manager) set(s Status, reason string) Status {
	m.state.Status = s
	m.state.Reason = reason
	return s
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
