package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock 可推进的测试时钟。
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager() (*Manager, *fakeClock) {
	m := NewManager(DefaultConfig()) // 50 USD 日亏 / 5% 回撤 / 3x 波动 / 1000 本金
	clk := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	m.SetClock(clk)
	return m, clk
}

func TestDailyLossStrictBoundary(t *testing.T) {
	m, _ := newTestManager()

	// 恰好 -50：严格小于才触发
	if got := m.CheckAll(-50.0, 1000, 0.005, 0, 500); got != StatusNormal {
		t.Fatalf("loss at limit should stay normal, got %s", got)
	}
	if got := m.CheckAll(-50.01, 1000, 0.005, 0, 500); got != StatusHalt {
		t.Fatalf("loss past limit should halt, got %s", got)
	}
}

func TestDrawdownUsesMonotonePeak(t *testing.T) {
	m, _ := newTestManager()

	m.CheckAll(0, 1100, 0.005, 0, 500) // 高水位抬到 1100
	got := m.CheckAll(0, 1040, 0.005, 0, 500)
	assert.Equal(t, StatusHalt, got, "drawdown from peak 1100 should halt")

	// 权益回升后恢复
	got = m.CheckAll(0, 1090, 0.005, 0, 500)
	assert.Equal(t, StatusNormal, got)
}

func TestVolatilitySpikeSeedsOnFirstObservation(t *testing.T) {
	m, _ := newTestManager()

	// 首个观测只建立基线
	if got := m.CheckAll(0, 1000, 0.01, 0, 500); got != StatusNormal {
		t.Fatalf("first vol observation must not trigger, got %s", got)
	}
	// 3 倍以上触发 critical
	if got := m.CheckAll(0, 1000, 0.031, 0, 500); got != StatusCritical {
		t.Fatalf("vol spike should be critical, got %s", got)
	}
	if got := m.CheckAll(0, 1000, 0.02, 0, 500); got != StatusNormal {
		t.Fatalf("vol below threshold should recover, got %s", got)
	}
}

func TestPositionRatioBands(t *testing.T) {
	m, _ := newTestManager()
	m.CheckAll(0, 1000, 0.005, 0, 500) // 基线

	assert.Equal(t, StatusWarning, m.CheckAll(0, 1000, 0.005, 360, 500), "72 pct of max")
	assert.Equal(t, StatusCritical, m.CheckAll(0, 1000, 0.005, 460, 500), "92 pct of max")
	assert.Equal(t, StatusNormal, m.CheckAll(0, 1000, 0.005, 300, 500), "60 pct of max")
}

func TestLargeMoveCooldown(t *testing.T) {
	m, clk := newTestManager()

	m.OnLargeMove(0.8, 0)
	if got := m.CheckAll(0, 1000, 0.005, 0, 500); got != StatusNormal {
		t.Fatalf("0.8%% move must not pause, got %s", got)
	}

	m.OnLargeMove(-1.5, 0)
	if got := m.CheckAll(0, 1000, 0.005, 0, 500); got != StatusHalt {
		t.Fatalf("1.5%% move should pause, got %s", got)
	}

	clk.advance(299 * time.Second)
	if got := m.CheckAll(0, 1000, 0.005, 0, 500); got != StatusHalt {
		t.Fatalf("still inside cooldown, got %s", got)
	}

	clk.advance(2 * time.Second)
	if got := m.CheckAll(0, 1000, 0.005, 0, 500); got != StatusNormal {
		t.Fatalf("cooldown expired, got %s", got)
	}
}

func TestApiErrorWindow(t *testing.T) {
	m, clk := newTestManager()

	for i := 0; i < 5; i++ {
		m.OnApiError()
	}
	if got := m.CheckAll(0, 1000, 0.005, 0, 500); got != StatusNormal {
		t.Fatalf("5 errors inside window must not pause, got %s", got)
	}

	m.OnApiError() // 第 6 次
	if got := m.CheckAll(0, 1000, 0.005, 0, 500); got != StatusHalt {
		t.Fatalf("6 errors should pause, got %s", got)
	}

	clk.advance(121 * time.Second)
	if got := m.CheckAll(0, 1000, 0.005, 0, 500); got != StatusNormal {
		t.Fatalf("pause expired, got %s", got)
	}
}

func TestApiErrorWindowResets(t *testing.T) {
	m, clk := newTestManager()

	for i := 0; i < 5; i++ {
		m.OnApiError()
	}
	clk.advance(61 * time.Second) // 窗口过期，计数清零
	m.OnApiError()
	if got := m.CheckAll(0, 1000, 0.005, 0, 500); got != StatusNormal {
		t.Fatalf("stale window should reset count, got %s", got)
	}
}

func TestUpdateNormalVolEMA(t *testing.T) {
	m, _ := newTestManager()
	m.UpdateNormalVol(0.01, 0.01) // 首次直接建立基线
	assert.InDelta(t, 0.01, m.NormalVol(), 1e-12)

	m.UpdateNormalVol(0.02, 0.01)
	want := 0.01*0.99 + 0.02*0.01
	assert.InDelta(t, want, m.NormalVol(), 1e-12)
}

func TestCheckOrderCooldownFirst(t *testing.T) {
	m, _ := newTestManager()
	m.OnLargeMove(2.0, 0)

	// 冷却优先于其它一切检查，即便各项指标都健康
	got := m.CheckAll(100, 2000, 0.001, 0, 500)
	if got != StatusHalt {
		t.Fatalf("cooldown must dominate, got %s", got)
	}
	if m.State().Reason == "" {
		t.Fatal("halt should carry a reason")
	}
}
