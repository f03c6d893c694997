package backtest

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Result 一次回放的汇总指标。
type Result struct {
	Symbol            string
	DurationHours     float64
	TotalSnapshots    int
	TotalMarketTrades int

	GrossPnl  float64
	TotalFees float64
	NetPnl    float64

	TotalFills   int
	BuyFills     int
	SellFills    int
	FillsPerHour float64

	AvgQueuePosition float64
	AvgFillTimeMs    float64

	MaxInventoryUsd float64
	AvgInventoryUsd float64

	MaxDrawdown float64
	SharpeRatio float64

	AvgSpreadQuotedBps   float64
	AvgSpreadCapturedBps float64
	AvgMarketSpreadBps   float64

	AdverseFills int
	AdversePct   float64

	DailyPnls []float64
}

// String 输出对齐的结果报告。
func (r Result) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 70)

	fmt.Fprintf(&b, "\n%s\n  ORDER BOOK REPLAY BACKTEST — %s\n%s\n", line, r.Symbol, line)
	fmt.Fprintf(&b, "\n  Duration: %.1f hours\n", r.DurationHours)
	fmt.Fprintf(&b, "  Snapshots: %d  |  Market trades: %d\n\n", r.TotalSnapshots, r.TotalMarketTrades)

	row := func(name string, val string) {
		fmt.Fprintf(&b, "  %-30s %15s\n", name, val)
	}
	usd := func(v float64) string { return fmt.Sprintf("$%.2f", v) }

	row("Realized PnL", usd(r.GrossPnl))
	row("Fees (rebates)", usd(r.TotalFees))
	row("NET PnL", usd(r.NetPnl))
	b.WriteByte('\n')
	row("Total fills", fmt.Sprintf("%d", r.TotalFills))
	row("  Buy fills", fmt.Sprintf("%d", r.BuyFills))
	row("  Sell fills", fmt.Sprintf("%d", r.SellFills))
	row("Fills/hour", fmt.Sprintf("%.1f", r.FillsPerHour))
	b.WriteByte('\n')
	row("Max inventory ($)", fmt.Sprintf("$%.0f", r.MaxInventoryUsd))
	row("Avg inventory ($)", fmt.Sprintf("$%.0f", r.AvgInventoryUsd))
	b.WriteByte('\n')
	row("Max drawdown", usd(r.MaxDrawdown))
	row("Sharpe ratio (ann.)", fmt.Sprintf("%.2f", r.SharpeRatio))
	b.WriteByte('\n')
	row("Avg spread quoted (bps)", fmt.Sprintf("%.2f", r.AvgSpreadQuotedBps))
	row("Avg spread captured (bps)", fmt.Sprintf("%.2f", r.AvgSpreadCapturedBps))
	row("Avg market spread (bps)", fmt.Sprintf("%.2f", r.AvgMarketSpreadBps))
	b.WriteByte('\n')
	row("Avg queue position ($)", fmt.Sprintf("$%.0f", r.AvgQueuePosition))
	row("Avg fill time (ms)", fmt.Sprintf("%.0f", r.AvgFillTimeMs))
	b.WriteByte('\n')
	row("Adverse fills", fmt.Sprintf("%d", r.AdverseFills))
	row("Adverse %", fmt.Sprintf("%.1f%%", r.AdversePct))

	if r.DurationHours > 0 {
		hourly := r.NetPnl / r.DurationHours
		b.WriteByte('\n')
		row("Avg hourly PnL", usd(hourly))
		row("Daily (projected)", usd(hourly*24))
		row("Monthly (projected)", fmt.Sprintf("$%.0f", hourly*24*30))
	}

	if len(r.DailyPnls) > 0 {
		pos, neg := 0, 0
		for _, d := range r.DailyPnls {
			if d > 0 {
				pos++
			} else if d < 0 {
				neg++
			}
		}
		b.WriteByte('\n')
		row("Profitable days", fmt.Sprintf("%d / %d", pos, len(r.DailyPnls)))
		row("Loss days", fmt.Sprintf("%d / %d", neg, len(r.DailyPnls)))
		sorted := append([]float64(nil), r.DailyPnls...)
		sort.Float64s(sorted)
		row("Best day", usd(sorted[len(sorted)-1]))
		row("Worst day", usd(sorted[0]))
	}

	b.WriteByte('\n')
	b.WriteString(line)
	b.WriteByte('\n')
	return b.String()
}

// annualizedSharpe 按日度 PnL 计算年化 Sharpe；样本不足返回 0。
func annualizedSharpe(dailyPnls []float64) float64 {
	if len(dailyPnls) < 2 {
		return 0
	}
	var mean float64
	for _, d := range dailyPnls {
		mean += d
	}
	mean /= float64(len(dailyPnls))

	var variance float64
	for _, d := range dailyPnls {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(dailyPnls) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(365)
}
