// Package metrics exposes Prometheus instrumentation for the market maker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersPlaced 累计挂单数。
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_orders_placed_total",
		Help: "Total limit orders placed",
	}, []string{"symbol", "side"})

	// OrdersCancelled 累计撤单数。
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_orders_cancelled_total",
		Help: "Total orders cancelled",
	}, []string{"symbol"})

	// CancelFailures 撤单失败（本地已放弃跟踪，可能产生孤儿挂单）。
	CancelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_cancel_failures_total",
		Help: "Cancel requests that failed but were dropped from local tracking",
	}, []string{"symbol"})

	// FillsDetected 检测到的成交（含部分成交增量）。
	FillsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_fills_total",
		Help: "Fills detected, including partial fill deltas",
	}, []string{"symbol", "side"})

	// APIErrors 交易所调用错误。
	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_api_errors_total",
		Help: "Exchange API errors",
	}, []string{"symbol"})

	// InventoryUsd 当前库存（USD，带符号）。
	InventoryUsd = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mm_inventory_usd",
		Help: "Signed inventory in USD",
	}, []string{"symbol"})

	// NetPnl 实现盈亏减手续费。
	NetPnl = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mm_net_pnl_usd",
		Help: "Realized PnL minus fees",
	}, []string{"symbol"})

	// RiskStatus 0=normal 1=warning 2=critical 3=halt。
	RiskStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mm_risk_status",
		Help: "Risk state machine status (0 normal, 1 warning, 2 critical, 3 halt)",
	}, []string{"symbol"})

	// QuotedSpreadBps 最近一次报价的名义价差。
	QuotedSpreadBps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mm_quoted_spread_bps",
		Help: "Spread between best quoted bid and ask in bps",
	}, []string{"symbol"})
)

// StartServer 启动 /metrics 服务器（非阻塞）。
func StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
