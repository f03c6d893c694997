package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"perp-maker-go/store"
)

// 从 sqlite 成交日志生成 PnL 汇总。
// 用法：
//
//	go run ./cmd/pnlreport -journal mm.db
//	go run ./cmd/pnlreport -journal mm.db -symbol BTC -since 2026-08-01T00:00:00Z
func main() {
	journalPath := flag.String("journal", "mm.db", "sqlite 日志路径")
	symbol := flag.String("symbol", "", "仅统计指定交易对（默认全量汇总）")
	sinceStr := flag.String("since", "", "仅统计此时间之后的成交（RFC3339）")
	flag.Parse()

	s, err := store.Open(*journalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法打开日志: %v\n", err)
		os.Exit(1)
	}

	if *symbol != "" {
		since := time.Time{}
		if *sinceStr != "" {
			since, err = time.Parse(time.RFC3339Nano, *sinceStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
				os.Exit(1)
			}
		}
		printFills(s, strings.ToUpper(*symbol), since)
		return
	}

	summaries, err := s.Summaries()
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询失败: %v\n", err)
		os.Exit(1)
	}
	if len(summaries) == 0 {
		fmt.Println("no fills recorded")
		return
	}

	fmt.Printf("%-10s %8s %14s %12s %14s %14s\n",
		"SYMBOL", "FILLS", "REALIZED", "FEES", "NET", "VOLUME")
	var totalNet float64
	for _, sum := range summaries {
		net := sum.RealizedPnl - sum.TotalFees
		totalNet += net
		fmt.Printf("%-10s %8d %14.4f %12.4f %14.4f %14.2f\n",
			sum.Symbol, sum.NumFills, sum.RealizedPnl, sum.TotalFees, net, sum.VolumeUsd)
	}
	fmt.Printf("%-10s %8s %14s %12s %14.4f\n", "TOTAL", "", "", "", totalNet)
}

func printFills(s *store.Store, symbol string, since time.Time) {
	fills, err := s.FillsSince(symbol, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询失败: %v\n", err)
		os.Exit(1)
	}
	if len(fills) == 0 {
		fmt.Printf("no fills for %s\n", symbol)
		return
	}

	var realized, fees, volume float64
	fmt.Printf("%-25s %-5s %12s %12s %10s %12s\n",
		"TIME", "SIDE", "PRICE", "SIZE", "FEE", "REALIZED")
	for _, f := range fills {
		realized += f.RealizedPnl
		fees += f.Fee
		volume += f.Price * f.Size
		fmt.Printf("%-25s %-5s %12.4f %12.6f %10.4f %12.4f\n",
			f.Timestamp.Format(time.RFC3339), f.Side, f.Price, f.Size, f.Fee, f.RealizedPnl)
	}
	fmt.Printf("\n%d fills, realized %.4f, fees %.4f, net %.4f, volume %.2f\n",
		len(fills), realized, fees, realized-fees, volume)
}
