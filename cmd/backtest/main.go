package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"go.uber.org/zap"

	"perp-maker-go/backtest"
	"perp-maker-go/config"
	"perp-maker-go/market"
	"perp-maker-go/store"
)

// 订单簿回放回测。
// 用法：
//
//	go run ./cmd/backtest -symbol BTC -start 2026-08-01 -end 2026-08-07 -data data/orderbook
//	go run ./cmd/backtest -symbol BTC -date 2026-08-01 -config configs/config.yaml -journal mm.db
func main() {
	symbol := flag.String("symbol", "BTC", "交易对")
	date := flag.String("date", "", "单日回放（YYYY-MM-DD）")
	start := flag.String("start", "", "起始日期（闭区间）")
	end := flag.String("end", "", "结束日期（闭区间）")
	dataDir := flag.String("data", "data/orderbook", "录制数据目录")
	cfgPath := flag.String("config", "", "可选：从配置读取报价参数与费率")
	journalPath := flag.String("journal", "", "可选：把汇总写入 sqlite")
	noQueue := flag.Bool("noQueue", false, "关闭队列位置模型，退化为纯价格穿越")
	verbose := flag.Bool("v", false, "调试日志")
	flag.Parse()

	sym := strings.ToUpper(*symbol)
	btCfg := backtest.DefaultConfig()
	btCfg.UseQueuePosition = !*noQueue

	if *cfgPath != "" {
		appCfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
		sc, ok := appCfg.Symbols[sym]
		if !ok {
			log.Fatalf("symbol %s not found in config", sym)
		}
		btCfg.QuoteParams = sc.Quote
		btCfg.MakerFee = sc.MakerFee
		btCfg.TakerFee = sc.TakerFee
		btCfg.MaxPositionUsd = sc.MaxPositionUsd
		btCfg.MaxDailyLoss = appCfg.Risk.MaxDailyLossUsd
	}

	zlog := zap.NewNop()
	if *verbose {
		var err error
		zlog, err = zap.NewDevelopment()
		if err != nil {
			log.Fatalf("初始化日志失败: %v", err)
		}
	}

	var loader backtest.Loader
	snapshots, trades := loadData(&loader, sym, *date, *start, *end, *dataDir)
	if len(snapshots) == 0 {
		log.Fatalf("没有可回放的数据: %s %s", sym, *dataDir)
	}
	fmt.Printf("Loaded %d snapshots, %d trades\n", len(snapshots), len(trades))

	engine := backtest.NewEngine(btCfg, zlog)
	result := engine.Run(snapshots, trades, sym)
	fmt.Println(result.String())

	if *journalPath != "" {
		js, err := store.Open(*journalPath)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		run := &store.BacktestRun{
			Symbol:         result.Symbol,
			DurationHours:  result.DurationHours,
			NetPnl:         result.NetPnl,
			TotalFills:     result.TotalFills,
			MaxDrawdown:    result.MaxDrawdown,
			SharpeRatio:    result.SharpeRatio,
			AdversePct:     result.AdversePct,
			AvgQueuePosUsd: result.AvgQueuePosition,
		}
		if err := js.RecordBacktestRun(run); err != nil {
			log.Fatalf("record backtest run: %v", err)
		}
		fmt.Printf("Recorded run #%d to %s\n", run.ID, *journalPath)
	}
}

func loadData(loader *backtest.Loader, sym, date, start, end, dataDir string) ([]market.OrderBookSnapshot, []market.TradeTick) {
	switch {
	case date != "":
		snaps, trades, err := loader.LoadDay(sym, date, dataDir)
		if err != nil {
			log.Fatalf("load day: %v", err)
		}
		return snaps, trades
	case start != "" && end != "":
		snaps, trades, err := loader.LoadRange(sym, start, end, dataDir)
		if err != nil {
			log.Fatalf("load range: %v", err)
		}
		return snaps, trades
	default:
		log.Fatal("specify -date or -start/-end")
		return nil, nil
	}
}
