package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"perp-maker-go/config"
	"perp-maker-go/gateway"
	"perp-maker-go/internal/engine"
	"perp-maker-go/inventory"
	"perp-maker-go/metrics"
	"perp-maker-go/quote"
	"perp-maker-go/risk"
	"perp-maker-go/store"

	"perp-maker-go/infrastructure/logger"
)

// 做市主进程：每个配置的交易对跑一个独立循环。
// 用法：
//
//	go run ./cmd/runner -config configs/config.yaml -symbols BTC,ETH
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbols := flag.String("symbols", "", "交易对列表，逗号分隔；留空则跑配置中的全部")
	capital := flag.Float64("capital", 1000, "账户权益（USD），风控回撤基准")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zlog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Sync()

	if cfg.MetricsAddr != "" {
		go metrics.StartServer(cfg.MetricsAddr)
	}

	var journal *store.Store
	if cfg.JournalPath != "" {
		journal, err = store.Open(cfg.JournalPath)
		if err != nil {
			zlog.Fatal("open journal", zap.Error(err))
		}
	}

	selected := selectSymbols(cfg, *symbols)
	if len(selected) == 0 {
		zlog.Fatal("no symbols to run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 纸面交易所：一个实例承载全部交易对
	meta := make([]gateway.SymbolMeta, 0, len(selected))
	for _, sym := range selected {
		sc := cfg.Symbols[sym]
		meta = append(meta, gateway.SymbolMeta{Symbol: sym, TickSize: sc.TickSize, LotSize: sc.LotSize})
	}
	ex := gateway.NewPaperExchange(meta)

	var hb gateway.Heartbeater
	if h, ok := any(ex).(gateway.Heartbeater); ok {
		hb = h
	}
	go engine.Heartbeat(ctx, hb, 15*time.Second, 60, zlog)

	var wg sync.WaitGroup
	for _, sym := range selected {
		sc := cfg.Symbols[sym]

		interval := time.Duration(sc.TickIntervalMs) * time.Millisecond
		loop := engine.New(
			engine.Config{
				Symbol:         sym,
				TickInterval:   interval,
				MaxPositionUsd: sc.MaxPositionUsd,
				MakerFee:       sc.MakerFee,
				CapitalUsd:     *capital,
				VolWindow:      20,
			},
			ex,
			quote.NewEngine(sc.Quote),
			inventory.NewManager(sym, sc.MaxPositionUsd),
			risk.NewManager(cfg.Risk),
			nil, nil,
			journal,
			zlog,
		)

		if sc.LiveParamsPath != "" {
			watcher := config.ParamWatcher{Path: sc.LiveParamsPath}
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				if err := watcher.Watch(ctx, loop.UpdateQuoteParams); err != nil && ctx.Err() == nil {
					zlog.Warn("param watcher exited", zap.String("symbol", sym), zap.Error(err))
				}
			}(sym)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Run(ctx)
		}()
	}

	wg.Wait()
	zlog.Info("runner stopped")
}

func selectSymbols(cfg config.AppConfig, arg string) []string {
	if arg == "" {
		out := make([]string, 0, len(cfg.Symbols))
		for sym := range cfg.Symbols {
			out = append(out, sym)
		}
		return out
	}
	var out []string
	for _, s := range strings.Split(arg, ",") {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" {
			continue
		}
		if _, ok := cfg.Symbols[sym]; !ok {
			log.Fatalf("symbol %s not found in config", sym)
		}
		out = append(out, sym)
	}
	return out
}
