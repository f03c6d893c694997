package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"perp-maker-go/recorder"
)

// L2/成交录制进程。
// 用法：
//
//	go run ./cmd/recorder -symbols BTC,ETH -levels 20
//	go run ./cmd/recorder -symbols BTC -duration 1h
func main() {
	symbols := flag.String("symbols", "BTC", "交易对列表，逗号分隔")
	output := flag.String("output", "data/orderbook", "输出目录")
	levels := flag.Int("levels", 20, "订单簿档位数")
	sigFigs := flag.Int("sigFigs", 5, "价格有效数字")
	wsURL := flag.String("ws", "", "WebSocket 地址，留空用默认")
	duration := flag.Duration("duration", 0, "录制时长，0 = 不限（Ctrl+C 停止）")
	statsEvery := flag.Duration("stats", time.Minute, "统计输出间隔")
	flag.Parse()

	var syms []string
	for _, s := range strings.Split(*symbols, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(s)); sym != "" {
			syms = append(syms, sym)
		}
	}
	if len(syms) == 0 {
		log.Fatal("no symbols")
	}

	zlog, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	rec := recorder.New(recorder.Config{
		WSURL:     *wsURL,
		Symbols:   syms,
		OutputDir: *output,
		Levels:    *levels,
		SigFigs:   *sigFigs,
	}, zlog)

	started := time.Now()
	go func() {
		ticker := time.NewTicker(*statsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := rec.Stats()
				zlog.Info("recording",
					zap.Duration("uptime", time.Since(started).Round(time.Second)),
					zap.Int64("snapshots", s.Snapshots),
					zap.Int64("trades", s.Trades),
					zap.Int64("messages", s.Messages),
					zap.Int64("reconnects", s.Reconnects))
			}
		}
	}()

	err = rec.Run(ctx)
	if err != nil && ctx.Err() == nil {
		zlog.Fatal("recorder failed", zap.Error(err))
	}

	s := rec.Stats()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("RECORDING SUMMARY")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("  Symbols:    %s\n", strings.Join(syms, ", "))
	fmt.Printf("  Uptime:     %s\n", time.Since(started).Round(time.Second))
	fmt.Printf("  Snapshots:  %d\n", s.Snapshots)
	fmt.Printf("  Trades:     %d\n", s.Trades)
	fmt.Printf("  Messages:   %d\n", s.Messages)
	fmt.Printf("  Reconnects: %d\n", s.Reconnects)
	fmt.Println(strings.Repeat("=", 50))
}
