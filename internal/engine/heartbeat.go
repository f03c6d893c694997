package engine

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"perp-maker-go/gateway"
)

// Heartbeat 独立于报价循环运行的保活 goroutine：
//   - 刷新交易所侧 dead-man's-switch（进程死亡后交易所自动撤单）；
//   - 在 systemd watchdog 启用时喂狗（报价循环卡死 = 不喂 = 被重启）。
//
// ex 可为 nil（纸面交易所不实现 Heartbeater）。
func Heartbeat(ctx context.Context, ex gateway.Heartbeater, interval time.Duration, timeoutSec int, log *zap.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	if log == nil {
		log = zap.NewNop()
	}

	watchdog, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("sd_watchdog probe failed", zap.Error(err))
	}
	if watchdog > 0 {
		daemon.SdNotify(false, daemon.SdNotifyReady)
		// watchdog 周期取一半，保证超时前至少喂两次
		if half := watchdog / 2; half < interval {
			interval = half
		}
		log.Info("systemd watchdog enabled", zap.Duration("timeout", watchdog))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if watchdog > 0 {
				daemon.SdNotify(false, daemon.SdNotifyStopping)
			}
			return
		case <-ticker.C:
			if ex != nil {
				hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if err := ex.Heartbeat(hbCtx, timeoutSec); err != nil {
					log.Warn("exchange heartbeat failed", zap.Error(err))
				}
				cancel()
			}
			if watchdog > 0 {
				daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}
}
