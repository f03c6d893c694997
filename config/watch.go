package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"perp-maker-go/quote"
)

// ParamWatcher 监听 live-params 文件并在变更时回调新的报价参数。
// 供每日重优化器在线下写入、实盘进程在线上热加载。
type ParamWatcher struct {
	Path     string
	Cooldown time.Duration // 两次应用之间的最小间隔，默认 5s
}

// Watch 阻塞运行直到 ctx 取消。文件写入事件触发重新加载；
// 解析或校验失败只记为坏更新，不影响当前参数。
func (w ParamWatcher) Watch(ctx context.Context, onUpdate func(quote.Params)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 5 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.Path); err != nil {
		return fmt.Errorf("watch %s: %w", w.Path, err)
	}

	// 冷却期内到达的写入不丢弃：记一次待处理，冷却结束后统一重载，
	// 保证一串连续写入的最后一版一定被应用。
	var lastApplied time.Time
	pending := false
	timer := time.NewTimer(w.Cooldown)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	apply := func() {
		p, err := LoadParams(w.Path)
		if err != nil {
			return
		}
		lastApplied = time.Now()
		if onUpdate != nil {
			onUpdate(p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if wait := w.Cooldown - time.Since(lastApplied); wait > 0 {
				if !pending {
					pending = true
					timer.Reset(wait)
				}
				continue
			}
			apply()
		case <-timer.C:
			if pending {
				pending = false
				apply()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// LoadParams 读取并校验一个独立的报价参数文件（YAML）。
func LoadParams(path string) (quote.Params, error) {
	var p quote.Params
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read params: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse params: %w", err)
	}
	if err := ValidateParams(p); err != nil {
		return p, err
	}
	return p, nil
}
