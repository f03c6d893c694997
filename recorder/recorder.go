// Package recorder 订阅交易所 WebSocket 并把 L2 快照与成交落成 CSV，
// 目录与表头与回放 Loader 约定一致：
//
//	data/orderbook/{SYMBOL}/{date}/l2_{HH}.csv     timestamp,level,bid_price,bid_size,ask_price,ask_size
//	data/orderbook/{SYMBOL}/{date}/trades_{HH}.csv timestamp,side,price,size
package recorder

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	l2Header    = []string{"timestamp", "level", "bid_price", "bid_size", "ask_price", "ask_size"}
	tradeHeader = []string{"timestamp", "side", "price", "size"}
)

// Config 录制配置。
type Config struct {
	WSURL          string
	Symbols        []string
	OutputDir      string
	Levels         int
	SigFigs        int
	ReconnectDelay time.Duration
	MaxReconnects  int
}

// DefaultConfig 返回默认录制配置。
func DefaultConfig() Config {
	return Config{
		WSURL:          "wss://api.hyperliquid.xyz/ws",
		OutputDir:      "data/orderbook",
		Levels:         20,
		SigFigs:        5,
		ReconnectDelay: 5 * time.Second,
		MaxReconnects:  50,
	}
}

// Stats 录制统计。
type Stats struct {
	Snapshots  int64
	Trades     int64
	Messages   int64
	Reconnects int64
}

type fileKey struct {
	symbol  string
	kind    string // "l2" | "trades"
	hourKey string // "2006-01-02_15"
}

type csvFile struct {
	f *os.File
	w *csv.Writer
}

// Recorder 单 goroutine 录制器：连接、订阅、写盘都在 Run 内串行完成。
// 统计计数用原子量，Stats 可以从其他 goroutine 并发读取。
type Recorder struct {
	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer

	files            map[fileKey]*csvFile
	writesSinceFlush int

	snapshots  atomic.Int64
	trades     atomic.Int64
	messages   atomic.Int64
	reconnects atomic.Int64
}

// New 创建录制器。
func New(cfg Config, log *zap.Logger) *Recorder {
	def := DefaultConfig()
	if cfg.WSURL == "" {
		cfg.WSURL = def.WSURL
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.Levels <= 0 {
		cfg.Levels = def.Levels
	}
	if cfg.SigFigs <= 0 {
		cfg.SigFigs = def.SigFigs
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		cfg:    cfg,
		log:    log,
		dialer: websocket.DefaultDialer,
		files:  make(map[fileKey]*csvFile),
	}
}

// Stats 返回当前累计统计的快照。
func (r *Recorder) Stats() Stats {
	return Stats{
		Snapshots:  r.snapshots.Load(),
		Trades:     r.trades.Load(),
		Messages:   r.messages.Load(),
		Reconnects: r.reconnects.Load(),
	}
}

// Run 录制直到 ctx 取消；断线按指数退避重连，超过上限返回错误。
func (r *Recorder) Run(ctx context.Context) error {
	defer r.closeAll()

	attempt := 0
	for {
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		if attempt > r.cfg.MaxReconnects {
			return fmt.Errorf("max reconnect attempts (%d) reached: %w", r.cfg.MaxReconnects, err)
		}
		r.reconnects.Add(1)

		delay := r.cfg.ReconnectDelay
		for i := 1; i < attempt && i <= 5; i++ {
			delay *= 2
		}
		if delay > time.Minute {
			delay = time.Minute
		}
		r.log.Warn("websocket disconnected, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (r *Recorder) runOnce(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.cfg.WSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// ctx 取消时关闭连接，解除 ReadMessage 阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for _, sym := range r.cfg.Symbols {
		if err := r.subscribe(conn, sym); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	r.log.Info("recording started",
		zap.Strings("symbols", r.cfg.Symbols),
		zap.Int("levels", r.cfg.Levels),
		zap.String("outputDir", r.cfg.OutputDir))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := r.handleMessage(message); err != nil {
			r.log.Warn("bad message", zap.Error(err))
		}
	}
}

func (r *Recorder) subscribe(conn *websocket.Conn, symbol string) error {
	sub := func(payload map[string]any) error {
		return conn.WriteJSON(map[string]any{"method": "subscribe", "subscription": payload})
	}
	if err := sub(map[string]any{
		"type": "l2Book", "coin": symbol,
		"nSigFigs": r.cfg.SigFigs, "nLevels": r.cfg.Levels,
	}); err != nil {
		return err
	}
	return sub(map[string]any{"type": "trades", "coin": symbol})
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

type wsBook struct {
	Coin   string      `json:"coin"`
	Levels [][]wsLevel `json:"levels"` // [bids, asks]
}

type wsTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"` // Unix 毫秒
}

func (r *Recorder) handleMessage(raw []byte) error {
	r.messages.Add(1)

	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}

	switch env.Channel {
	case "l2Book":
		var book wsBook
		if err := json.Unmarshal(env.Data, &book); err != nil {
			return err
		}
		return r.writeSnapshot(book)
	case "trades":
		var trades []wsTrade
		if err := json.Unmarshal(env.Data, &trades); err != nil {
			return err
		}
		for _, t := range trades {
			if err := r.writeTrade(t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Recorder) writeSnapshot(book wsBook) error {
	if book.Coin == "" {
		return nil
	}
	w, err := r.writer(book.Coin, "l2")
	if err != nil {
		return err
	}

	ts := time.Now().UTC().Format(tsLayout)
	var bids, asks []wsLevel
	if len(book.Levels) > 0 {
		bids = book.Levels[0]
	}
	if len(book.Levels) > 1 {
		asks = book.Levels[1]
	}

	n := len(bids)
	if len(asks) > n {
		n = len(asks)
	}
	for i := 0; i < n; i++ {
		var bp, bs, ap, as string
		if i < len(bids) {
			bp, bs = bids[i].Px, bids[i].Sz
		}
		if i < len(asks) {
			ap, as = asks[i].Px, asks[i].Sz
		}
		if err := w.Write([]string{ts, strconv.Itoa(i), bp, bs, ap, as}); err != nil {
			return err
		}
	}
	r.snapshots.Add(1)
	r.maybeFlush()
	return nil
}

func (r *Recorder) writeTrade(t wsTrade) error {
	if t.Coin == "" {
		return nil
	}
	w, err := r.writer(t.Coin, "trades")
	if err != nil {
		return err
	}

	ts := time.Now().UTC().Format(tsLayout)
	if t.Time > 0 {
		ts = time.UnixMilli(t.Time).UTC().Format(tsLayout)
	}
	side := normalizeSide(t.Side)
	if err := w.Write([]string{ts, side, t.Px, t.Sz}); err != nil {
		return err
	}
	r.trades.Add(1)
	r.maybeFlush()
	return nil
}

// Hyperliquid 用 A/B 表示卖/买
func normalizeSide(s string) string {
	switch s {
	case "A", "a", "sell", "SELL":
		return "sell"
	case "B", "b", "buy", "BUY":
		return "buy"
	}
	return s
}

// writer 返回按小时轮转的 CSV writer；跨小时时关闭旧文件。
func (r *Recorder) writer(symbol, kind string) (*csv.Writer, error) {
	now := time.Now().UTC()
	date := now.Format("2006-01-02")
	hour := now.Format("15")
	key := fileKey{symbol: symbol, kind: kind, hourKey: date + "_" + hour}

	if cf, ok := r.files[key]; ok {
		return cf.w, nil
	}
	for old := range r.files {
		if old.symbol == symbol && old.kind == kind && old.hourKey != key.hourKey {
			r.closeFile(old)
		}
	}

	dir := filepath.Join(r.cfg.OutputDir, symbol, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", kind, hour))

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if writeHeader {
		header := tradeHeader
		if kind == "l2" {
			header = l2Header
		}
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, err
		}
	}

	r.files[key] = &csvFile{f: f, w: w}
	r.log.Debug("opened csv", zap.String("path", path))
	return w, nil
}

// maybeFlush 每 100 次写入刷一次盘。
func (r *Recorder) maybeFlush() {
	r.writesSinceFlush++
	if r.writesSinceFlush < 100 {
		return
	}
	for _, cf := range r.files {
		cf.w.Flush()
	}
	r.writesSinceFlush = 0
}

func (r *Recorder) closeFile(key fileKey) {
	cf, ok := r.files[key]
	if !ok {
		return
	}
	cf.w.Flush()
	cf.f.Close()
	delete(r.files, key)
}

func (r *Recorder) closeAll() {
	for key := range r.files {
		r.closeFile(key)
	}
}
