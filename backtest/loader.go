// Package backtest replays recorded L2 snapshots and trade ticks through
// the live quoting components with a queue-position-aware fill matcher.
package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"perp-maker-go/market"
)

// Event 时间线上的一个事件：快照或成交，二选一。
type Event struct {
	Snapshot *market.OrderBookSnapshot
	Trade    *market.TradeTick
}

// Timestamp 返回事件时间戳字符串。
func (e Event) Timestamp() string {
	if e.Snapshot != nil {
		return e.Snapshot.Timestamp
	}
	return e.Trade.Timestamp
}

// Loader 读取录制的 L2/成交 CSV 并合并时间线。
//
// 数据格式（与 recorder 写出的一致）：
//
//	L2:     data/orderbook/{SYMBOL}/{date}/l2_{HH}.csv
//	        timestamp,level,bid_price,bid_size,ask_price,ask_size
//	Trades: data/orderbook/{SYMBOL}/{date}/trades_{HH}.csv
//	        timestamp,side,price,size
type Loader struct{}

// LoadDay 读取某交易对某天的全部数据，各自按时间升序。
func (l *Loader) LoadDay(symbol, date, dataDir string) ([]market.OrderBookSnapshot, []market.TradeTick, error) {
	dayDir := filepath.Join(dataDir, symbol, date)
	if _, err := os.Stat(dayDir); err != nil {
		return nil, nil, nil
	}

	var snapshots []market.OrderBookSnapshot
	var trades []market.TradeTick

	l2Files, _ := filepath.Glob(filepath.Join(dayDir, "l2_*.csv"))
	sort.Strings(l2Files)
	for _, fp := range l2Files {
		snaps, err := l.parseL2File(fp)
		if err != nil {
			return nil, nil, err
		}
		snapshots = append(snapshots, snaps...)
	}

	tradeFiles, _ := filepath.Glob(filepath.Join(dayDir, "trades_*.csv"))
	sort.Strings(tradeFiles)
	for _, fp := range tradeFiles {
		trd, err := l.parseTradeFile(fp)
		if err != nil {
			return nil, nil, err
		}
		trades = append(trades, trd...)
	}

	sort.SliceStable(snapshots, func(i, j int) bool { return snapshots[i].Timestamp < snapshots[j].Timestamp })
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp < trades[j].Timestamp })
	return snapshots, trades, nil
}

// LoadRange 读取日期区间（闭区间）并合并排序。
func (l *Loader) LoadRange(symbol, startDate, endDate, dataDir string) ([]market.OrderBookSnapshot, []market.TradeTick, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, nil, fmt.Errorf("bad start date %q: %w", startDate, err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, nil, fmt.Errorf("bad end date %q: %w", endDate, err)
	}

	var allSnapshots []market.OrderBookSnapshot
	var allTrades []market.TradeTick

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		snaps, trd, err := l.LoadDay(symbol, d.Format("2006-01-02"), dataDir)
		if err != nil {
			return nil, nil, err
		}
		allSnapshots = append(allSnapshots, snaps...)
		allTrades = append(allTrades, trd...)
	}

	sort.SliceStable(allSnapshots, func(i, j int) bool { return allSnapshots[i].Timestamp < allSnapshots[j].Timestamp })
	sort.SliceStable(allTrades, func(i, j int) bool { return allTrades[i].Timestamp < allTrades[j].Timestamp })
	return allSnapshots, allTrades, nil
}

// CreateTimeline 合并快照与成交。时间戳相等时快照排在成交之前，
// 保证同一瞬间先刷新报价再做成交检查——这是回放语义的关键约定。
func (l *Loader) CreateTimeline(snapshots []market.OrderBookSnapshot, trades []market.TradeTick) []Event {
	events := make([]Event, 0, len(snapshots)+len(trades))
	si, ti := 0, 0

	for si < len(snapshots) && ti < len(trades) {
		if snapshots[si].Timestamp <= trades[ti].Timestamp {
			events = append(events, Event{Snapshot: &snapshots[si]})
			si++
		} else {
			events = append(events, Event{Trade: &trades[ti]})
			ti++
		}
	}
	for ; si < len(snapshots); si++ {
		events = append(events, Event{Snapshot: &snapshots[si]})
	}
	for ; ti < len(trades); ti++ {
		events = append(events, Event{Trade: &trades[ti]})
	}
	return events
}

// parseL2File 按相同时间戳把行聚合成快照；坏行跳过。
func (l *Loader) parseL2File(path string) ([]market.OrderBookSnapshot, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	byTS := make(map[string][][]string)
	var order []string
	for _, row := range rows {
		ts := field(row, header, "timestamp")
		if ts == "" {
			continue
		}
		if _, seen := byTS[ts]; !seen {
			order = append(order, ts)
		}
		byTS[ts] = append(byTS[ts], row)
	}
	sort.Strings(order)

	snapshots := make([]market.OrderBookSnapshot, 0, len(order))
	for _, ts := range order {
		var bids, asks []market.L2Level
		for _, row := range byTS[ts] {
			bp := floatField(row, header, "bid_price")
			bs := floatField(row, header, "bid_size")
			ap := floatField(row, header, "ask_price")
			as := floatField(row, header, "ask_size")
			if bp > 0 && bs > 0 {
				bids = append(bids, market.L2Level{Price: bp, Size: bs})
			}
			if ap > 0 && as > 0 {
				asks = append(asks, market.L2Level{Price: ap, Size: as})
			}
		}
		sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
		sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
		snapshots = append(snapshots, market.OrderBookSnapshot{Timestamp: ts, Bids: bids, Asks: asks})
	}
	return snapshots, nil
}

// parseTradeFile 读取成交文件；side 统一小写，坏行跳过。
func (l *Loader) parseTradeFile(path string) ([]market.TradeTick, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	trades := make([]market.TradeTick, 0, len(rows))
	for _, row := range rows {
		ts := field(row, header, "timestamp")
		price := floatField(row, header, "price")
		size := floatField(row, header, "size")
		if ts == "" || price <= 0 || size <= 0 {
			continue
		}
		trades = append(trades, market.TradeTick{
			Timestamp: ts,
			Side:      strings.ToLower(field(row, header, "side")),
			Price:     price,
			Size:      size,
		})
	}
	return trades, nil
}

func readCSV(path string) ([][]string, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}

	header := make(map[string]int, len(all[0]))
	for i, name := range all[0] {
		header[strings.TrimSpace(name)] = i
	}
	return all[1:], header, nil
}

func field(row []string, header map[string]int, name string) string {
	i, ok := header[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func floatField(row []string, header map[string]int, name string) float64 {
	s := field(row, header, name)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseTimestamp 宽松解析 ISO 时间戳；失败返回零值与 false。
func parseTimestamp(ts string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
