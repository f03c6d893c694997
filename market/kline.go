package market

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Candle OHLCV K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// ComputeATR 计算 Wilder ATR 序列，与输入等长；前 period 根为 0。
// 纯函数：相同输入必然得到相同输出。
func ComputeATR(candles []Candle, period int) []float64 {
	atrs := make([]float64, len(candles))
	if period <= 0 || len(candles) < 2 {
		return atrs
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		tr := candles[i].High - candles[i].Low
		if d := abs(candles[i].High - candles[i-1].Close); d > tr {
			tr = d
		}
		if d := abs(candles[i].Low - candles[i-1].Close); d > tr {
			tr = d
		}
		trs = append(trs, tr)
	}

	if len(trs) < period {
		return atrs
	}

	// 首个 ATR 用简单均值，其后用 Wilder 平滑
	var atr float64
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	atrs[period] = atr

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trs[i-1]) / float64(period)
		atrs[i] = atr
	}
	return atrs
}

// LoadCandlesCSV 读取缓存格式的K线 CSV（timestamp 为 Unix 毫秒）。
// 坏行跳过不报错，与回放端的数据容错策略一致。
func LoadCandlesCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read candles csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[name] = i
	}

	candles := make([]Candle, 0, len(rows)-1)
	for _, row := range rows[1:] {
		c, ok := parseCandleRow(row, col)
		if !ok {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseCandleRow(row []string, col map[string]int) (Candle, bool) {
	get := func(name string) (float64, bool) {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return 0, false
		}
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	tsIdx, ok := col["timestamp"]
	if !ok {
		tsIdx, ok = col["open_time"]
	}
	if !ok || tsIdx >= len(row) {
		return Candle{}, false
	}
	tsMs, err := strconv.ParseInt(row[tsIdx], 10, 64)
	if err != nil {
		return Candle{}, false
	}

	o, ok1 := get("open")
	h, ok2 := get("high")
	l, ok3 := get("low")
	c, ok4 := get("close")
	v, _ := get("volume")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Candle{}, false
	}
	return Candle{
		Timestamp: time.UnixMilli(tsMs).UTC(),
		Open:      o, High: h, Low: l, Close: c, Volume: v,
	}, true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
