package market

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeCandles(closes []float64) []Candle {
	candles := make([]Candle, len(closes))
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candles[i] = Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
			Volume: 10,
		}
	}
	return candles
}

func TestComputeATRDeterministic(t *testing.T) {
	candles := makeCandles([]float64{100, 102, 101, 105, 103, 104, 106})
	a := ComputeATR(candles, 3)
	b := ComputeATR(candles, 3)
	if len(a) != len(candles) {
		t.Fatalf("ATR must be input-length, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("ATR must be deterministic at %d: %f != %f", i, a[i], b[i])
		}
	}
	// 前 period 根没有值
	for i := 0; i < 3; i++ {
		if a[i] != 0 {
			t.Fatalf("warmup bars should be 0, got %f at %d", a[i], i)
		}
	}
	if a[3] <= 0 {
		t.Fatalf("seeded ATR should be positive, got %f", a[3])
	}
}

func TestComputeATRWilderSeed(t *testing.T) {
	// 恒定区间：TR 恒为 2（High-Low），ATR 处处为 2
	candles := makeCandles([]float64{100, 100, 100, 100, 100})
	a := ComputeATR(candles, 2)
	for i := 2; i < len(a); i++ {
		if math.Abs(a[i]-2.0) > 1e-12 {
			t.Fatalf("constant range should give ATR 2, got %f at %d", a[i], i)
		}
	}
}

func TestComputeATRShortInput(t *testing.T) {
	if got := ComputeATR(makeCandles([]float64{100}), 3); len(got) != 1 || got[0] != 0 {
		t.Fatalf("short input should be all zeros: %v", got)
	}
	if got := ComputeATR(nil, 3); len(got) != 0 {
		t.Fatalf("nil input should be empty: %v", got)
	}
}

func TestLoadCandlesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.csv")
	data := `timestamp,open,high,low,close,volume
1754006400000,100,101,99,100.5,12.5
not-a-ts,100,101,99,100.5,12.5
1754010000000,100.5,102,100,101.5,8.0
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	candles, err := LoadCandlesCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 {
		t.Fatalf("bad rows should be skipped, got %d candles", len(candles))
	}
	if candles[0].Close != 100.5 || candles[1].High != 102 {
		t.Fatalf("unexpected parse: %+v", candles)
	}
	if candles[0].Timestamp.UTC().Year() != 2025 {
		t.Fatalf("timestamp should parse from unix millis, got %v", candles[0].Timestamp)
	}
}
