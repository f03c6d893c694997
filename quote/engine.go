package quote

// Quote 单边单档报价，每个周期重新生成。
type Quote struct {
	Side  string // "buy" or "sell"
	Price float64
	Size  float64
	Level int
}

// Params 报价参数（可被热更新覆盖）。
type Params struct {
	BaseSpreadBps       float64 `yaml:"baseSpreadBps"`
	VolMultiplier       float64 `yaml:"volMultiplier"`
	InventorySkewFactor float64 `yaml:"inventorySkewFactor"`
	MinSpreadBps        float64 `yaml:"minSpreadBps"`
	MaxSpreadBps        float64 `yaml:"maxSpreadBps"`
	OrderSizeUsd        float64 `yaml:"orderSizeUsd"`
	NumLevels           int     `yaml:"numLevels"`
	LevelSpacingBps     float64 `yaml:"levelSpacingBps"`
}

// DefaultParams 返回保守默认参数。
func DefaultParams() Params {
	return Params{
		BaseSpreadBps:       2.0,
		VolMultiplier:       1.5,
		InventorySkewFactor: 0.3,
		MinSpreadBps:        1.0,
		MaxSpreadBps:        20.0,
		OrderSizeUsd:        150.0,
		NumLevels:           1,
		LevelSpacingBps:     2.0,
	}
}

// Input 一次报价计算的全部行情输入。
type Input struct {
	MidPrice       float64 // 必须 > 0，由调用方保证
	Volatility     float64 // ATR 占价格比例，如 0.005 = 0.5%
	InventoryUsd   float64 // 当前库存（USD，+多/-空）
	MaxPositionUsd float64
	BookImbalance  float64 // -1..1，正 = 买压（可选）
	Bias           float64 // -1..1 方向性倾斜（可选）
	MakerFee       float64 // maker 费率小数，用于盈利下限（可选）
	SkipBuy        bool
	SkipSell       bool
}

// Engine 把行情状态映射为双边多档报价。无内部状态、无副作用。
type Engine struct {
	params Params
}

// NewEngine 创建报价引擎。
func NewEngine(p Params) *Engine {
	if p.NumLevels <= 0 {
		p.NumLevels = 1
	}
	return &Engine{params: p}
}

// Params 返回当前参数。
func (e *Engine) Params() Params { return e.params }

// SetParams 替换参数（供热更新使用；调用方负责串行化）。
func (e *Engine) SetParams(p Params) {
	if p.NumLevels <= 0 {
		p.NumLevels = 1
	}
	e.params = p
}

// Calculate 生成报价列表（每档先 bid 后 ask）。
func (e *Engine) Calculate(in Input) []Quote {
	// 方向性偏置平移有效中间价
	effectiveMid := in.MidPrice * (1 + in.Bias*in.Volatility*0.5)

	spreadBps := e.calcSpread(in.Volatility, in.InventoryUsd, in.MaxPositionUsd)
	skewBps := e.calcSkew(in.InventoryUsd, in.MaxPositionUsd, in.Volatility)

	// 盈利下限：半边价差必须覆盖 maker 费
	feeBps := abs(in.MakerFee) * 10000.0
	if feeBps > 0 {
		if floor := feeBps * 2.0; spreadBps < floor {
			spreadBps = floor
		}
	}

	// 盘口失衡对双边同向平移
	imbalanceBps := in.BookImbalance * 0.3 * spreadBps

	spread := spreadBps / 10000.0
	skew := skewBps / 10000.0
	imb := imbalanceBps / 10000.0

	quotes := make([]Quote, 0, e.params.NumLevels*2)
	for level := 0; level < e.params.NumLevels; level++ {
		offset := float64(level) * e.params.LevelSpacingBps / 10000.0

		bidPrice := effectiveMid * (1 - spread/2 - skew - offset + imb)
		askPrice := effectiveMid * (1 + spread/2 - skew + offset + imb)

		size := e.params.OrderSizeUsd * e.levelWeight(level) / in.MidPrice

		if !in.SkipBuy {
			quotes = append(quotes, Quote{Side: "buy", Price: bidPrice, Size: size, Level: level})
		}
		if !in.SkipSell {
			quotes = append(quotes, Quote{Side: "sell", Price: askPrice, Size: size, Level: level})
		}
	}
	return quotes
}

// baseWeights 前四档的固定权重；更深的档位沿用尾值。
var baseWeights = []float64{0.50, 0.30, 0.15, 0.05}

// levelWeight 返回归一化后的档位资金权重。
func (e *Engine) levelWeight(level int) float64 {
	n := e.params.NumLevels
	var total float64
	for i := 0; i < n; i++ {
		total += rawWeight(i)
	}
	if total <= 0 {
		return 1.0 / float64(n)
	}
	return rawWeight(level) / total
}

func rawWeight(i int) float64 {
	if i < len(baseWeights) {
		return baseWeights[i]
	}
	return baseWeights[len(baseWeights)-1]
}

func (e *Engine) calcSpread(vol, inventoryUsd, maxPositionUsd float64) float64 {
	volComponent := vol * 10000 * e.params.VolMultiplier

	denom := maxPositionUsd
	if denom < 1.0 {
		denom = 1.0
	}
	invPenalty := abs(inventoryUsd) / denom * 2.0 // 满仓最多加 2 bps

	spread := e.params.BaseSpreadBps + volComponent + invPenalty
	if spread < e.params.MinSpreadBps {
		spread = e.params.MinSpreadBps
	}
	if spread > e.params.MaxSpreadBps {
		spread = e.params.MaxSpreadBps
	}
	return spread
}

func (e *Engine) calcSkew(inventoryUsd, maxPositionUsd, vol float64) float64 {
	if maxPositionUsd == 0 {
		return 0
	}
	invRatio := inventoryUsd / maxPositionUsd // -1 .. +1
	return invRatio * e.params.InventorySkewFactor * vol * 10000
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
