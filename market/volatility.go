package market

// VolatilityFloor 波动率下限，避免除零与报价塌缩。
const VolatilityFloor = 0.0001

// VolatilityWindow 基于最近 N 个中间价的平均绝对收益率估计波动。
// 实盘循环与回放引擎共用同一估计器，保证两边口径一致。
type VolatilityWindow struct {
	window int
	mids   []float64
	vol    float64
}

// NewVolatilityWindow 创建估计器；window 为参与计算的中间价个数。
func NewVolatilityWindow(window int) *VolatilityWindow {
	if window < 2 {
		window = 20
	}
	return &VolatilityWindow{
		window: window,
		mids:   make([]float64, 0, window),
		vol:    0.005, // 初始估计，首批样本就绪前使用
	}
}

// Update 记录新的中间价并返回最新波动估计。
func (v *VolatilityWindow) Update(mid float64) float64 {
	if mid <= 0 {
		return v.vol
	}
	v.mids = append(v.mids, mid)
	if len(v.mids) > v.window {
		v.mids = v.mids[len(v.mids)-v.window:]
	}
	if len(v.mids) < v.window {
		return v.vol
	}

	var sum float64
	n := 0
	for i := 1; i < len(v.mids); i++ {
		prev := v.mids[i-1]
		if prev == 0 {
			continue
		}
		r := (v.mids[i] - prev) / prev
		if r < 0 {
			r = -r
		}
		sum += r
		n++
	}
	if n > 0 {
		v.vol = sum / float64(n)
		if v.vol < VolatilityFloor {
			v.vol = VolatilityFloor
		}
	}
	return v.vol
}

// Value 返回当前波动估计（价格的小数比例，如 0.005 = 0.5%）。
func (v *VolatilityWindow) Value() float64 {
	return v.vol
}
