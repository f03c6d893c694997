package market

// ImbalanceTracker 用 EMA 平滑盘口前 N 档的买卖深度失衡。
// 正值 = 买压，负值 = 卖压。
type ImbalanceTracker struct {
	alpha       float64
	smoothed    float64
	initialized bool
}

// NewImbalanceTracker 创建跟踪器；alpha 越大越敏感。
func NewImbalanceTracker(alpha float64) *ImbalanceTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &ImbalanceTracker{alpha: alpha}
}

// Update 根据前 depth 档计算原始失衡并做 EMA 平滑，返回平滑值。
func (t *ImbalanceTracker) Update(bids, asks []L2Level, depth int) float64 {
	if depth <= 0 {
		depth = 5
	}
	var bidVol, askVol float64
	for i := 0; i < depth && i < len(bids); i++ {
		bidVol += bids[i].Size
	}
	for i := 0; i < depth && i < len(asks); i++ {
		askVol += asks[i].Size
	}

	raw := 0.0
	if total := bidVol + askVol; total > 0 {
		raw = (bidVol - askVol) / total
	}

	if !t.initialized {
		t.smoothed = raw
		t.initialized = true
	} else {
		t.smoothed = t.alpha*raw + (1-t.alpha)*t.smoothed
	}
	return t.smoothed
}

// Imbalance 返回当前平滑失衡值。
func (t *ImbalanceTracker) Imbalance() float64 {
	return t.smoothed
}

// Reset 清空状态。
func (t *ImbalanceTracker) Reset() {
	t.smoothed = 0
	t.initialized = false
}
