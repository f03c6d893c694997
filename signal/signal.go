// Package signal defines the optional pluggable inputs the quote loop can
// consume. Each has a no-op default so the engine never branches on nil.
package signal

// BiasProvider supplies a directional hint in [-1, 1] (positive = bullish).
// The loop treats the value as opaque; how it is produced (Kalman, QQE,
// anything else) stays outside the core.
type BiasProvider interface {
	Bias() float64
	// OnBar feeds one price observation per aggregation boundary.
	OnBar(price float64)
}

// ToxicityAdjuster scales per-side spread after toxic flow is detected.
// Multipliers are >= 1; 1 means leave the quote alone.
type ToxicityAdjuster interface {
	SideMultipliers() (buyMult, sellMult float64)
	OnFill(side string, fillPrice, midPrice, size float64)
	OnBar(price float64)
}

// FillPredictor estimates the probability a quote at the given distance
// from mid fills within the horizon. Consumers may widen or drop quotes
// with low expected fill probability.
type FillPredictor interface {
	FillProbability(distanceBps, volatility float64) float64
}

// NopBias is the default BiasProvider: no directional opinion.
type NopBias struct{}

func (NopBias) Bias() float64   { return 0 }
func (NopBias) OnBar(_ float64) {}

// NopToxicity is the default ToxicityAdjuster: never widens.
type NopToxicity struct{}

func (NopToxicity) SideMultipliers() (float64, float64) { return 1, 1 }
func (NopToxicity) OnFill(_ string, _, _, _ float64)    {}
func (NopToxicity) OnBar(_ float64)                     {}

// NopFillPredictor is the default FillPredictor: assume everything fills.
type NopFillPredictor struct{}

func (NopFillPredictor) FillProbability(_, _ float64) float64 { return 1 }
