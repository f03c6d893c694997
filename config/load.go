package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"perp-maker-go/infrastructure/logger"
	"perp-maker-go/quote"
	"perp-maker-go/risk"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string                  `yaml:"env"`
	MetricsAddr string                  `yaml:"metricsAddr"`
	JournalPath string                  `yaml:"journalPath"` // empty = no sqlite journal
	Logger      logger.Config           `yaml:"logger"`
	Risk        risk.Config             `yaml:"risk"`
	Symbols     map[string]SymbolConfig `yaml:"symbols"`
}

// SymbolConfig 单交易对配置。
type SymbolConfig struct {
	Quote          quote.Params `yaml:"quote"`
	MaxPositionUsd float64      `yaml:"maxPositionUsd"`
	MakerFee       float64      `yaml:"makerFee"`
	TakerFee       float64      `yaml:"takerFee"`
	TickIntervalMs int          `yaml:"tickIntervalMs"`
	TickSize       float64      `yaml:"tickSize"`
	LotSize        float64      `yaml:"lotSize"`
	LiveParamsPath string       `yaml:"liveParamsPath"` // 热更新报价参数的文件，可选
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate 基础校验；报价参数细节由 ValidateParams 负责。
func (c AppConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.New("config: at least one symbol required")
	}
	for sym, sc := range c.Symbols {
		if sc.MaxPositionUsd <= 0 {
			return fmt.Errorf("config: %s maxPositionUsd must be positive", sym)
		}
		if err := ValidateParams(sc.Quote); err != nil {
			return fmt.Errorf("config: %s: %w", sym, err)
		}
	}
	if c.Risk.MaxDailyLossUsd < 0 {
		return errors.New("config: maxDailyLossUsd must not be negative")
	}
	return nil
}

// ValidateParams 校验一组报价参数（加载与热更新共用）。
func ValidateParams(p quote.Params) error {
	if p.BaseSpreadBps <= 0 {
		return errors.New("baseSpreadBps must be positive")
	}
	if p.MinSpreadBps <= 0 || p.MaxSpreadBps <= 0 {
		return errors.New("spread bounds must be positive")
	}
	if p.MinSpreadBps > p.MaxSpreadBps {
		return errors.New("minSpreadBps must not exceed maxSpreadBps")
	}
	if p.OrderSizeUsd <= 0 {
		return errors.New("orderSizeUsd must be positive")
	}
	if p.NumLevels <= 0 || p.NumLevels > 10 {
		return errors.New("numLevels must be in 1..10")
	}
	if p.LevelSpacingBps < 0 {
		return errors.New("levelSpacingBps must not be negative")
	}
	return nil
}
