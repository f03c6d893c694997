package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// FillRecord 成交流水（实盘或回放写入）。
type FillRecord struct {
	ID          uint      `gorm:"primaryKey"`
	Timestamp   time.Time `gorm:"index"`
	Symbol      string    `gorm:"index"`
	OID         string
	Side        string
	Price       float64
	Size        float64
	Fee         float64
	RealizedPnl float64
}

// BacktestRun 一次回放的汇总行。
type BacktestRun struct {
	ID             uint      `gorm:"primaryKey"`
	CreatedAt      time.Time `gorm:"index"`
	Symbol         string    `gorm:"index"`
	DurationHours  float64
	NetPnl         float64
	TotalFills     int
	MaxDrawdown    float64
	SharpeRatio    float64
	AdversePct     float64
	AvgQueuePosUsd float64
}

// Store sqlite 成交日志；实盘引擎可选挂载（nil 安全由调用方保证）。
type Store struct {
	db *gorm.DB
}

// Open 打开（必要时创建）journal 数据库并迁移表结构。
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if err := db.AutoMigrate(&FillRecord{}, &BacktestRun{}); err != nil {
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordFill 写入一笔成交。
func (s *Store) RecordFill(f *FillRecord) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	return s.db.Create(f).Error
}

// RecordBacktestRun 写入一次回放汇总。
func (s *Store) RecordBacktestRun(r *BacktestRun) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(r).Error
}

// FillsSince 返回某交易对自 since 之后的成交，按时间升序。
func (s *Store) FillsSince(symbol string, since time.Time) ([]FillRecord, error) {
	var fills []FillRecord
	err := s.db.Where("symbol = ? AND timestamp >= ?", symbol, since).
		Order("timestamp asc").Find(&fills).Error
	return fills, err
}

// PnlSummary 按交易对聚合实现盈亏与手续费。
type PnlSummary struct {
	Symbol      string
	NumFills    int64
	RealizedPnl float64
	TotalFees   float64
	VolumeUsd   float64
}

// Summaries 返回全部交易对的聚合视图。
func (s *Store) Summaries() ([]PnlSummary, error) {
	var out []PnlSummary
	err := s.db.Model(&FillRecord{}).
		Select("symbol, count(*) as num_fills, sum(realized_pnl) as realized_pnl, sum(fee) as total_fees, sum(price * size) as volume_usd").
		Group("symbol").Scan(&out).Error
	return out, err
}
