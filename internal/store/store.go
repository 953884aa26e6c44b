// Package store persists backtest runs and their trades in SQLite through gorm.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pairsbot-go/internal/backtest"
)

// RunRow is one backtest unit's metrics.
type RunRow struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	Crypto1            string    `gorm:"size:32;index:idx_pair" json:"crypto1"`
	Crypto2            string    `gorm:"size:32;index:idx_pair" json:"crypto2"`
	Category           string    `gorm:"size:64" json:"category"`
	Mode               string    `gorm:"size:32" json:"mode"`
	EntryZ             float64   `json:"entry_z"`
	ExitZ              float64   `json:"exit_z"`
	StopZ              float64   `json:"stop_z"`
	LockoutOnStop      bool      `json:"lockout_on_stop"`
	Fee                float64   `json:"fee"`
	Slippage           float64   `json:"slippage"`
	WindowStart        time.Time `json:"window_start"`
	WindowEnd          time.Time `json:"window_end"`
	TotalReturn        float64   `json:"total_return"`
	AnnualizedReturn   float64   `json:"annualized_return"`
	AnnualizedVol      float64   `json:"annualized_volatility"`
	Sharpe             float64   `gorm:"index" json:"sharpe"`
	MaxDrawdown        float64   `json:"max_drawdown"`
	WinRate            float64   `json:"win_rate"`
	AverageTradeReturn float64   `json:"average_trade_return"`
	NumTrades          int       `json:"num_trades"`
	Valid              bool      `json:"valid"`
	OpenAtEnd          bool      `json:"open_at_end"`
	CreatedAt          time.Time `json:"created_at"`

	Trades []TradeRow `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"trades,omitempty"`
}

// TradeRow is one realized trade of a run.
type TradeRow struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"size:36;index" json:"run_id"`
	Direction string    `gorm:"size:8" json:"direction"`
	EntryTs   time.Time `json:"entry_ts"`
	ExitTs    time.Time `json:"exit_ts"`
	EntryA    float64   `json:"entry_a"`
	EntryB    float64   `json:"entry_b"`
	ExitA     float64   `json:"exit_a"`
	ExitB     float64   `json:"exit_b"`
	Return    float64   `json:"return"`
	StopLoss  bool      `json:"stop_loss"`
	Forced    bool      `json:"forced"`
}

// Store wraps a gorm handle.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite file at dsn (":memory:" works) and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.AutoMigrate(&RunRow{}, &TradeRow{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FromResult flattens a result into rows.
func FromResult(r *backtest.Result) RunRow {
	u, m := r.Unit, r.Metrics
	row := RunRow{
		ID:                 r.RunID.String(),
		Crypto1:            u.Pair.Crypto1,
		Crypto2:            u.Pair.Crypto2,
		Category:           u.Pair.Category,
		Mode:               u.Mode,
		EntryZ:             u.Thresholds.Entry,
		ExitZ:              u.Thresholds.Exit,
		StopZ:              u.Thresholds.Stop,
		LockoutOnStop:      u.Thresholds.LockoutOnStop,
		Fee:                u.Costs.Fee,
		Slippage:           u.Costs.Slippage,
		WindowStart:        u.Start,
		WindowEnd:          u.End,
		TotalReturn:        m.TotalReturn,
		AnnualizedReturn:   m.AnnualizedReturn,
		AnnualizedVol:      m.AnnualizedVol,
		Sharpe:             m.Sharpe,
		MaxDrawdown:        m.MaxDrawdown,
		WinRate:            m.WinRate,
		AverageTradeReturn: m.AverageTradeReturn,
		NumTrades:          m.NumTrades,
		Valid:              m.Valid,
		OpenAtEnd:          r.OpenAtEnd(),
	}
	for _, rec := range r.Replay.Records {
		row.Trades = append(row.Trades, TradeRow{
			RunID:     row.ID,
			Direction: rec.Direction.String(),
			EntryTs:   rec.EntryTs,
			ExitTs:    rec.ExitTs,
			EntryA:    rec.EntryA,
			EntryB:    rec.EntryB,
			ExitA:     rec.ExitA,
			ExitB:     rec.ExitB,
			Return:    rec.Return,
			StopLoss:  rec.StopLoss,
			Forced:    rec.Forced,
		})
	}
	return row
}

// SaveRun writes the run and its trades in one transaction.
func (s *Store) SaveRun(ctx context.Context, r *backtest.Result) error {
	row := FromResult(r)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("save run %s: %w", row.ID, err)
		}
		return nil
	})
}

// Runs lists the runs of one pair, newest first.
func (s *Store) Runs(ctx context.Context, crypto1, crypto2 string) ([]RunRow, error) {
	var rows []RunRow
	err := s.db.WithContext(ctx).
		Where("crypto1 = ? AND crypto2 = ?", crypto1, crypto2).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// Trades loads the trades of a run in entry order.
func (s *Store) Trades(ctx context.Context, runID string) ([]TradeRow, error) {
	var rows []TradeRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("entry_ts").Find(&rows).Error
	return rows, err
}

// Best returns the valid runs with the highest Sharpe ratio.
func (s *Store) Best(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []RunRow
	err := s.db.WithContext(ctx).
		Where("valid = ?", true).
		Order("sharpe DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
