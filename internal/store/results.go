package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"velora/internal/core"
	"velora/internal/ledger"
	"velora/internal/perf"
)

type runRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	Strategy       string `gorm:"size:64"`
	Symbol         string `gorm:"size:32;index"`
	Interval       string `gorm:"size:8"`
	StartTime      int64
	EndTime        int64
	InitialCapital float64
	FinalEquity    float64
	TotalReturnPct float64
	SharpeRatio    float64
	MaxDrawdownPct float64
	TotalTrades    int
	CreatedAt      time.Time
}

func (runRow) TableName() string { return "runs" }

type tradeRow struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"size:64;index"`
	Symbol     string `gorm:"size:32"`
	Side       string `gorm:"size:8"`
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Commission float64
	EntryTime  int64
	ExitTime   int64
}

func (tradeRow) TableName() string { return "trades" }

type equityRow struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"size:64;index"`
	Timestamp int64
	Equity    float64
	Cash      float64
}

func (equityRow) TableName() string { return "equity_points" }

// RunRecord summarizes one completed backtest.
type RunRecord struct {
	ID        string
	Strategy  string
	Symbol    string
	Interval  string
	StartTime time.Time
	EndTime   time.Time
	Metrics   perf.Metrics
}

// SaveRun persists a run summary with its trades and equity curve in one
// transaction.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord, trades []ledger.Trade, curve []ledger.EquityPoint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := runRow{
			ID:             rec.ID,
			Strategy:       rec.Strategy,
			Symbol:         rec.Symbol,
			Interval:       rec.Interval,
			StartTime:      rec.StartTime.UnixMilli(),
			EndTime:        rec.EndTime.UnixMilli(),
			InitialCapital: rec.Metrics.InitialCapital,
			FinalEquity:    rec.Metrics.FinalEquity,
			TotalReturnPct: rec.Metrics.TotalReturnPct,
			SharpeRatio:    rec.Metrics.SharpeRatio,
			MaxDrawdownPct: rec.Metrics.MaxDrawdownPct,
			TotalTrades:    rec.Metrics.TotalTrades,
			CreatedAt:      time.Now().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, t := range trades {
			tr := tradeRow{
				RunID:      rec.ID,
				Symbol:     t.Symbol,
				Side:       string(t.Side),
				Quantity:   t.Quantity,
				EntryPrice: t.EntryPrice,
				ExitPrice:  t.ExitPrice,
				PnL:        t.PnL,
				Commission: t.Commission,
				EntryTime:  t.EntryTime.UnixMilli(),
				ExitTime:   t.ExitTime.UnixMilli(),
			}
			if err := tx.Create(&tr).Error; err != nil {
				return err
			}
		}
		if len(curve) > 0 {
			rows := make([]equityRow, 0, len(curve))
			for _, pt := range curve {
				rows = append(rows, equityRow{
					RunID:     rec.ID,
					Timestamp: pt.Timestamp.UnixMilli(),
					Equity:    pt.Equity,
					Cash:      pt.Cash,
				})
			}
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Run loads one run summary. Returns (nil, nil) when the id is unknown.
func (s *Store) Run(ctx context.Context, id string) (*RunRecord, error) {
	var row runRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := RunRecord{
		ID:        row.ID,
		Strategy:  row.Strategy,
		Symbol:    row.Symbol,
		Interval:  row.Interval,
		StartTime: time.UnixMilli(row.StartTime).UTC(),
		EndTime:   time.UnixMilli(row.EndTime).UTC(),
	}
	rec.Metrics.InitialCapital = row.InitialCapital
	rec.Metrics.FinalEquity = row.FinalEquity
	rec.Metrics.TotalReturnPct = row.TotalReturnPct
	rec.Metrics.SharpeRatio = row.SharpeRatio
	rec.Metrics.MaxDrawdownPct = row.MaxDrawdownPct
	rec.Metrics.TotalTrades = row.TotalTrades
	return &rec, nil
}

// RunTrades loads the trade log of a run in exit-time order.
func (s *Store) RunTrades(ctx context.Context, runID string) ([]ledger.Trade, error) {
	var rows []tradeRow
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("exit_time ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ledger.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, ledger.Trade{
			Symbol:     r.Symbol,
			Side:       sideFromString(r.Side),
			Quantity:   r.Quantity,
			EntryPrice: r.EntryPrice,
			ExitPrice:  r.ExitPrice,
			PnL:        r.PnL,
			Commission: r.Commission,
			EntryTime:  time.UnixMilli(r.EntryTime).UTC(),
			ExitTime:   time.UnixMilli(r.ExitTime).UTC(),
		})
	}
	return out, nil
}

func sideFromString(s string) core.Side {
	if s == string(core.Sell) {
		return core.Sell
	}
	return core.Buy
}
