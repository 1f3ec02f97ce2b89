package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"velora/internal/core"
)

type candleRow struct {
	ID        uint   `gorm:"primaryKey"`
	Symbol    string `gorm:"size:32;uniqueIndex:idx_candle,priority:1"`
	Interval  string `gorm:"size:8;uniqueIndex:idx_candle,priority:2"`
	OpenTime  int64  `gorm:"uniqueIndex:idx_candle,priority:3"`
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

func (candleRow) TableName() string { return "candles" }

// SaveCandles upserts candles keyed by (symbol, interval, open_time).
// Re-downloading a range replaces existing bars.
func (s *Store) SaveCandles(ctx context.Context, candles []core.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	rows := make([]candleRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, candleRow{
			Symbol:    c.Symbol,
			Interval:  c.Interval,
			OpenTime:  c.OpenTime,
			CloseTime: c.CloseTime,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "open_time"}},
		UpdateAll: true,
	}).CreateInBatches(rows, 500).Error
}

// Candles returns bars with open time inside [start, end), ordered by open
// time. An empty result is a NoDataError.
func (s *Store) Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Candle, error) {
	var rows []candleRow
	q := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time ASC")
	if !start.IsZero() {
		q = q.Where("open_time >= ?", start.UnixMilli())
	}
	if !end.IsZero() {
		q = q.Where("open_time < ?", end.UnixMilli())
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &core.NoDataError{Symbol: symbol, Start: start, End: end}
	}
	out := make([]core.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Candle{
			Symbol:    r.Symbol,
			Interval:  r.Interval,
			OpenTime:  r.OpenTime,
			CloseTime: r.CloseTime,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return out, nil
}

// CandleCount returns the number of stored bars for the pair.
func (s *Store) CandleCount(ctx context.Context, symbol, interval string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&candleRow{}).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Count(&n).Error
	return n, err
}
