package backtest

import (
	"fmt"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteChart renders the equity curve and per-trade PnL to a standalone
// HTML page.
func (r *Report) WriteChart(path string) error {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(r.equityChart(), r.tradeChart())

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	return page.Render(f)
}

func (r *Report) equityChart() *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Equity - %s %s", r.Config.Symbol, r.Config.Interval),
			Subtitle: fmt.Sprintf("return %.2f%%, max drawdown %.2f%%", r.Metrics.TotalReturnPct, r.Metrics.MaxDrawdownPct),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "480px"}),
	)

	xAxis := make([]string, 0, len(r.EquityCurve))
	equity := make([]opts.LineData, 0, len(r.EquityCurve))
	cash := make([]opts.LineData, 0, len(r.EquityCurve))
	for _, pt := range r.EquityCurve {
		xAxis = append(xAxis, pt.Timestamp.Format("2006-01-02 15:04"))
		equity = append(equity, opts.LineData{Value: pt.Equity})
		cash = append(cash, opts.LineData{Value: pt.Cash})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity, charts.WithLineStyleOpts(opts.LineStyle{Width: 2}))
	line.AddSeries("Cash", cash, charts.WithLineStyleOpts(opts.LineStyle{Width: 1}))
	return line
}

func (r *Report) tradeChart() *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Trade PnL"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "320px"}),
	)

	xAxis := make([]string, 0, len(r.Trades))
	pnl := make([]opts.BarData, 0, len(r.Trades))
	for i, t := range r.Trades {
		xAxis = append(xAxis, fmt.Sprintf("#%d %s", i+1, t.ExitTime.Format(time.DateOnly)))
		pnl = append(pnl, opts.BarData{Value: t.PnL})
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("PnL", pnl)
	return bar
}
