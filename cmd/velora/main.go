package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tidwall/gjson"

	"velora/internal/app"
	"velora/internal/config"
	"velora/internal/logger"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "report" {
		if err := runReportSummary(os.Args[2:]); err != nil {
			log.Fatalf("report: %v", err)
		}
		return
	}

	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	mode := flag.String("mode", "backtest", "run mode: backtest or live")
	outDir := flag.String("out", "reports", "directory for backtest report files")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("initializing log file: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("initializing app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "backtest":
		err = application.RunBacktest(ctx, *outDir)
	case "live":
		err = application.RunLive(ctx)
	default:
		log.Fatalf("unknown mode %q, expected backtest or live", *mode)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("%s failed: %v", *mode, err)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("VELORA_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

// runReportSummary prints the headline numbers of a saved report without
// decoding the whole document.
func runReportSummary(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: velora report <report.json>")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%s is not valid JSON", fs.Arg(0))
	}

	doc := gjson.ParseBytes(data)
	fmt.Printf("run        %s\n", doc.Get("run_id").String())
	fmt.Printf("strategy   %s on %s %s\n",
		doc.Get("config.strategy").String(),
		doc.Get("config.symbol").String(),
		doc.Get("config.interval").String())
	fmt.Printf("window     %s .. %s\n",
		doc.Get("first_candle").String(), doc.Get("last_candle").String())
	fmt.Printf("return     %.2f%%\n", doc.Get("metrics.total_return_pct").Float())
	fmt.Printf("sharpe     %.2f\n", doc.Get("metrics.sharpe_ratio").Float())
	fmt.Printf("drawdown   %.2f%%\n", doc.Get("metrics.max_drawdown_pct").Float())
	fmt.Printf("trades     %d (win rate %.1f%%)\n",
		doc.Get("metrics.total_trades").Int(),
		doc.Get("metrics.win_rate").Float()*100)
	fmt.Printf("rejected   %d orders\n", doc.Get("rejected_orders").Int())

	losers := doc.Get(`trades.#(pnl<0)#.pnl`)
	if losers.Exists() && len(losers.Array()) > 0 {
		worst := 0.0
		for _, v := range losers.Array() {
			if v.Float() < worst {
				worst = v.Float()
			}
		}
		fmt.Printf("worst loss %.2f\n", worst)
	}
	return nil
}
