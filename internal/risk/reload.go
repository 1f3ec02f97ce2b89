package risk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"velora/internal/logger"
)

// LoadLimits reads a Limits document from a YAML file.
func LoadLimits(path string) (Limits, error) {
	var limits Limits
	data, err := os.ReadFile(path)
	if err != nil {
		return limits, fmt.Errorf("read risk limits: %w", err)
	}
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return limits, fmt.Errorf("parse risk limits %s: %w", path, err)
	}
	if err := validateLimits(limits); err != nil {
		return limits, err
	}
	return limits, nil
}

func validateLimits(l Limits) error {
	if l.MaxPositionSize < 0 || l.MaxTotalExposure < 0 || l.MaxDrawdownPct < 0 || l.MaxDailyLoss < 0 {
		return fmt.Errorf("risk limits must be non-negative")
	}
	for sym, v := range l.PositionLimits {
		if v < 0 {
			return fmt.Errorf("position limit for %s must be non-negative", sym)
		}
	}
	return nil
}

// Watch reloads the guard's limits whenever the file changes. It blocks until
// the context is cancelled. A file that fails to parse leaves the current
// limits untouched.
func Watch(ctx context.Context, path string, guard *Guard) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("risk limits watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops the
	// watch when it targets the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	target, _ := filepath.Abs(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(ev.Name)
			if name != target || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			limits, err := LoadLimits(path)
			if err != nil {
				logger.Warnf("risk limits reload skipped: %v", err)
				continue
			}
			guard.SetLimits(limits)
			logger.Infof("risk limits reloaded from %s", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("risk limits watcher error: %v", err)
		}
	}
}
