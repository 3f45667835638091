// Command report writes a usage workbook for a date range into the exports
// directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gymbook/internal/config"
	"gymbook/internal/database"
	"gymbook/internal/logging"
	"gymbook/internal/models"
	"gymbook/internal/report"
)

func main() {
	from := flag.String("from", "", "first date, YYYY-MM-DD (default: 30 days ago)")
	to := flag.String("to", "", "last date, YYYY-MM-DD (default: today)")
	top := flag.Int("top", report.DefaultTopUsers, "number of top users to list")
	flag.Parse()

	if err := run(*from, *to, *top); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(rawFrom, rawTo string, top int) error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	loc, err := cfg.Schedule.Location()
	if err != nil {
		return fmt.Errorf("schedule timezone: %w", err)
	}
	fromDate, toDate, err := parseRange(rawFrom, rawTo, time.Now().In(loc))
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	usage, err := report.Build(context.Background(), db, fromDate, toDate, top)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		return fmt.Errorf("create exports dir: %w", err)
	}
	path := filepath.Join(cfg.Exports.Path, fmt.Sprintf("usage_%s_%s.xlsx", usage.From, usage.To))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.WriteXLSX(f, usage); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	logger.Info().
		Str("file", path).
		Int("bookings", usage.Bookings).
		Float64("occupancy_rate", usage.OccupancyRate).
		Msg("usage report written")
	return nil
}

func parseRange(rawFrom, rawTo string, now time.Time) (time.Time, time.Time, error) {
	to := models.DateOf(now)
	if rawTo != "" {
		d, err := models.ParseDate(rawTo)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -to: %w", err)
		}
		to = d
	}
	from := to.AddDate(0, 0, -29)
	if rawFrom != "" {
		d, err := models.ParseDate(rawFrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -from: %w", err)
		}
		from = d
	}
	return from, to, nil
}
