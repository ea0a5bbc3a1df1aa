package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/afroash/weather-station/internal/config"
	"github.com/afroash/weather-station/internal/models"
	"github.com/afroash/weather-station/internal/storage"
)

func newExportCmd(configPath *string) *cobra.Command {
	var (
		format string
		limit  int
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the most recent readings to stdout",
		Long:  "Export reads the structured store and writes the most recent readings, oldest first, as CSV (mirror layout with a header) or JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				dbPath = cfg.Storage.DBPath
			}

			store, err := storage.NewSQLiteStore(storage.StoreConfig{Path: dbPath}, zerolog.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			return export(cmd.Context(), store, cmd.OutOrStdout(), format, limit)
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv or json")
	cmd.Flags().IntVar(&limit, "limit", 1000, "number of readings to export")
	cmd.Flags().StringVar(&dbPath, "db", "", "database path (overrides the config file)")
	return cmd
}

type recentReader interface {
	GetRecentReadings(ctx context.Context, limit int) ([]*models.Reading, error)
}

func export(ctx context.Context, store recentReader, out io.Writer, format string, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	readings, err := store.GetRecentReadings(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read readings: %w", err)
	}
	slices.Reverse(readings)

	switch format {
	case "csv":
		w := csv.NewWriter(out)
		if err := w.Write(models.Columns); err != nil {
			return err
		}
		for _, r := range readings {
			if err := w.Write(r.CSVRecord()); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(readings)
	default:
		return fmt.Errorf("unknown format %q (want csv or json)", format)
	}
}
