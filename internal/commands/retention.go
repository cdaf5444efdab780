package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/app"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/memory"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/tickstore"
)

var (
	retentionTickDays int
	retentionZoneDays int
)

// retentionCmd prunes old ticks and zones once
var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Purge expired ticks and memory zones",
	Long: `Run one retention sweep over the tick store and the zone memory.

Examples:
  imo retention                  # Use TICKSTORE_RETENTION_DAYS and MEMORY_RETENTION_DAYS
  imo retention --zone-days 30   # Keep zones touched in the last 30 days`,
	RunE: runRetention,
}

func init() {
	rootCmd.AddCommand(retentionCmd)

	retentionCmd.Flags().IntVar(&retentionTickDays, "tick-days", 0, "Tick retention in days (default from config)")
	retentionCmd.Flags().IntVar(&retentionZoneDays, "zone-days", 0, "Zone retention in days (default from config)")
}

func runRetention(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup("")
	if err != nil {
		return err
	}
	if retentionTickDays > 0 {
		cfg.TickStore.RetentionDays = retentionTickDays
	}
	if retentionZoneDays > 0 {
		cfg.Memory.RetentionDays = retentionZoneDays
	}

	ctx := context.Background()
	now := time.Now().UTC()

	db, err := app.OpenSQL(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	ticks, err := tickstore.New(db, app.TickStoreOptions(cfg), log).Purge(ctx, now)
	if err != nil {
		return fmt.Errorf("tick purge failed: %w", err)
	}

	mem, err := memory.Open(app.MemoryOptions(cfg), log)
	if err != nil {
		return err
	}
	zones, err := mem.ClearOldZones(cfg.Memory.RetentionDays, now)
	if err != nil {
		return fmt.Errorf("zone purge failed: %w", err)
	}

	log.WithFields(logrus.Fields{
		"ticks_deleted": ticks,
		"zones_deleted": zones,
	}).Info("Retention sweep complete")
	return nil
}
