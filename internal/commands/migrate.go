package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/app"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the tick store schema",
	Long: `Apply the tick store schema to the configured database.

The driver comes from TICKSTORE_DRIVER (sqlite or mysql). Migrations are
idempotent and safe to run against an existing store.

Examples:
  imo migrate
  TICKSTORE_DRIVER=mysql imo migrate`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup("")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := app.OpenSQL(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer db.Close()

	log.WithField("driver", string(db.Dialect())).Info("Tick store schema is up to date")
	return nil
}
