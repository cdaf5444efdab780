package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/app"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/tickstore"
)

var (
	exportFrom string
	exportTo   string
	exportOut  string
)

// ticksCmd groups tick store maintenance commands
var ticksCmd = &cobra.Command{
	Use:   "ticks",
	Short: "Export or import stored ticks as CSV",
	Long: `Move ticks in and out of the tick store.

Examples:
  imo ticks export --from 2024-03-12T00:00:00Z --out ticks.csv
  imo ticks import ticks.csv`,
}

var ticksExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored ticks in a time range as CSV",
	RunE:  runTicksExport,
}

var ticksImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load ticks from a CSV file (stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTicksImport,
}

func init() {
	rootCmd.AddCommand(ticksCmd)
	ticksCmd.AddCommand(ticksExportCmd)
	ticksCmd.AddCommand(ticksImportCmd)

	ticksExportCmd.Flags().StringVar(&exportFrom, "from", "", "Range start, RFC3339 (default: 24h before --to)")
	ticksExportCmd.Flags().StringVar(&exportTo, "to", "", "Range end, RFC3339 (default: now)")
	ticksExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")
}

func openTickStore(ctx context.Context) (*tickstore.Store, func(), error) {
	cfg, log, err := setup("")
	if err != nil {
		return nil, nil, err
	}
	db, err := app.OpenSQL(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return tickstore.New(db, app.TickStoreOptions(cfg), log), func() { db.Close() }, nil
}

func runTicksExport(cmd *cobra.Command, args []string) error {
	start, end, err := parseRange(exportFrom, exportTo, time.Now())
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, closeFn, err := openTickStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	data, err := store.ExportCSV(ctx, start, end)
	if err != nil {
		return err
	}
	if exportOut == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(exportOut, data, 0o644)
}

func runTicksImport(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	ctx := context.Background()
	store, closeFn, err := openTickStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := store.ImportCSV(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d ticks\n", n)
	return nil
}
