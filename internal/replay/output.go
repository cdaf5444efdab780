package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Output file names
const (
	TimelineJSON = "timeline.json"
	TimelineCSV  = "timeline.csv"
	PacketsJSON  = "chart_packets.json"
	HeatmapsJSON = "heatmaps.json"
	SignalsJSON  = "signals.json"
	SummaryJSON  = "summary.json"
)

// WriteDir writes every output of r into dir
func WriteDir(dir string, r *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create replay output dir: %v", models.ErrStorageIO, err)
	}

	timeline, err := r.Timeline.Export()
	if err != nil {
		return err
	}
	timelineCSV, err := r.Timeline.ExportCSV()
	if err != nil {
		return err
	}

	files := map[string][]byte{
		TimelineJSON: timeline,
		TimelineCSV:  timelineCSV,
	}
	for name, v := range map[string]interface{}{
		PacketsJSON:  r.ChartPackets,
		HeatmapsJSON: r.Heatmaps,
		SignalsJSON:  r.Signals,
		SummaryJSON:  r.Summary,
	} {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		files[name] = data
	}

	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("%w: write %s: %v", models.ErrStorageIO, name, err)
		}
	}
	return nil
}
