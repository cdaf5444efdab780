package replay

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Timeline is the append-only audit of a replay
type Timeline struct {
	entries []models.TimelineEntry
}

// Append adds an entry
func (t *Timeline) Append(e models.TimelineEntry) {
	t.entries = append(t.entries, e)
}

// Entries returns the entries in order
func (t *Timeline) Entries() []models.TimelineEntry {
	return t.entries
}

// Len returns the entry count
func (t *Timeline) Len() int { return len(t.entries) }

// Export renders the timeline as a JSON array
func (t *Timeline) Export() ([]byte, error) {
	entries := t.entries
	if entries == nil {
		entries = []models.TimelineEntry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

var timelineCSVHeader = []string{"time", "price", "session", "killzone", "news_active", "iceberg_score", "confidence", "decision", "explanation"}

// ExportCSV renders the flat CSV projection of the timeline
func (t *Timeline) ExportCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(timelineCSVHeader); err != nil {
		return nil, err
	}
	for _, e := range t.entries {
		row := []string{e.Time.UTC().Format("2006-01-02T15:04:05Z"), "", "", "", "", "", "", "", e.Explanation.Summary}
		if e.Kind == models.TimelineGap {
			row[7] = "GAP"
		}
		if e.Context != nil {
			row[1] = strconv.FormatFloat(e.Context.CurrentPrice, 'f', -1, 64)
			row[2] = string(e.Context.Session)
			row[3] = strconv.FormatBool(e.Context.KillZone)
			row[4] = strconv.FormatBool(e.Context.News.Active)
			row[5] = strconv.FormatFloat(e.Context.IcebergPersistenceScore, 'f', 4, 64)
		}
		if e.Scored != nil {
			row[6] = strconv.FormatFloat(e.Scored.Confidence, 'f', 4, 64)
		}
		if e.Decision != nil {
			row[7] = string(e.Decision.Action)
		} else if e.Kind == models.TimelineBar {
			row[7] = "NONE"
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// chartPacket projects a bar entry into its visualization record
func chartPacket(e models.TimelineEntry) models.ChartPacket {
	p := models.ChartPacket{
		Time:    e.Time,
		Tooltip: e.Explanation.Summary,
	}
	if e.Bar != nil {
		p.Open, p.High, p.Low, p.Close, p.Volume = e.Bar.Open, e.Bar.High, e.Bar.Low, e.Bar.Close, e.Bar.Volume
	}
	if e.Context != nil {
		p.Session = e.Context.Session
		p.KillZone = e.Context.KillZone
		p.NewsActive = e.Context.News.Active
		p.IcebergScore = e.Context.IcebergPersistenceScore
	}
	if e.Scored != nil {
		p.Confidence = e.Scored.Confidence
		p.Edge = string(e.Scored.Direction)
	}
	if e.Decision != nil {
		action := e.Decision.Action
		p.Signal = &action
	}
	return p
}
