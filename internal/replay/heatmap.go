package replay

import (
	"fmt"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Heatmap names
const (
	HeatConfidence = "confidence"
	HeatActivity   = "activity"
	HeatSession    = "session"
	HeatKillZone   = "killzone"
	HeatNews       = "news"
	HeatIceberg    = "iceberg"
)

var heatmapNames = []string{HeatConfidence, HeatActivity, HeatSession, HeatKillZone, HeatNews, HeatIceberg}

var sessionCodes = map[models.Session]float64{
	models.SessionOff:     0,
	models.SessionAsia:    1,
	models.SessionLondon:  2,
	models.SessionNewYork: 3,
}

// cellFunc maps one bar entry to a heat cell
type cellFunc func(models.TimelineEntry) (models.HeatCell, error)

var heatCells = map[string]cellFunc{
	HeatConfidence: func(e models.TimelineEntry) (models.HeatCell, error) {
		c := models.HeatCell{Time: e.Time}
		if e.Scored != nil {
			c.Value = e.Scored.Confidence
			c.Label = string(e.Scored.Action)
		}
		return c, nil
	},
	HeatActivity: func(e models.TimelineEntry) (models.HeatCell, error) {
		c := models.HeatCell{Time: e.Time, Value: e.Bar.Volume}
		if e.Context != nil {
			c.Label = fmt.Sprintf("%dZ %dS", len(e.Context.AbsorptionZones), len(e.Context.Sweeps))
		}
		return c, nil
	},
	HeatSession: func(e models.TimelineEntry) (models.HeatCell, error) {
		v, ok := sessionCodes[e.Context.Session]
		if !ok {
			return models.HeatCell{}, fmt.Errorf("%w: unknown session %q", models.ErrConsumer, e.Context.Session)
		}
		return models.HeatCell{Time: e.Time, Value: v, Label: string(e.Context.Session)}, nil
	},
	HeatKillZone: func(e models.TimelineEntry) (models.HeatCell, error) {
		return models.HeatCell{Time: e.Time, Value: flag(e.Context.KillZone)}, nil
	},
	HeatNews: func(e models.TimelineEntry) (models.HeatCell, error) {
		c := models.HeatCell{Time: e.Time}
		if e.Context.News.Active {
			c.Value = float64(e.Context.News.Impact.Rank()) / 3
			c.Label = e.Context.News.Event
		}
		return c, nil
	},
	HeatIceberg: func(e models.TimelineEntry) (models.HeatCell, error) {
		return models.HeatCell{Time: e.Time, Value: e.Context.IcebergPersistenceScore}, nil
	},
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Heatmaps derives every heatmap from the bar entries of a timeline. A cell
// that cannot be derived is replaced by a zero cell labelled with the
// failure; the count of such cells is returned.
func Heatmaps(entries []models.TimelineEntry) (map[string][]models.HeatCell, int) {
	out := make(map[string][]models.HeatCell, len(heatmapNames))
	failures := 0
	for _, name := range heatmapNames {
		fn := heatCells[name]
		cells := make([]models.HeatCell, 0, len(entries))
		for _, e := range entries {
			if e.Kind != models.TimelineBar {
				continue
			}
			cell, err := safeCell(fn, e)
			if err != nil {
				failures++
				cell = models.HeatCell{Time: e.Time, Label: "unavailable"}
			}
			cells = append(cells, cell)
		}
		out[name] = cells
	}
	return out, failures
}

func safeCell(fn cellFunc, e models.TimelineEntry) (models.HeatCell, error) {
	if e.Bar == nil || e.Context == nil {
		return models.HeatCell{}, fmt.Errorf("%w: entry without bar or context", models.ErrConsumer)
	}
	return fn(e)
}
