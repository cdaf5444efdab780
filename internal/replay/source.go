package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/database"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/tickstore"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// TickSource yields the ticks that traded inside a bar
type TickSource interface {
	Ticks(ctx context.Context, bar models.Bar) []models.Tick
}

// StoreTicks reads bar windows back from the tick store
type StoreTicks struct {
	Store *tickstore.Store
}

// Ticks returns ticks in [open, close)
func (s StoreTicks) Ticks(ctx context.Context, bar models.Bar) []models.Tick {
	recs := s.Store.Range(ctx, bar.TimeOpen, bar.TimeClose)
	out := make([]models.Tick, 0, len(recs))
	for _, r := range recs {
		if r.Timestamp.Before(bar.TimeClose) && (bar.Symbol == "" || r.Symbol == bar.Symbol) {
			out = append(out, r.Tick)
		}
	}
	return out
}

// SyntheticTicks derives four ticks per bar from its OHLCV path: open,
// the extreme touched first, the other extreme, close. Up legs print as
// BUY and down legs as SELL.
type SyntheticTicks struct {
	TickSize float64
}

// Ticks builds the deterministic tick path of bar
func (s SyntheticTicks) Ticks(_ context.Context, bar models.Bar) []models.Tick {
	path := []float64{bar.Open, bar.Low, bar.High, bar.Close}
	if bar.Close < bar.Open {
		path = []float64{bar.Open, bar.High, bar.Low, bar.Close}
	}

	total := int64(bar.Volume)
	if total <= 0 {
		return []models.Tick{}
	}
	share := total / int64(len(path))
	step := bar.Timeframe() / time.Duration(len(path))

	out := make([]models.Tick, 0, len(path))
	for i, price := range path {
		size := share
		if i == len(path)-1 {
			size = total - share*int64(len(path)-1)
		}
		if size <= 0 {
			continue
		}
		side := models.SideBuy
		if i > 0 && price < path[i-1] {
			side = models.SideSell
		} else if i == 0 && bar.Close < bar.Open {
			side = models.SideSell
		}
		out = append(out, models.Tick{
			Timestamp: bar.TimeOpen.Add(time.Duration(i) * step),
			Price:     models.AlignToTick(price, s.TickSize),
			Size:      size,
			Side:      side,
			Symbol:    bar.Symbol,
		})
	}
	return out
}

// LoadBarsCSV reads bars with a header naming time, open, high, low, close
// and volume columns. Times are RFC3339 or unix seconds and mark the bar open.
func LoadBarsCSV(r io.Reader, symbol string, tfSeconds int64) ([]models.Bar, error) {
	if tfSeconds <= 0 {
		tfSeconds = models.TF1m
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read bar header: %v", models.ErrInvalidInput, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"time", "open", "high", "low", "close", "volume"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: bar csv missing column %q", models.ErrInvalidInput, name)
		}
	}

	var bars []models.Bar
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", models.ErrInvalidInput, line, err)
		}
		ts, err := parseBarTime(row[col["time"]])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", models.ErrInvalidInput, line, err)
		}
		var vals [5]float64
		for i, name := range []string{"open", "high", "low", "close", "volume"} {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d %s: %v", models.ErrInvalidInput, line, name, err)
			}
			vals[i] = v
		}
		bars = append(bars, models.Bar{
			Symbol:    symbol,
			TimeOpen:  ts,
			TimeClose: ts.Add(time.Duration(tfSeconds) * time.Second),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			TFSeconds: tfSeconds,
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TimeOpen.Before(bars[j].TimeOpen) })
	return bars, nil
}

func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return t.UTC(), nil
}

// LoadBarsInflux reads stored bars of one timeframe back from InfluxDB
func LoadBarsInflux(ctx context.Context, influx *database.InfluxClient, symbol string, from, to time.Time, tfSeconds int64) ([]models.Bar, error) {
	bars, err := influx.GetBars(ctx, symbol, from, to, tfSeconds)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TimeOpen.Before(bars[j].TimeOpen) })
	return bars, nil
}
