package tickstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

var csvHeader = []string{"timestamp", "price", "size", "side", "contract"}

// ExportCSV renders the ticks of [start, end] as CSV with a header row
func (s *Store) ExportCSV(ctx context.Context, start, end time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, s.Range(ctx, start, end)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ImportCSV parses CSV produced by ExportCSV and records it as one batch
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	ticks, err := ReadCSV(r)
	if err != nil {
		return 0, err
	}
	recs, err := s.RecordBatch(ctx, ticks)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// WriteCSV writes ticks in the export layout
func WriteCSV(w io.Writer, recs []models.TickRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range recs {
		row := []string{
			formatTimestamp(rec.Timestamp),
			strconv.FormatFloat(rec.Price, 'f', -1, 64),
			strconv.FormatInt(rec.Size, 10),
			string(rec.Side),
			rec.Symbol,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses the export layout back into ticks
func ReadCSV(r io.Reader) ([]models.Tick, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", models.ErrInvalidInput, err)
	}
	if len(rows) > 0 && strings.EqualFold(rows[0][0], csvHeader[0]) {
		rows = rows[1:]
	}

	ticks := make([]models.Tick, 0, len(rows))
	for i, row := range rows {
		ts, err := parseTimestamp(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", models.ErrInvalidInput, i+1, err)
		}
		price, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d price: %v", models.ErrInvalidInput, i+1, err)
		}
		size, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d size: %v", models.ErrInvalidInput, i+1, err)
		}
		side, err := models.ParseSide(row[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		ticks = append(ticks, models.Tick{
			Timestamp: ts,
			Price:     price,
			Size:      size,
			Side:      side,
			Symbol:    row[4],
		})
	}
	return ticks, nil
}
