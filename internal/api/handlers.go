package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/engine"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/replay"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/session"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// maxReplayBars bounds one synchronous replay request
const maxReplayBars = 50000

// handleIngest accepts a JSON array of ticks, or an object with a ticks array
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	body = bytes.TrimSpace(body)

	var ticks []models.Tick
	if len(body) > 0 && body[0] == '{' {
		var wrapped struct {
			Ticks []models.Tick `json:"ticks"`
		}
		err = json.Unmarshal(body, &wrapped)
		ticks = wrapped.Ticks
	} else {
		err = json.Unmarshal(body, &ticks)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected a JSON array of ticks: "+err.Error())
		return
	}

	res, err := s.live.Ingest(r.Context(), ticks)
	if err != nil {
		s.logger.WithError(err).WithField("ticks", len(ticks)).Warn("Ingest rejected")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.live.Status(r.URL.Query().Get("symbol")))
}

func (s *Server) handleVolumeProfile(w http.ResponseWriter, r *http.Request) {
	var req engine.ProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.live.VolumeProfile(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ChartRequest selects bars for display
type ChartRequest struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Limit    int    `json:"limit"`
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	req := ChartRequest{
		Symbol:   r.URL.Query().Get("symbol"),
		Interval: r.URL.Query().Get("interval"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}
	if r.Method == http.MethodPost {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	tf := models.TF1m
	if req.Interval != "" {
		var err error
		if tf, err = models.ParseTimeframe(req.Interval); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = 300
	}

	bars, err := s.live.Chart(req.Symbol, tf, req.Limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":   s.symbolOrDefault(req.Symbol),
		"interval": models.TimeframeLabel(tf),
		"bars":     bars,
		"count":    len(bars),
	})
}

// MentorResponse is the latest scored bar with the feed state
type MentorResponse struct {
	Symbol string                `json:"symbol"`
	Feed   string                `json:"feed"`
	Event  *models.DecisionEvent `json:"event"`
}

func (s *Server) handleMentor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	req.Symbol = r.URL.Query().Get("symbol")
	if r.Method == http.MethodPost {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	resp := MentorResponse{
		Symbol: s.symbolOrDefault(req.Symbol),
		Feed:   s.live.Status(req.Symbol).Status,
	}
	if ev, ok := s.live.Mentor(req.Symbol); ok {
		resp.Event = &ev
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReplayRequest runs the pipeline over posted bars
type ReplayRequest struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Bars      []models.Bar    `json:"bars"`
	News      []session.Event `json:"news"`
	// TickSource is "synthetic" (default) or "store"
	TickSource string `json:"tick_source"`
}

// ReplayResponse carries every replay output
type ReplayResponse struct {
	Timeline     []models.TimelineEntry       `json:"timeline"`
	ChartPackets []models.ChartPacket         `json:"chart_packets"`
	Signals      []models.SignalRecord        `json:"signals"`
	Heatmaps     map[string][]models.HeatCell `json:"heatmaps"`
	Summary      replay.Summary               `json:"summary"`
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Bars) == 0 {
		writeError(w, http.StatusBadRequest, "no bars to replay")
		return
	}
	if len(req.Bars) > maxReplayBars {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d bars per request", maxReplayBars))
		return
	}

	symbol := s.symbolOrDefault(req.Symbol)
	tf := models.TF1m
	if req.Timeframe != "" {
		var err error
		if tf, err = models.ParseTimeframe(req.Timeframe); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	for i := range req.Bars {
		if req.Bars[i].TFSeconds == 0 {
			req.Bars[i].TFSeconds = tf
		}
		if req.Bars[i].Symbol == "" {
			req.Bars[i].Symbol = symbol
		}
	}

	opts := replay.Options{}
	switch req.TickSource {
	case "", "synthetic":
	case "store":
		if s.store == nil {
			writeError(w, http.StatusBadRequest, "no tick store configured")
			return
		}
		opts.Ticks = replay.StoreTicks{Store: s.store}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown tick_source %q", req.TickSource))
		return
	}
	if req.News != nil {
		opts.News = session.Static{Cal: session.NewCalendar(req.News, s.cfg.News.WindowMinutes)}
	}

	eng, err := replay.NewEngine(s.cfg, symbol, opts, s.logger)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	res, err := eng.Run(r.Context(), req.Bars)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ReplayResponse{
		Timeline:     res.Timeline.Entries(),
		ChartPackets: res.ChartPackets,
		Signals:      res.Signals,
		Heatmaps:     res.Heatmaps,
		Summary:      res.Summary,
	})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	zones := s.live.Zones()
	if zones == nil {
		zones = []models.ChartZone{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"zones": zones,
		"count": len(zones),
	})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	active, history := s.live.Signals(symbol)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  s.symbolOrDefault(symbol),
		"active":  active,
		"history": history,
	})
}

func (s *Server) symbolOrDefault(symbol string) string {
	if symbol == "" {
		return s.cfg.Server.Symbol
	}
	return symbol
}
