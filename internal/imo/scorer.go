package imo

import (
	"fmt"
	"math"
	"strconv"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Component ceilings. The total never exceeds 1.
const (
	MaxAbsorption = 0.30
	MaxSweeps     = 0.25
	MaxMemory     = 0.20
	MaxVolume     = 0.15
	MaxStructure  = 0.10
)

const (
	// StrongThreshold is the strength above which a zone or sweep counts
	StrongThreshold = 0.6
	// DefaultMemoryTolerance bounds the memory zones considered around price
	DefaultMemoryTolerance = 3.0
)

// countScale maps the number of strong items onto a share of the ceiling
var countScale = []float64{0, 0.6, 0.8, 1.0}

// Options are the scorer tunables
type Options struct {
	ExecuteThreshold float64
	WaitThreshold    float64
	VolumeReference  float64
	MemoryTolerance  float64
}

// DefaultOptions returns EXECUTE >= 0.70, WAIT >= 0.50 and a 2000 contract reference
func DefaultOptions() Options {
	return Options{
		ExecuteThreshold: 0.70,
		WaitThreshold:    0.50,
		VolumeReference:  2000,
		MemoryTolerance:  DefaultMemoryTolerance,
	}
}

// OptionsFromConfig builds scorer options from the analysis section
func OptionsFromConfig(cfg config.AnalysisConfig) Options {
	opts := DefaultOptions()
	opts.ExecuteThreshold = cfg.ExecuteThreshold
	opts.WaitThreshold = cfg.WaitThreshold
	if cfg.VolumeReference > 0 {
		opts.VolumeReference = cfg.VolumeReference
	}
	return opts
}

// Scorer turns a scoring context into a decision. It holds no state and
// never reads the wall clock, so equal contexts give equal decisions.
type Scorer struct {
	opts Options
}

// NewScorer creates a scorer
func NewScorer(opts Options) *Scorer {
	if opts.VolumeReference <= 0 {
		opts.VolumeReference = DefaultOptions().VolumeReference
	}
	return &Scorer{opts: opts}
}

// Options returns the scorer configuration
func (s *Scorer) Options() Options { return s.opts }

type contribution struct {
	value  float64
	reason string
}

// Evaluate scores ctx
func (s *Scorer) Evaluate(ctx models.ScoringContext) models.Decision {
	absorption := s.absorption(ctx)
	sweeps := s.sweeps(ctx)
	memory := s.memory(ctx)
	volume := s.volume(ctx)
	structure, aligned := s.structure(ctx)

	breakdown := models.ScoreBreakdown{
		Absorption: absorption.value,
		Sweeps:     sweeps.value,
		Memory:     memory.value,
		Volume:     volume.value,
		Structure:  structure.value,
	}
	confidence := models.RoundPrice(math.Min(1, breakdown.Total()), 4)

	action := models.ActionSkip
	switch {
	case confidence >= s.opts.ExecuteThreshold:
		action = models.ActionExecute
	case confidence >= s.opts.WaitThreshold:
		action = models.ActionWait
	}

	reasons := []string{}
	var primary contribution
	for _, c := range []contribution{absorption, sweeps, memory, volume, structure} {
		if c.value <= 0 {
			continue
		}
		reasons = append(reasons, c.reason)
		if c.value > primary.value {
			primary = c
		}
	}
	if primary.reason == "" {
		primary.reason = "no qualifying institutional activity"
	}

	return models.Decision{
		Time:           ctx.Time,
		Price:          ctx.CurrentPrice,
		Action:         action,
		Confidence:     confidence,
		Direction:      s.direction(ctx, aligned, absorption.value, sweeps.value),
		ScoreBreakdown: breakdown,
		Reasons:        reasons,
		PrimaryReason:  prefix(action) + primary.reason,
		Counts: models.DecisionCounts{
			AbsorptionZones: len(ctx.AbsorptionZones),
			Sweeps:          len(ctx.Sweeps),
		},
	}
}

func prefix(a models.Action) string {
	switch a {
	case models.ActionExecute:
		return "High institutional conviction: "
	case models.ActionWait:
		return "Partial institutional alignment: "
	}
	return "Insufficient institutional evidence: "
}

func scaled(count int, ceiling float64) float64 {
	if count <= 0 {
		return 0
	}
	if count >= len(countScale) {
		count = len(countScale) - 1
	}
	return models.RoundPrice(countScale[count]*ceiling, 4)
}

func (s *Scorer) absorption(ctx models.ScoringContext) contribution {
	strong := 0
	for _, z := range ctx.AbsorptionZones {
		if z.Strength > StrongThreshold {
			strong++
		}
	}
	if strong == 0 {
		return contribution{}
	}
	return contribution{
		value:  scaled(strong, MaxAbsorption),
		reason: fmt.Sprintf("%d strong absorption zone(s)", strong),
	}
}

func (s *Scorer) sweeps(ctx models.ScoringContext) contribution {
	strong := 0
	for _, sw := range ctx.Sweeps {
		if sw.Strength > StrongThreshold {
			strong++
		}
	}
	if strong == 0 {
		return contribution{}
	}
	return contribution{
		value:  scaled(strong, MaxSweeps),
		reason: fmt.Sprintf("%d strong liquidity sweep(s)", strong),
	}
}

func (s *Scorer) memory(ctx models.ScoringContext) contribution {
	var near []models.MemoryZone
	for _, z := range ctx.MemoryZones {
		if s.opts.MemoryTolerance > 0 && math.Abs(z.Price-ctx.CurrentPrice) > s.opts.MemoryTolerance {
			continue
		}
		near = append(near, z)
	}
	if len(near) == 0 {
		return contribution{}
	}

	hits := 0
	for _, z := range near {
		hits += z.HitCount
	}
	avgReuse := float64(hits) / float64(len(near))

	factor := math.Min(0.6+0.1*float64(len(near)-1), 0.8)
	if avgReuse >= 2 {
		factor += 0.2
	}
	factor = math.Min(factor, 1)

	return contribution{
		value:  models.RoundPrice(factor*MaxMemory, 4),
		reason: fmt.Sprintf("%d memory zone(s) near price, avg reuse %s", len(near), strconv.FormatFloat(avgReuse, 'f', 1, 64)),
	}
}

func (s *Scorer) volume(ctx models.ScoringContext) contribution {
	if ctx.Volume <= 0 {
		return contribution{}
	}
	ratio := models.Clamp01(ctx.Volume / s.opts.VolumeReference)
	return contribution{
		value: models.RoundPrice(ratio*MaxVolume, 4),
		reason: fmt.Sprintf("volume %s of %s reference",
			strconv.FormatFloat(ctx.Volume, 'f', 0, 64),
			strconv.FormatFloat(s.opts.VolumeReference, 'f', 0, 64)),
	}
}

// structure awards the ceiling when absorption dominance and the sweep
// thesis point the same way.
func (s *Scorer) structure(ctx models.ScoringContext) (contribution, models.Direction) {
	dominance := AbsorptionDominance(ctx.AbsorptionZones)
	thesis := SweepThesis(ctx.Sweeps)
	if dominance == models.DirectionNeutral || dominance != thesis {
		return contribution{}, models.DirectionNeutral
	}
	return contribution{
		value:  MaxStructure,
		reason: fmt.Sprintf("absorption and sweeps agree on %s", dominance),
	}, dominance
}

func (s *Scorer) direction(ctx models.ScoringContext, aligned models.Direction, absorption, sweeps float64) models.Direction {
	if aligned != models.DirectionNeutral {
		return aligned
	}
	if sweeps > 0 && sweeps >= absorption {
		if d := SweepThesis(ctx.Sweeps); d != models.DirectionNeutral {
			return d
		}
	}
	if absorption > 0 {
		if d := AbsorptionDominance(ctx.AbsorptionZones); d != models.DirectionNeutral {
			return d
		}
	}
	if ctx.OrderFlow != nil {
		return ctx.OrderFlow.Bias
	}
	return models.DirectionNeutral
}

// AbsorptionDominance is the volume-weighted dominance across zones
func AbsorptionDominance(zones []models.AbsorptionZone) models.Direction {
	var buy, sell int64
	for _, z := range zones {
		switch z.Dominance {
		case models.DirectionBuy:
			buy += z.TotalVolume
		case models.DirectionSell:
			sell += z.TotalVolume
		}
	}
	switch {
	case buy > sell:
		return models.DirectionBuy
	case sell > buy:
		return models.DirectionSell
	}
	return models.DirectionNeutral
}

// SweepThesis is the strength-weighted thesis across sweeps
func SweepThesis(sweeps []models.Sweep) models.Direction {
	var buy, sell float64
	for _, sw := range sweeps {
		switch sw.Type.Thesis() {
		case models.DirectionBuy:
			buy += sw.Strength
		case models.DirectionSell:
			sell += sw.Strength
		}
	}
	switch {
	case buy > sell:
		return models.DirectionBuy
	case sell > buy:
		return models.DirectionSell
	}
	return models.DirectionNeutral
}
