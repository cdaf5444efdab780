package sweep

import (
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Strength weights
const (
	breakWeight     = 0.4
	rejectionWeight = 0.4
	volumeWeight    = 0.2

	DefaultVolumeReference = 1000.0
)

// Detector finds break-and-reject patterns between consecutive bars
type Detector struct {
	// Pip converts price distance into overshoot pips
	Pip             float64
	VolumeReference float64
}

// NewDetector creates a detector using tickSize as the pip
func NewDetector(tickSize float64) *Detector {
	if tickSize <= 0 {
		tickSize = 0.1
	}
	return &Detector{Pip: tickSize, VolumeReference: DefaultVolumeReference}
}

// Detect scans sequential pairs of bars. Fewer than two bars yields nothing.
func (d *Detector) Detect(bars []models.Bar) []models.Sweep {
	sweeps := make([]models.Sweep, 0)
	for i := 1; i < len(bars); i++ {
		sweeps = append(sweeps, d.DetectPair(bars[i-1], bars[i])...)
	}
	return sweeps
}

// DetectPair checks curr against the extremes of prev. A wide bar can run
// both sides and yield two sweeps.
func (d *Detector) DetectPair(prev, curr models.Bar) []models.Sweep {
	var out []models.Sweep
	if prev.Validate() != nil || curr.Validate() != nil {
		return out
	}

	if curr.High > prev.High && curr.Close < prev.High {
		out = append(out, d.build(models.BuySideSweep, prev, curr,
			prev.High, curr.High, curr.High-prev.High, curr.High-curr.Close))
	}
	if curr.Low < prev.Low && curr.Close > prev.Low {
		out = append(out, d.build(models.SellSideSweep, prev, curr,
			prev.Low, curr.Low, prev.Low-curr.Low, curr.Close-curr.Low))
	}
	return out
}

func (d *Detector) build(kind models.SweepType, prev, curr models.Bar, level, extreme, overshoot, rejection float64) models.Sweep {
	ref := d.VolumeReference
	if ref <= 0 {
		ref = DefaultVolumeReference
	}
	strength := breakWeight*ratio(overshoot, prev.Range()) +
		rejectionWeight*ratio(rejection, curr.Range()) +
		volumeWeight*models.Clamp01(curr.Volume/ref)
	if strength > 1 {
		strength = 1
	}

	pip := d.Pip
	if pip <= 0 {
		pip = 0.1
	}

	at := curr.TimeClose
	if at.IsZero() {
		at = curr.TimeOpen
	}

	return models.Sweep{
		Type:           kind,
		BreachedLevel:  level,
		BreakExtreme:   extreme,
		RejectionClose: curr.Close,
		OvershootPips:  models.RoundPrice(overshoot/pip, 1),
		Volume:         curr.Volume,
		Time:           at,
		Strength:       models.RoundPrice(strength, 4),
	}
}

func ratio(v, scale float64) float64 {
	if scale <= 0 {
		if v > 0 {
			return 1
		}
		return 0
	}
	return models.Clamp01(v / scale)
}

// Strong filters sweeps whose strength exceeds minStrength
func Strong(sweeps []models.Sweep, minStrength float64) []models.Sweep {
	out := make([]models.Sweep, 0, len(sweeps))
	for _, s := range sweeps {
		if s.Strength > minStrength {
			out = append(out, s)
		}
	}
	return out
}
