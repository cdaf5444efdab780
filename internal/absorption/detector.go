package absorption

import (
	"sort"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

const (
	// DefaultThreshold is the minimum bucket volume in contracts
	DefaultThreshold int64 = 400
	// DefaultBucketDecimals rounds prices to 0.1
	DefaultBucketDecimals = 1

	maxStrength    = 3.0
	buyDominance   = 0.6
	sellDominance  = 0.4
	relativeFactor = 1.5
	fullTradeCount = 10.0
)

// Detector clusters ticks by price bucket. It holds no state between calls.
type Detector struct {
	Threshold      int64
	BucketDecimals int
}

// NewDetector creates a detector; non-positive arguments fall back to defaults
func NewDetector(threshold int64, bucketDecimals int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if bucketDecimals < 0 {
		bucketDecimals = DefaultBucketDecimals
	}
	return &Detector{Threshold: threshold, BucketDecimals: bucketDecimals}
}

type bucket struct {
	price  float64
	total  int64
	buy    int64
	sell   int64
	trades int64
	first  models.Tick
	last   models.Tick
}

func (d *Detector) bucketize(ticks []models.Tick) []*bucket {
	byPrice := make(map[float64]*bucket)
	order := make([]*bucket, 0)
	for _, t := range ticks {
		if t.Size <= 0 || t.Price <= 0 {
			continue
		}
		p := models.RoundPrice(t.Price, d.BucketDecimals)
		b, ok := byPrice[p]
		if !ok {
			b = &bucket{price: p, first: t, last: t}
			byPrice[p] = b
			order = append(order, b)
		}
		b.total += t.Size
		switch t.Side {
		case models.SideBuy:
			b.buy += t.Size
		case models.SideSell:
			b.sell += t.Size
		}
		b.trades++
		if t.Timestamp.Before(b.first.Timestamp) {
			b.first = t
		}
		if t.Timestamp.After(b.last.Timestamp) {
			b.last = t
		}
	}
	return order
}

// Detect emits a zone for every bucket whose volume reaches the threshold,
// sorted by total volume descending.
func (d *Detector) Detect(ticks []models.Tick) []models.AbsorptionZone {
	zones := make([]models.AbsorptionZone, 0)
	for _, b := range d.bucketize(ticks) {
		if b.total < d.Threshold {
			continue
		}
		zones = append(zones, zone(b, float64(b.total)/float64(d.Threshold)))
	}
	sortZones(zones)
	return zones
}

// DetectRelative flags buckets above 1.5x the mean bucket volume of the same
// call and above minVolume. It is used when no baseline threshold applies.
func (d *Detector) DetectRelative(ticks []models.Tick, minVolume int64) []models.AbsorptionZone {
	buckets := d.bucketize(ticks)
	zones := make([]models.AbsorptionZone, 0)
	if len(buckets) == 0 {
		return zones
	}

	var sum int64
	for _, b := range buckets {
		sum += b.total
	}
	mean := float64(sum) / float64(len(buckets))
	cut := relativeFactor * mean

	for _, b := range buckets {
		if float64(b.total) <= cut || b.total <= minVolume {
			continue
		}
		zones = append(zones, zone(b, float64(b.total)/cut))
	}
	sortZones(zones)
	return zones
}

func zone(b *bucket, ratio float64) models.AbsorptionZone {
	strength := ratio
	if strength > maxStrength {
		strength = maxStrength
	}

	dominance := models.DirectionNeutral
	buyShare := float64(b.buy) / float64(b.total)
	switch {
	case buyShare > buyDominance:
		dominance = models.DirectionBuy
	case buyShare < sellDominance:
		dominance = models.DirectionSell
	}

	return models.AbsorptionZone{
		Price:       b.price,
		TotalVolume: b.total,
		BuyVolume:   b.buy,
		SellVolume:  b.sell,
		TradeCount:  b.trades,
		FirstSeen:   b.first.Timestamp,
		LastSeen:    b.last.Timestamp,
		Dominance:   dominance,
		Strength:    strength,
		Confidence:  confidence(strength, b),
	}
}

// confidence blends relative size, one-sidedness and repetition onto [0, 1]
func confidence(strength float64, b *bucket) float64 {
	imbalance := 0.0
	if b.total > 0 {
		diff := b.buy - b.sell
		if diff < 0 {
			diff = -diff
		}
		imbalance = float64(diff) / float64(b.total)
	}
	repetition := models.Clamp01(float64(b.trades) / fullTradeCount)
	c := 0.5*(strength/maxStrength) + 0.3*imbalance + 0.2*repetition
	return models.RoundPrice(models.Clamp01(c), 4)
}

func sortZones(zones []models.AbsorptionZone) {
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].TotalVolume != zones[j].TotalVolume {
			return zones[i].TotalVolume > zones[j].TotalVolume
		}
		return zones[i].Price < zones[j].Price
	})
}

// Strong filters zones whose strength exceeds minStrength
func Strong(zones []models.AbsorptionZone, minStrength float64) []models.AbsorptionZone {
	out := make([]models.AbsorptionZone, 0, len(zones))
	for _, z := range zones {
		if z.Strength > minStrength {
			out = append(out, z)
		}
	}
	return out
}

// Near keeps zones within tolerance of price
func Near(zones []models.AbsorptionZone, price, tolerance float64) []models.AbsorptionZone {
	out := make([]models.AbsorptionZone, 0, len(zones))
	for _, z := range zones {
		d := z.Price - price
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			out = append(out, z)
		}
	}
	return out
}
