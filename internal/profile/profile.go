package profile

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// DefaultValueAreaPct is the conventional 70% value area
const DefaultValueAreaPct = 0.70

// MaxLevels bounds the histogram a set of bars may spread over
const MaxLevels = 100000

// Level is one price bucket of the histogram
type Level struct {
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
}

// Profile is a volume-at-price summary
type Profile struct {
	POC             float64 `json:"poc"`
	VAH             float64 `json:"vah"`
	VAL             float64 `json:"val"`
	VWAP            float64 `json:"vwap"`
	Histogram       []Level `json:"histogram"`
	TotalVolume     float64 `json:"total_volume"`
	TotalBuyVolume  float64 `json:"total_buy_volume"`
	TotalSellVolume float64 `json:"total_sell_volume"`
}

type builder struct {
	tick   decimal.Decimal
	levels map[string]*Level
	pv     decimal.Decimal
	buy    float64
	sell   float64
	total  float64
}

func newBuilder(tickSize float64) (*builder, error) {
	if tickSize <= 0 {
		return nil, fmt.Errorf("%w: tick size must be positive, got %v", models.ErrInvalidInput, tickSize)
	}
	return &builder{
		tick:   decimal.NewFromFloat(tickSize),
		levels: make(map[string]*Level),
		pv:     decimal.Zero,
	}, nil
}

func (b *builder) bucket(price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Div(b.tick).Round(0).Mul(b.tick)
}

func (b *builder) add(price float64, bucket decimal.Decimal, buy, sell float64) {
	key := bucket.String()
	lvl, ok := b.levels[key]
	if !ok {
		p, _ := bucket.Float64()
		lvl = &Level{Price: p}
		b.levels[key] = lvl
	}
	vol := buy + sell
	lvl.BuyVolume += buy
	lvl.SellVolume += sell
	lvl.Volume += vol
	b.buy += buy
	b.sell += sell
	b.total += vol
	b.pv = b.pv.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(vol)))
}

// Compute builds a profile from executed ticks bucketed to tickSize.
// valueAreaPct outside (0, 1] falls back to 70%.
func Compute(ticks []models.Tick, tickSize, valueAreaPct float64) (Profile, error) {
	b, err := newBuilder(tickSize)
	if err != nil {
		return Profile{}, err
	}
	for _, t := range ticks {
		if t.Size <= 0 {
			continue
		}
		size := float64(t.Size)
		if t.Side == models.SideBuy {
			b.add(t.Price, b.bucket(t.Price), size, 0)
		} else {
			b.add(t.Price, b.bucket(t.Price), 0, size)
		}
	}
	return b.finish(valueAreaPct), nil
}

// FromBars approximates a profile from OHLCV bars by spreading each bar's
// volume evenly over the tick levels between its low and high. Up bars
// count as buying, down bars as selling, doji bars split evenly.
func FromBars(bars []models.Bar, tickSize, valueAreaPct float64) (Profile, error) {
	b, err := newBuilder(tickSize)
	if err != nil {
		return Profile{}, err
	}
	for _, bar := range bars {
		if bar.Volume <= 0 {
			continue
		}
		low, high := b.bucket(bar.Low), b.bucket(bar.High)
		steps := high.Sub(low).Div(b.tick).Round(0).IntPart() + 1
		if steps < 1 {
			steps = 1
		}
		if steps > MaxLevels || int64(len(b.levels))+steps > 2*MaxLevels {
			return Profile{}, fmt.Errorf("%w: tick size %v spreads bars over more than %d levels", models.ErrInvalidInput, tickSize, MaxLevels)
		}
		share := bar.Volume / float64(steps)
		buyFrac := 0.5
		switch {
		case bar.Close > bar.Open:
			buyFrac = 1
		case bar.Close < bar.Open:
			buyFrac = 0
		}
		for i := int64(0); i < steps; i++ {
			bucket := low.Add(b.tick.Mul(decimal.NewFromInt(i)))
			p, _ := bucket.Float64()
			b.add(p, bucket, share*buyFrac, share*(1-buyFrac))
		}
	}
	return b.finish(valueAreaPct), nil
}

func (b *builder) finish(valueAreaPct float64) Profile {
	if valueAreaPct <= 0 || valueAreaPct > 1 {
		valueAreaPct = DefaultValueAreaPct
	}
	p := Profile{
		Histogram:       make([]Level, 0, len(b.levels)),
		TotalVolume:     b.total,
		TotalBuyVolume:  b.buy,
		TotalSellVolume: b.sell,
	}
	for _, lvl := range b.levels {
		p.Histogram = append(p.Histogram, *lvl)
	}
	sort.Slice(p.Histogram, func(i, j int) bool { return p.Histogram[i].Price < p.Histogram[j].Price })
	if b.total == 0 || len(p.Histogram) == 0 {
		return p
	}

	vwap, _ := b.pv.Div(decimal.NewFromFloat(b.total)).Round(6).Float64()
	p.VWAP = vwap

	// lowest price wins a volume tie
	poc := 0
	for i, lvl := range p.Histogram {
		if lvl.Volume > p.Histogram[poc].Volume {
			poc = i
		}
	}
	p.POC = p.Histogram[poc].Price

	lo, hi := ValueArea(p.Histogram, poc, valueAreaPct*b.total)
	p.VAL = p.Histogram[lo].Price
	p.VAH = p.Histogram[hi].Price
	return p
}

// ValueArea grows a range outward from poc, taking the heavier neighbour
// each step (above on ties), until it holds at least target volume.
// It returns the inclusive index bounds.
func ValueArea(levels []Level, poc int, target float64) (int, int) {
	lo, hi := poc, poc
	acc := levels[poc].Volume
	for acc < target && (lo > 0 || hi < len(levels)-1) {
		var up, down float64 = -1, -1
		if hi < len(levels)-1 {
			up = levels[hi+1].Volume
		}
		if lo > 0 {
			down = levels[lo-1].Volume
		}
		if up >= down {
			hi++
			acc += up
		} else {
			lo--
			acc += down
		}
	}
	return lo, hi
}
