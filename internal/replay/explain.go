package replay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// FallbackExplanation replaces an explanation that could not be produced
const FallbackExplanation = "Explanation unavailable for this bar."

// Explainer renders a timeline entry for humans
type Explainer interface {
	Explain(entry models.TimelineEntry) (models.Explanation, error)
}

// ExplainerFunc adapts a function to Explainer
type ExplainerFunc func(models.TimelineEntry) (models.Explanation, error)

// Explain calls f
func (f ExplainerFunc) Explain(e models.TimelineEntry) (models.Explanation, error) { return f(e) }

// TextExplainer is the default explainer
type TextExplainer struct{}

// Explain summarizes what the bar showed and why it did or did not signal
func (TextExplainer) Explain(e models.TimelineEntry) (models.Explanation, error) {
	if e.Kind == models.TimelineGap {
		return models.Explanation{
			Summary: fmt.Sprintf("%s gap: %d bar(s) missing, state held", e.Time.Format("2006-01-02 15:04"), e.MissingBars),
			Details: []string{},
		}, nil
	}
	if e.Bar == nil || e.Context == nil {
		return models.Explanation{}, fmt.Errorf("%w: entry without bar or context", models.ErrConsumer)
	}

	ctx := e.Context
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s close %s: ", e.Time.Format("2006-01-02 15:04"), ctx.Session, strconv.FormatFloat(e.Bar.Close, 'f', 2, 64))
	switch {
	case e.Decision != nil:
		fmt.Fprintf(&b, "%s %s at %s", e.Decision.Action, e.Decision.Direction, strconv.FormatFloat(e.Decision.Confidence, 'f', 4, 64))
	case e.Scored != nil:
		fmt.Fprintf(&b, "%s %s filtered (%s)", e.Scored.Action, strconv.FormatFloat(e.Scored.Confidence, 'f', 4, 64), strings.Join(e.FilterReasons, ", "))
	case len(e.FilterReasons) > 0:
		fmt.Fprintf(&b, "blocked (%s)", strings.Join(e.FilterReasons, ", "))
	default:
		b.WriteString("no decision")
	}

	details := []string{}
	if n := len(ctx.AbsorptionZones); n > 0 {
		details = append(details, fmt.Sprintf("%d absorption zone(s), strongest at %s", n, strconv.FormatFloat(ctx.AbsorptionZones[0].Price, 'f', 2, 64)))
	}
	for _, s := range ctx.Sweeps {
		details = append(details, fmt.Sprintf("%s through %s", s.Type, strconv.FormatFloat(s.BreachedLevel, 'f', 2, 64)))
	}
	if n := len(ctx.MemoryZones); n > 0 {
		details = append(details, fmt.Sprintf("%d memory zone(s) nearby, iceberg score %s", n, strconv.FormatFloat(ctx.IcebergPersistenceScore, 'f', 2, 64)))
	}
	if ctx.KillZone {
		details = append(details, "kill zone")
	}
	if ctx.News.Active {
		details = append(details, fmt.Sprintf("%s impact news: %s", ctx.News.Impact, ctx.News.Event))
	}
	if e.Scored != nil {
		details = append(details, e.Scored.Reasons...)
	}
	if e.Signal != nil {
		details = append(details, fmt.Sprintf("signal %s %s", e.Signal.ID[:8], e.Signal.State))
	}
	return models.Explanation{Summary: b.String(), Details: details}, nil
}
