package signals

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Filter rejection reasons
const (
	ReasonOffSession        = "off_session"
	ReasonKillZone          = "kill_zone"
	ReasonNewsBlocked       = "news_blocked"
	ReasonLowIceberg        = "low_iceberg_persistence"
	ReasonFeedStale         = "feed_stale"
	ReasonLowConfidence     = "low_confidence"
	ReasonNewsMediumLowConf = "news_medium_low_confidence"
	ReasonNotActionable     = "not_actionable"
)

const (
	// FloorConfidence is the lowest confidence any preset may accept
	FloorConfidence = 0.70
	// MediumNewsConfidence is required while a MEDIUM impact window is open
	MediumNewsConfidence = 0.80
)

// Thresholds gate a decision
type Thresholds struct {
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	MinIceberg    float64 `yaml:"min_iceberg" json:"min_iceberg"`
}

// Preset holds default thresholds plus per-session overrides
type Preset struct {
	Name     string                        `yaml:"-" json:"name"`
	Default  Thresholds                    `yaml:",inline" json:"default"`
	Sessions map[models.Session]Thresholds `yaml:"sessions,omitempty" json:"sessions,omitempty"`
}

// For returns the thresholds of session s
func (p Preset) For(s models.Session) Thresholds {
	if t, ok := p.Sessions[s]; ok {
		return t
	}
	return p.Default
}

func (p Preset) validate() error {
	check := func(label string, t Thresholds) error {
		if t.MinConfidence < FloorConfidence || t.MinConfidence > 1 {
			return fmt.Errorf("%w: preset %s %s min_confidence %.2f outside [%.2f, 1]",
				models.ErrConfigInvalid, p.Name, label, t.MinConfidence, FloorConfidence)
		}
		if t.MinIceberg < 0 || t.MinIceberg > 1 {
			return fmt.Errorf("%w: preset %s %s min_iceberg %.2f outside [0, 1]",
				models.ErrConfigInvalid, p.Name, label, t.MinIceberg)
		}
		return nil
	}
	if err := check("default", p.Default); err != nil {
		return err
	}
	for s, t := range p.Sessions {
		if err := check(string(s), t); err != nil {
			return err
		}
	}
	return nil
}

// BuiltinPresets returns the strict, normal and lenient presets. Asia is
// thin for gold so every preset asks more of it.
func BuiltinPresets() map[string]Preset {
	return map[string]Preset{
		"strict": {
			Name:    "strict",
			Default: Thresholds{MinConfidence: 0.80, MinIceberg: 0.6},
			Sessions: map[models.Session]Thresholds{
				models.SessionAsia: {MinConfidence: 0.85, MinIceberg: 0.8},
			},
		},
		"normal": {
			Name:    "normal",
			Default: Thresholds{MinConfidence: 0.70, MinIceberg: 0.5},
			Sessions: map[models.Session]Thresholds{
				models.SessionAsia: {MinConfidence: 0.75, MinIceberg: 0.6},
			},
		},
		"lenient": {
			Name:    "lenient",
			Default: Thresholds{MinConfidence: 0.70, MinIceberg: 0.3},
			Sessions: map[models.Session]Thresholds{
				models.SessionAsia: {MinConfidence: 0.70, MinIceberg: 0.4},
			},
		},
	}
}

type presetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// LoadPresets merges presets from a YAML file over the builtins
func LoadPresets(path string) (map[string]Preset, error) {
	presets := BuiltinPresets()
	if path == "" {
		return presets, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read presets: %v", models.ErrConfigInvalid, err)
	}
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode presets: %v", models.ErrConfigInvalid, err)
	}

	names := make([]string, 0, len(f.Presets))
	for name := range f.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := f.Presets[name]
		p.Name = strings.ToLower(name)
		if err := p.validate(); err != nil {
			return nil, err
		}
		presets[p.Name] = p
	}
	return presets, nil
}

// Filter gates decisions before they reach the lifecycle. It never touches
// the scorer.
type Filter struct {
	preset          Preset
	allowOffSession bool
	allowKillZone   bool
}

// NewFilter creates a filter with the given preset
func NewFilter(preset Preset, allowOffSession, allowKillZone bool) *Filter {
	return &Filter{preset: preset, allowOffSession: allowOffSession, allowKillZone: allowKillZone}
}

// NewFilterFromConfig resolves the configured preset
func NewFilterFromConfig(cfg config.FiltersConfig) (*Filter, error) {
	presets, err := LoadPresets(cfg.PresetsPath)
	if err != nil {
		return nil, err
	}
	p, ok := presets[strings.ToLower(cfg.Preset)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown filter preset %q", models.ErrConfigInvalid, cfg.Preset)
	}
	return NewFilter(p, cfg.AllowOffSession, cfg.AllowKillZone), nil
}

// Preset returns the active preset
func (f *Filter) Preset() Preset { return f.preset }

// PreCheck rejects a context before scoring
func (f *Filter) PreCheck(ctx models.ScoringContext) []string {
	var reasons []string
	if ctx.FeedStale {
		reasons = append(reasons, ReasonFeedStale)
	}
	if ctx.Session == models.SessionOff && !f.allowOffSession {
		reasons = append(reasons, ReasonOffSession)
	}
	if ctx.KillZone && !f.allowKillZone {
		reasons = append(reasons, ReasonKillZone)
	}
	if ctx.News.Active && ctx.News.Impact == models.ImpactHigh {
		reasons = append(reasons, ReasonNewsBlocked)
	}
	if ctx.IcebergPersistenceScore < f.preset.For(ctx.Session).MinIceberg {
		reasons = append(reasons, ReasonLowIceberg)
	}
	return reasons
}

// PostCheck rejects a scored decision
func (f *Filter) PostCheck(ctx models.ScoringContext, d models.Decision) []string {
	var reasons []string
	if d.Confidence < max(f.preset.For(ctx.Session).MinConfidence, FloorConfidence) {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if ctx.News.Active && ctx.News.Impact == models.ImpactMedium && d.Confidence < MediumNewsConfidence {
		reasons = append(reasons, ReasonNewsMediumLowConf)
	}
	if d.Action != models.ActionExecute {
		reasons = append(reasons, ReasonNotActionable)
	}
	return reasons
}
