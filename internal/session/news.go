package session

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

const (
	preEventWindow       = 5 * time.Minute
	DefaultWindowMinutes = 10
)

// Event is one scheduled economic release
type Event struct {
	Time   time.Time         `json:"time"`
	Name   string            `json:"name"`
	Impact models.NewsImpact `json:"impact"`
}

var highImpact = []string{"CPI", "NFP", "NON-FARM", "NONFARM", "FOMC", "FED RATE", "INTEREST RATE"}
var mediumImpact = []string{"PMI", "GDP", "RETAIL SALES", "PPI", "JOBLESS", "ISM"}

// DefaultImpact infers the impact of an event from its name
func DefaultImpact(name string) models.NewsImpact {
	upper := strings.ToUpper(name)
	for _, k := range highImpact {
		if strings.Contains(upper, k) {
			return models.ImpactHigh
		}
	}
	for _, k := range mediumImpact {
		if strings.Contains(upper, k) {
			return models.ImpactMedium
		}
	}
	return models.ImpactLow
}

// Calendar is an ordered list of events with the in-window rule
// [event - 5m, event + window minutes].
type Calendar struct {
	events []Event
	after  time.Duration
}

// NewCalendar sorts events and fills missing impacts from their names
func NewCalendar(events []Event, windowMinutes int) *Calendar {
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}
	sorted := make([]Event, len(events))
	copy(sorted, events)
	for i := range sorted {
		sorted[i].Time = sorted[i].Time.UTC()
		if sorted[i].Impact == "" {
			sorted[i].Impact = DefaultImpact(sorted[i].Name)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	return &Calendar{events: sorted, after: time.Duration(windowMinutes) * time.Minute}
}

// Events returns a copy of the calendar
func (c *Calendar) Events() []Event {
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Window reports the news state at t. When several events overlap the
// highest impact wins, then the nearest event.
func (c *Calendar) Window(t time.Time) models.NewsWindow {
	if c == nil {
		return models.NewsWindow{}
	}
	t = t.UTC()

	// Events that can contain t start no earlier than t - after
	i := sort.Search(len(c.events), func(i int) bool { return !c.events[i].Time.Before(t.Add(-c.after)) })

	var best *Event
	for ; i < len(c.events); i++ {
		ev := &c.events[i]
		if ev.Time.Add(-preEventWindow).After(t) {
			break
		}
		if best == nil || ev.Impact.Rank() > best.Impact.Rank() ||
			(ev.Impact.Rank() == best.Impact.Rank() && absDur(t.Sub(ev.Time)) < absDur(t.Sub(best.Time))) {
			best = ev
		}
	}
	if best == nil {
		return models.NewsWindow{}
	}
	return models.NewsWindow{
		Active:       true,
		Impact:       best.Impact,
		Event:        best.Name,
		MinutesSince: models.RoundPrice(t.Sub(best.Time).Minutes(), 2),
	}
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

type calendarFile struct {
	Events []struct {
		Time   string `yaml:"time"`
		Name   string `yaml:"name"`
		Impact string `yaml:"impact"`
	} `yaml:"events"`
}

// LoadCalendar reads a YAML calendar file
func LoadCalendar(path string, windowMinutes int) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read news calendar: %w", err)
	}
	return ParseCalendar(data, windowMinutes)
}

// ParseCalendar decodes a YAML calendar document
func ParseCalendar(data []byte, windowMinutes int) (*Calendar, error) {
	var f calendarFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode news calendar: %v", models.ErrInvalidInput, err)
	}
	events := make([]Event, 0, len(f.Events))
	for i, e := range f.Events {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Time))
		if err != nil {
			return nil, fmt.Errorf("%w: event %d time %q", models.ErrInvalidInput, i, e.Time)
		}
		impact := models.NewsImpact(strings.ToUpper(strings.TrimSpace(e.Impact)))
		if impact != "" && impact.Rank() == 0 {
			return nil, fmt.Errorf("%w: event %d impact %q", models.ErrInvalidInput, i, e.Impact)
		}
		events = append(events, Event{Time: at, Name: e.Name, Impact: impact})
	}
	return NewCalendar(events, windowMinutes), nil
}

// CalendarSource reloads a calendar file at most once per refresh interval
type CalendarSource struct {
	path          string
	windowMinutes int
	refresh       time.Duration

	mu       sync.Mutex
	calendar *Calendar
	loadedAt time.Time
	modTime  time.Time
	logger   *logrus.Entry
}

// NewCalendarSource creates a source; an empty path yields an empty calendar
func NewCalendarSource(path string, windowMinutes int, refresh time.Duration, logger *logrus.Logger) *CalendarSource {
	return &CalendarSource{
		path:          path,
		windowMinutes: windowMinutes,
		refresh:       refresh,
		calendar:      NewCalendar(nil, windowMinutes),
		logger:        logger.WithField("component", "news-calendar"),
	}
}

// Calendar returns the cached calendar, reloading when the refresh interval
// has elapsed and the file changed. Load failures keep the previous calendar.
func (s *CalendarSource) Calendar(now time.Time) *Calendar {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return s.calendar
	}
	if !s.loadedAt.IsZero() && now.Sub(s.loadedAt) < s.refresh {
		return s.calendar
	}
	s.loadedAt = now

	info, err := os.Stat(s.path)
	if err != nil {
		s.logger.WithError(err).Warn("News calendar unavailable")
		return s.calendar
	}
	if info.ModTime().Equal(s.modTime) {
		return s.calendar
	}

	cal, err := LoadCalendar(s.path, s.windowMinutes)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load news calendar")
		return s.calendar
	}
	s.calendar = cal
	s.modTime = info.ModTime()
	s.logger.WithField("events", len(cal.events)).Info("News calendar loaded")
	return s.calendar
}
