package session

import (
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Calendars yields the calendar valid at a point in time
type Calendars interface {
	Calendar(now time.Time) *Calendar
}

// Static wraps a fixed calendar
type Static struct{ Cal *Calendar }

// Calendar returns the wrapped calendar
func (s Static) Calendar(time.Time) *Calendar { return s.Cal }

// Annotation is the session, kill zone and news state of one timestamp
type Annotation struct {
	Session  models.Session
	KillZone bool
	News     models.NewsWindow
}

// Manager annotates timestamps. It never reads the wall clock; every call
// takes the time it classifies.
type Manager struct {
	clock *Clock
	news  Calendars
}

// NewManager creates a manager; a nil news source means no events
func NewManager(clock *Clock, news Calendars) *Manager {
	if clock == nil {
		clock = DefaultClock()
	}
	if news == nil {
		news = Static{Cal: NewCalendar(nil, DefaultWindowMinutes)}
	}
	return &Manager{clock: clock, news: news}
}

// Annotate classifies t
func (m *Manager) Annotate(t time.Time) Annotation {
	return Annotation{
		Session:  m.clock.Session(t),
		KillZone: m.clock.KillZone(t),
		News:     m.news.Calendar(t).Window(t),
	}
}
