package session

import (
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// window is a half-open [start, end) span measured from UTC midnight
type window struct {
	start time.Duration
	end   time.Duration
}

func (w window) contains(t time.Time) bool {
	t = t.UTC()
	offset := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
	return offset >= w.start && offset < w.end
}

// Clock classifies timestamps into sessions and kill zones. The session
// clock is plain UTC with no daylight-saving or holiday exceptions.
type Clock struct {
	sessions  []namedWindow
	killZones []window
}

type namedWindow struct {
	session models.Session
	window
}

// DefaultClock uses ASIA 00:00-06:00, LONDON 06:00-13:00, NEW_YORK 13:00-21:00
func DefaultClock() *Clock {
	c, _ := NewClock(config.SessionsConfig{
		Asia:    "00:00-06:00",
		London:  "06:00-13:00",
		NewYork: "13:00-21:00",
	})
	return c
}

// NewClock builds a clock from configured session boundaries
func NewClock(cfg config.SessionsConfig) (*Clock, error) {
	c := &Clock{
		killZones: []window{
			{start: 7 * time.Hour, end: 10 * time.Hour},
			{start: 13*time.Hour + 30*time.Minute, end: 16 * time.Hour},
		},
	}
	for _, s := range []struct {
		session models.Session
		bounds  string
	}{
		{models.SessionAsia, cfg.Asia},
		{models.SessionLondon, cfg.London},
		{models.SessionNewYork, cfg.NewYork},
	} {
		start, end, err := config.ParseWindow(s.bounds)
		if err != nil {
			return nil, err
		}
		c.sessions = append(c.sessions, namedWindow{session: s.session, window: window{start: start, end: end}})
	}
	return c, nil
}

// Session returns the session containing t
func (c *Clock) Session(t time.Time) models.Session {
	for _, s := range c.sessions {
		if s.contains(t) {
			return s.session
		}
	}
	return models.SessionOff
}

// KillZone reports whether t falls in a kill zone; all of OFF_SESSION counts
func (c *Clock) KillZone(t time.Time) bool {
	if c.Session(t) == models.SessionOff {
		return true
	}
	for _, w := range c.killZones {
		if w.contains(t) {
			return true
		}
	}
	return false
}
