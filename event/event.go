package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

var (
	ErrStartAfterEnd = errors.New("event start time is after end time")
	ErrUnsetTime     = errors.New("unset event start or end time")
	ErrNoEventName   = errors.New("no event name")
)

// Event is a named time span with demand behaviour worth modelling separately, e.g. a public
// holiday.
type Event struct {
	Name  string
	Start time.Time
	End   time.Time
}

func NewEvent(name string, start, end time.Time) Event {
	return Event{
		Name:  name,
		Start: start,
		End:   end,
	}
}

func (e *Event) Valid() error {
	if e.Start.IsZero() || e.End.IsZero() {
		return ErrUnsetTime
	}
	if e.Start.After(e.End) {
		return ErrStartAfterEnd
	}
	if e.Name == "" {
		return ErrNoEventName
	}
	return nil
}

// Contains reports whether t falls within [Start, End)
func (e *Event) Contains(t time.Time) bool {
	return !t.Before(e.Start) && t.Before(e.End)
}

// Holiday returns one event per observed occurrence of hol between start and end, expressed
// as whole days in the location of start and padded by durBefore and durAfter.
func Holiday(hol *cal.Holiday, start, end time.Time, durBefore, durAfter time.Duration) []Event {
	events := []Event{}
	for i := start.Year(); i <= end.Year(); i++ {
		_, observed := hol.Calc(i)
		observed = wallDate(observed, start.Location())

		if (observed.After(start) || observed.Equal(start)) && (observed.Before(end) || observed.Equal(end)) {
			events = append(events, Event{
				Name:  strings.ReplaceAll(fmt.Sprintf("%s_%d", hol.Name, i), " ", "_"),
				Start: observed.Add(-durBefore),
				End:   observed.AddDate(0, 0, 1).Add(durAfter),
			})
		}
	}
	return events
}

func wallDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// USFederal are the federal holidays with a marked effect on fuel demand
var USFederal = []*cal.Holiday{
	us.NewYear,
	us.MlkDay,
	us.PresidentsDay,
	us.MemorialDay,
	us.IndependenceDay,
	us.LaborDay,
	us.ThanksgivingDay,
	us.ChristmasDay,
}

// Calendar answers holiday membership for calendar days. Observed dates are computed once
// per year and cached.
type Calendar struct {
	holidays []*cal.Holiday

	mu    sync.Mutex
	years map[int]map[string]string
}

// NewCalendar creates a calendar over the given holidays. With no holidays the US federal
// set is used.
func NewCalendar(holidays ...*cal.Holiday) *Calendar {
	if len(holidays) == 0 {
		holidays = USFederal
	}
	return &Calendar{
		holidays: holidays,
		years:    make(map[int]map[string]string),
	}
}

// Holiday returns the name of the holiday observed on the calendar day of t
func (c *Calendar) Holiday(t time.Time) (string, bool) {
	day := t.Format(time.DateOnly)
	for _, y := range []int{t.Year(), t.Year() + 1} {
		if name, ok := c.year(y)[day]; ok {
			return name, true
		}
	}
	return "", false
}

// IsHoliday reports whether the calendar day of t is an observed holiday
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.Holiday(t)
	return ok
}

// Events lists the observed holidays between start and end in chronological order
func (c *Calendar) Events(start, end time.Time) []Event {
	var events []Event
	for _, hol := range c.holidays {
		events = append(events, Holiday(hol, start, end, 0, 0)...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
	return events
}

func (c *Calendar) year(y int) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if days, exists := c.years[y]; exists {
		return days
	}
	days := make(map[string]string, len(c.holidays))
	for _, hol := range c.holidays {
		_, observed := hol.Calc(y)
		if observed.IsZero() {
			continue
		}
		// observed dates can fall in the neighbouring year, e.g. new year on a saturday
		days[observed.Format(time.DateOnly)] = hol.Name
	}
	c.years[y] = days
	return days
}
