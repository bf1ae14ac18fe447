// Package shabbat evaluates the weekly restricted window during which
// Shabbat-compliant donations are not submitted to a gateway.
package shabbat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

var ErrInvalidWeekTime = errors.New("invalid week time, expected '<weekday> HH:MM'")

const minutesPerWeek = 7 * 24 * 60

// WeekTime is a wall clock instant inside a week
type WeekTime struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

func (w WeekTime) minutes() int {
	return int(w.Weekday)*24*60 + w.Hour*60 + w.Minute
}

func (w WeekTime) String() string {
	return fmt.Sprintf("%s %02d:%02d", strings.ToLower(w.Weekday.String()), w.Hour, w.Minute)
}

// ParseWeekTime parses values such as "friday 18:00"
func ParseWeekTime(s string) (w WeekTime, err error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return w, fmt.Errorf("%w: %q", ErrInvalidWeekTime, s)
	}

	found := false
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.ToLower(day.String()) == fields[0] {
			w.Weekday = day
			found = true
			break
		}
	}
	if !found {
		return w, fmt.Errorf("%w: unknown weekday %q", ErrInvalidWeekTime, fields[0])
	}

	_, err = fmt.Sscanf(fields[1], "%d:%d", &w.Hour, &w.Minute)
	if err != nil || w.Hour < 0 || w.Hour > 23 || w.Minute < 0 || w.Minute > 59 {
		return w, fmt.Errorf("%w: bad time %q", ErrInvalidWeekTime, fields[1])
	}
	return w, nil
}

// Window is a weekly [Start, End) range evaluated in Location. The range may
// wrap around the end of the week. The zero Window never restricts.
type Window struct {
	Location *time.Location
	Start    WeekTime
	End      WeekTime
}

// Default is Friday 18:00 until Saturday 20:00 in Jerusalem time
func Default() (w Window, err error) {
	location, err := time.LoadLocation("Asia/Jerusalem")
	if err != nil {
		return w, fmt.Errorf("failed to load location: %w", err)
	}
	w = Window{
		Location: location,
		Start:    WeekTime{Weekday: time.Friday, Hour: 18},
		End:      WeekTime{Weekday: time.Saturday, Hour: 20},
	}
	return w, nil
}

func (w Window) Enabled() bool {
	return w.Location != nil && w.Start != w.End
}

// Restricted reports whether t falls inside the window
func (w Window) Restricted(t time.Time) bool {
	if !w.Enabled() {
		return false
	}
	local := t.In(w.Location)
	m := WeekTime{Weekday: local.Weekday(), Hour: local.Hour(), Minute: local.Minute()}.minutes()
	start, end := w.Start.minutes(), w.End.minutes()

	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// Ends returns the instant the window containing t closes. When t is not
// restricted it returns t.
func (w Window) Ends(t time.Time) (end time.Time) {
	if !w.Restricted(t) {
		return t
	}
	local := t.In(w.Location)
	daysAhead := (int(w.End.Weekday) - int(local.Weekday()) + 7) % 7

	end = time.Date(local.Year(), local.Month(), local.Day()+daysAhead, w.End.Hour, w.End.Minute, 0, 0, w.Location)
	if !end.After(local) {
		end = end.AddDate(0, 0, 7)
	}
	return end
}

func (w Window) String() string {
	if !w.Enabled() {
		return "disabled"
	}
	return fmt.Sprintf("%s - %s (%s)", w.Start, w.End, w.Location)
}
