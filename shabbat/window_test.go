package shabbat_test

import (
	"testing"
	"time"

	"anarchy.ttfm/donations/shabbat"
	"github.com/stretchr/testify/assert"
)

func Test_ParseWeekTime(t *testing.T) {
	t.Run("Succeed", func(t *testing.T) {
		assertions := assert.New(t)

		w, err := shabbat.ParseWeekTime("Friday 18:30")
		assertions.Nil(err)
		assertions.Equal(shabbat.WeekTime{Weekday: time.Friday, Hour: 18, Minute: 30}, w)
		assertions.Equal("friday 18:30", w.String())
	})
	t.Run("Fail", func(t *testing.T) {
		for _, s := range []string{"", "friday", "funday 10:00", "friday 25:00", "friday 10:61", "friday ten"} {
			_, err := shabbat.ParseWeekTime(s)
			assert.ErrorIs(t, err, shabbat.ErrInvalidWeekTime, s)
		}
	})
}

func Test_Window(t *testing.T) {
	window, err := shabbat.Default()
	if !assert.Nil(t, err) {
		return
	}
	jerusalem := window.Location

	// 2026-10-16 is a Friday
	friday := func(hour, minute int) time.Time {
		return time.Date(2026, 10, 16, hour, minute, 0, 0, jerusalem)
	}

	t.Run("Restricted", func(t *testing.T) {
		assertions := assert.New(t)

		assertions.False(window.Restricted(friday(17, 59)))
		assertions.True(window.Restricted(friday(18, 0)))
		assertions.True(window.Restricted(friday(23, 0)))
		assertions.True(window.Restricted(friday(18, 0).AddDate(0, 0, 1).Add(time.Hour)))
		assertions.False(window.Restricted(time.Date(2026, 10, 17, 20, 0, 0, 0, jerusalem)))
		assertions.False(window.Restricted(time.Date(2026, 10, 19, 12, 0, 0, 0, jerusalem)))
	})
	t.Run("Other timezones are converted", func(t *testing.T) {
		assertions := assert.New(t)

		// 16:00 UTC on a Friday is 19:00 in Jerusalem (IDT, UTC+3)
		assertions.True(window.Restricted(time.Date(2026, 10, 16, 16, 0, 0, 0, time.UTC)))
		assertions.False(window.Restricted(time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)))
	})
	t.Run("Ends", func(t *testing.T) {
		assertions := assert.New(t)

		end := window.Ends(friday(19, 15))
		assertions.True(end.Equal(time.Date(2026, 10, 17, 20, 0, 0, 0, jerusalem)), end)
		assertions.False(window.Restricted(end))

		outside := friday(10, 0)
		assertions.True(window.Ends(outside).Equal(outside))
	})
	t.Run("Wrapping window", func(t *testing.T) {
		assertions := assert.New(t)

		wrap := shabbat.Window{
			Location: time.UTC,
			Start:    shabbat.WeekTime{Weekday: time.Saturday, Hour: 22},
			End:      shabbat.WeekTime{Weekday: time.Sunday, Hour: 2},
		}
		saturday := time.Date(2026, 10, 17, 23, 0, 0, 0, time.UTC)
		assertions.True(wrap.Restricted(saturday))
		assertions.True(wrap.Restricted(saturday.Add(2 * time.Hour)))
		assertions.False(wrap.Restricted(saturday.Add(3 * time.Hour)))
		assertions.True(wrap.Ends(saturday).Equal(time.Date(2026, 10, 18, 2, 0, 0, 0, time.UTC)))
	})
	t.Run("Disabled", func(t *testing.T) {
		var disabled shabbat.Window
		assert.False(t, disabled.Restricted(friday(19, 0)))
		assert.Equal(t, "disabled", disabled.String())
	})
}
