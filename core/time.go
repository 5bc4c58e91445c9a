package core

import (
	"fmt"
	"math"
	"time"
)

// =============================================================================
// CLOCK - Injected "now"
// =============================================================================

// Clock supplies the current time. Engines never call time.Now directly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// =============================================================================
// PERIOD - Inclusive time window
// =============================================================================

// Period is the inclusive window [Start, End].
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + "]"
}

// =============================================================================
// MONTHS
// =============================================================================

// StartOfMonth returns the first instant of t's month in UTC.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last representable instant of t's month:
// the end of the last day.
func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// MonthPeriod is the calendar month containing t, first day 00:00 through
// end of the last day.
func MonthPeriod(t time.Time) Period {
	return Period{Start: StartOfMonth(t), End: EndOfMonth(t)}
}

// PreviousMonth returns the first day of the month before t's month.
func PreviousMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, -1, 0)
}

var monthNames = [...]string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// MonthLabel renders a reference month for people, e.g. "Março/2025".
func MonthLabel(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%d", monthNames[t.Month()-1], t.Year())
}

// WholeDays returns floor(d / 24h).
func WholeDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}
