package finance

import (
	"time"
)

// =============================================================================
// DAY - Calendar day (transactions store dates as strings, parsed once)
// =============================================================================

// DayLayout is the persisted encoding of calendar days.
const DayLayout = "2006-01-02"

// Day is a calendar day at UTC midnight. The zero value is "no day".
type Day struct {
	t time.Time
}

func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDay parses the persisted "2006-01-02" encoding. Hot paths go through
// the ledger's bounded date cache instead of calling this directly.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return Day{}, err
	}
	return Day{t: t}, nil
}

func Today() Day {
	now := time.Now().UTC()
	return NewDay(now.Year(), now.Month(), now.Day())
}

// Comparison
func (d Day) Before(other Day) bool        { return d.t.Before(other.t) }
func (d Day) After(other Day) bool         { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool         { return d.t.Equal(other.t) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.t.After(other.t) }
func (d Day) AfterOrEqual(other Day) bool  { return !d.t.Before(other.t) }

// Arithmetic
func (d Day) AddDays(n int) Day   { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) AddMonths(n int) Day { return Day{t: d.t.AddDate(0, n, 0)} }
func (d Day) AddYears(n int) Day  { return Day{t: d.t.AddDate(n, 0, 0)} }

// Properties
func (d Day) Year() int         { return d.t.Year() }
func (d Day) Month() time.Month { return d.t.Month() }
func (d Day) DayOfMonth() int   { return d.t.Day() }
func (d Day) IsZero() bool      { return d.t.IsZero() }
func (d Day) Time() time.Time   { return d.t }

func (d Day) String() string { return d.t.Format(DayLayout) }

func StartOfMonth(year int, month time.Month) Day { return NewDay(year, month, 1) }

func EndOfMonth(year int, month time.Month) Day {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return Day{t: t}
}

// Period is an inclusive [Start, End] day range used by summary reads.
type Period struct {
	Start Day
	End   Day
}

func (p Period) Contains(d Day) bool {
	return p.Start.BeforeOrEqual(d) && d.BeforeOrEqual(p.End)
}

func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}
