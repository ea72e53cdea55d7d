package booking

import (
	"encoding/json"
	"fmt"
	"time"
)

// DayLayout is the wire and storage form of a calendar day.
const DayLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// DateRange is an inclusive range of calendar days. Both ends carry no
// time-of-day component once normalised.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Normalize strips the time of day from t. The calendar date is taken in t's
// own location and returned at UTC midnight so that days from different
// locations compare by date alone.
func Normalize(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDateRange normalises both ends and validates the range.
func NewDateRange(from, to time.Time) (DateRange, error) {
	r := DateRange{From: from, To: to}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r.Normalized(), nil
}

// ParseDateRange builds a range from two DayLayout strings.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(DayLayout, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
	}
	t, err := time.Parse(DayLayout, to)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
	}
	return NewDateRange(f, t)
}

// MustParseDateRange is ParseDateRange for literals known to be valid.
func MustParseDateRange(from, to string) DateRange {
	r, err := ParseDateRange(from, to)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate rejects missing ends and ranges whose start is after their end.
func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: both from and to are required", ErrInvalidRange)
	}
	if Normalize(r.From).After(Normalize(r.To)) {
		return fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange,
			r.From.Format(DayLayout), r.To.Format(DayLayout))
	}
	return nil
}

func (r DateRange) Normalized() DateRange {
	return DateRange{From: Normalize(r.From), To: Normalize(r.To)}
}

// Nights is the inclusive day count of the range: a single-day range is one
// night, a next-day range two.
func (r DateRange) Nights() int {
	n := r.Normalized()
	return int((n.To.Unix()-n.From.Unix())/secondsPerDay) + 1
}

func (r DateRange) String() string {
	return r.From.Format(DayLayout) + ".." + r.To.Format(DayLayout)
}

// Overlaps reports whether a and b share at least one day. Boundaries are
// inclusive, so ranges that meet on a single day overlap.
func Overlaps(a, b DateRange) bool {
	a, b = a.Normalized(), b.Normalized()
	return !a.From.After(b.To) && !a.To.Before(b.From)
}

type dateRangeJSON struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateRangeJSON{
		From: r.From.Format(DayLayout),
		To:   r.To.Format(DayLayout),
	})
}

// UnmarshalJSON accepts missing ends so that Validate can report them; a
// malformed day is an ErrInvalidRange.
func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw dateRangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out DateRange
	if raw.From != "" {
		t, err := time.Parse(DayLayout, raw.From)
		if err != nil {
			return fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
		}
		out.From = t
	}
	if raw.To != "" {
		t, err := time.Parse(DayLayout, raw.To)
		if err != nil {
			return fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
		}
		out.To = t
	}
	*r = out
	return nil
}

// Month is a calendar month, the window of the per-principal booking quota.
type Month struct {
	Year  int
	Month time.Month
}

func MonthOf(t time.Time) Month {
	y, m, _ := Normalize(t).Date()
	return Month{Year: y, Month: m}
}

// Start is the first day of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the last day of the month (inclusive).
func (m Month) End() time.Time {
	return m.Start().AddDate(0, 1, -1)
}

func (m Month) Contains(t time.Time) bool {
	return MonthOf(t) == m
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}
