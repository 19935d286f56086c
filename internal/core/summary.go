package core

import (
	"fmt"
	"math"
	"time"
)

// Month is a (year, month) pair and the natural key of a summary entry.
type Month struct {
	Year  int
	Month time.Month
}

// MonthlyRow holds the per-habit averages for one month. Habits without any
// present value in the month are omitted from Averages.
type MonthlyRow struct {
	Month    Month
	Averages map[string]float64
	Count    int // rows that fell in the month
}

// MonthlyTable is the aggregation result, ordered by month ascending.
type MonthlyTable struct {
	Habits []string
	Rows   []MonthlyRow
}

// Label is the human key used by the remote stores, e.g. "January 2024".
func (m Month) Label() string {
	return fmt.Sprintf("%s %d", m.Month.String(), m.Year)
}

// FirstDay returns the first day of the month.
func (m Month) FirstDay() Date {
	return NewDate(m.Year, int(m.Month), 1)
}

func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// ParseMonthLabel is the inverse of Label.
func ParseMonthLabel(label string) (Month, error) {
	t, err := time.Parse("January 2006", label)
	if err != nil {
		return Month{}, fmt.Errorf("parse month label %q: %w", label, err)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// Average returns the average for habit and whether it is present.
func (r MonthlyRow) Average(habit string) (float64, bool) {
	v, ok := r.Averages[habit]
	return v, ok
}

// Round returns a copy of the table with every average rounded to places
// decimal digits. A negative places leaves values untouched.
func (t MonthlyTable) Round(places int) MonthlyTable {
	if places < 0 {
		return t
	}
	out := MonthlyTable{Habits: append([]string(nil), t.Habits...), Rows: make([]MonthlyRow, len(t.Rows))}
	for i, r := range t.Rows {
		avgs := make(map[string]float64, len(r.Averages))
		for k, v := range r.Averages {
			avgs[k] = RoundTo(v, places)
		}
		out.Rows[i] = MonthlyRow{Month: r.Month, Averages: avgs, Count: r.Count}
	}
	return out
}

// RoundTo rounds v half away from zero to places decimal digits.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
