package core

import (
	"sort"
	"strings"
	"time"
)

const (
	KindAbsent  PropertyKind = "absent"
	KindDate    PropertyKind = "date"
	KindNumber  PropertyKind = "number"
	KindBoolean PropertyKind = "boolean"
	KindText    PropertyKind = "text"
)

type (
	PropertyKind string

	// PropertyValue is a resolved remote property. Exactly one of the value
	// fields is meaningful, selected by Kind.
	PropertyValue struct {
		Kind   PropertyKind
		Date   string // raw start value as sent by the source
		Number float64
		Bool   bool
		Text   string
	}

	// RawRecord is one record fetched from the source database.
	RawRecord struct {
		ID         string
		Properties map[string]PropertyValue
	}

	// HabitValue is a habit measurement; an absent value has Kind KindAbsent.
	HabitValue struct {
		Kind   PropertyKind
		Number float64
		Bool   bool
	}

	Date struct {
		time.Time
	}

	Row struct {
		Date   Date
		Habits map[string]HabitValue
	}

	// Table is the date-ordered set of rows of one run.
	Table struct {
		Habits []string
		Rows   []Row
	}
)

func DateValue(raw string) PropertyValue { return PropertyValue{Kind: KindDate, Date: raw} }

func NumberValue(n float64) PropertyValue { return PropertyValue{Kind: KindNumber, Number: n} }

func BoolValue(b bool) PropertyValue { return PropertyValue{Kind: KindBoolean, Bool: b} }

func TextValue(s string) PropertyValue { return PropertyValue{Kind: KindText, Text: s} }

func AbsentValue() PropertyValue { return PropertyValue{Kind: KindAbsent} }

func NumberHabit(n float64) HabitValue { return HabitValue{Kind: KindNumber, Number: n} }

func BoolHabit(b bool) HabitValue { return HabitValue{Kind: KindBoolean, Bool: b} }

func AbsentHabit() HabitValue { return HabitValue{Kind: KindAbsent} }

func (p PropertyValue) IsAbsent() bool { return p.Kind == "" || p.Kind == KindAbsent }

// Present reports whether h carries a number or a boolean.
func (h HabitValue) Present() bool { return h.Kind == KindNumber || h.Kind == KindBoolean }

// Property returns the named property, or an absent value.
func (r RawRecord) Property(name string) PropertyValue {
	if v, ok := r.Properties[name]; ok {
		return v
	}
	return AbsentValue()
}

// Float returns the numeric value of h, with booleans coerced to 0/1.
func (h HabitValue) Float() (float64, bool) {
	switch h.Kind {
	case KindNumber:
		return h.Number, true
	case KindBoolean:
		if h.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts a plain calendar date or an RFC 3339 timestamp and keeps
// the calendar date as written (the offset is not applied).
func ParseDate(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return NewDate(t.Year(), int(t.Month()), t.Day()), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return Date{}, err
	}
	return NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

// YearMonth returns the calendar month the date falls in.
func (d Date) YearMonth() Month {
	return Month{Year: d.Year(), Month: d.Time.Month()}
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

// Value returns the habit's value, or an absent value.
func (r Row) Value(habit string) HabitValue {
	if v, ok := r.Habits[habit]; ok {
		return v
	}
	return AbsentHabit()
}

// HabitNames returns the sorted union of habit names across rows.
func HabitNames(rows []Row) []string {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for name := range r.Habits {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
