// Package habits turns fetched records into daily rows and monthly averages.
package habits

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"habitsync/internal/core"
	"habitsync/internal/log"
)

const DefaultDateProperty = "Date"

// Options controls how records are mapped into rows.
type Options struct {
	// DateProperty names the date property of each record.
	DateProperty string
	// Habits restricts mapping to the listed properties. Empty means every
	// number or boolean property of a record is a habit.
	Habits []string
	// SkipMalformed logs and drops records that cannot be mapped instead of
	// aborting the batch.
	SkipMalformed bool
}

// Mapper implements the record mapping and tabulation stages.
type Mapper struct {
	opts   Options
	logger *slog.Logger
}

func NewMapper(opts Options, logger *slog.Logger) *Mapper {
	if strings.TrimSpace(opts.DateProperty) == "" {
		opts.DateProperty = DefaultDateProperty
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.Habits = uniqueNames(opts.Habits)
	return &Mapper{opts: opts, logger: logger}
}

// uniqueNames drops blank and repeated names, keeping first occurrences.
func uniqueNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Map converts one record into a Row.
func (m *Mapper) Map(rec core.RawRecord) (core.Row, error) {
	dateProp := rec.Property(m.opts.DateProperty)
	switch {
	case dateProp.IsAbsent():
		return core.Row{}, &core.MalformedRecordError{RecordID: rec.ID, Property: m.opts.DateProperty, Reason: "is missing"}
	case dateProp.Kind != core.KindDate:
		return core.Row{}, &core.MalformedRecordError{RecordID: rec.ID, Property: m.opts.DateProperty, Reason: "is not a date (" + string(dateProp.Kind) + ")"}
	}
	date, err := core.ParseDate(dateProp.Date)
	if err != nil {
		return core.Row{}, &core.MalformedRecordError{RecordID: rec.ID, Property: m.opts.DateProperty, Reason: "has unparsable value " + strconv.Quote(dateProp.Date)}
	}

	row := core.Row{Date: date, Habits: map[string]core.HabitValue{}}
	if len(m.opts.Habits) > 0 {
		for _, name := range m.opts.Habits {
			row.Habits[name] = toHabit(rec.Property(name))
		}
		return row, nil
	}
	for name, p := range rec.Properties {
		if name == m.opts.DateProperty {
			continue
		}
		if p.Kind == core.KindNumber || p.Kind == core.KindBoolean {
			row.Habits[name] = toHabit(p)
		}
	}
	return row, nil
}

// Tabulate maps every record and orders the rows by date. Records sharing a
// date keep their fetch order.
func (m *Mapper) Tabulate(records []core.RawRecord) (core.Table, error) {
	rows := make([]core.Row, 0, len(records))
	skipped := 0
	for _, rec := range records {
		row, err := m.Map(rec)
		if err != nil {
			if !m.opts.SkipMalformed {
				return core.Table{}, err
			}
			skipped++
			m.logger.Warn("Skipping malformed record", log.FieldRecordID, rec.ID, log.FieldError, err)
			continue
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Date.Before(rows[j].Date.Time)
	})
	if skipped > 0 {
		m.logger.Warn("Malformed records skipped", "skipped", skipped, "kept", len(rows))
	}

	habits := core.HabitNames(rows)
	if len(m.opts.Habits) > 0 {
		habits = append([]string(nil), m.opts.Habits...)
	}
	return core.Table{Habits: habits, Rows: rows}, nil
}

func toHabit(p core.PropertyValue) core.HabitValue {
	switch p.Kind {
	case core.KindNumber:
		return core.NumberHabit(p.Number)
	case core.KindBoolean:
		return core.BoolHabit(p.Bool)
	default:
		return core.AbsentHabit()
	}
}
