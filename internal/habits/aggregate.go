package habits

import (
	"sort"

	"habitsync/internal/core"
)

type monthAccumulator struct {
	sums   map[string]float64
	counts map[string]int
	rows   int
}

// AggregateMonthly groups rows by calendar month and averages each habit over
// the rows where it is present. Booleans count as 0 or 1. A habit with no
// present value in a month is left out of that month's averages.
func AggregateMonthly(table core.Table) core.MonthlyTable {
	groups := map[core.Month]*monthAccumulator{}
	for _, row := range table.Rows {
		key := row.Date.YearMonth()
		acc, ok := groups[key]
		if !ok {
			acc = &monthAccumulator{sums: map[string]float64{}, counts: map[string]int{}}
			groups[key] = acc
		}
		acc.rows++
		for name, v := range row.Habits {
			f, present := v.Float()
			if !present {
				continue
			}
			acc.sums[name] += f
			acc.counts[name]++
		}
	}

	months := make([]core.Month, 0, len(groups))
	for m := range groups {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	out := core.MonthlyTable{Habits: habitColumns(table), Rows: make([]core.MonthlyRow, 0, len(months))}
	for _, m := range months {
		acc := groups[m]
		avgs := make(map[string]float64, len(acc.counts))
		for name, n := range acc.counts {
			avgs[name] = acc.sums[name] / float64(n)
		}
		out.Rows = append(out.Rows, core.MonthlyRow{Month: m, Averages: avgs, Count: acc.rows})
	}
	return out
}

func habitColumns(table core.Table) []string {
	if len(table.Habits) > 0 {
		return append([]string(nil), table.Habits...)
	}
	return core.HabitNames(table.Rows)
}
