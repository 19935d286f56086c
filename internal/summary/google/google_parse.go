package google

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"habitsync/internal/core"
	"habitsync/internal/summary"
)

const (
	monthHeader = "Month"
	dateHeader  = "Date"
)

// checkHeader verifies that an existing header row starts with Month and Date.
func checkHeader(header []string) error {
	if len(header) < 2 || !strings.EqualFold(header[0], monthHeader) || !strings.EqualFold(header[1], dateHeader) {
		return fmt.Errorf("unexpected summary header: want %s,%s first; got headers=%v", monthHeader, dateHeader, header)
	}
	return nil
}

// mergeHeader returns header with a column appended for every habit it lacks.
func mergeHeader(header []string, habits []string) []string {
	out := append([]string(nil), header...)
	if len(out) == 0 {
		out = append(out, monthHeader, dateHeader)
	}
	for _, h := range habits {
		if indexOf(out, summary.ColumnName(h)) == -1 {
			out = append(out, summary.ColumnName(h))
		}
	}
	return out
}

// buildRow lays out row under header. Cells of columns that are not habit
// averages keep their existing value; habits without an average are blank.
func buildRow(header []string, existing []string, row core.MonthlyRow) ([]any, error) {
	for habit := range row.Averages {
		if indexOf(header, summary.ColumnName(habit)) == -1 {
			return nil, fmt.Errorf("missing column %q", summary.ColumnName(habit))
		}
	}
	prefix := summary.ColumnName("")
	line := make([]any, len(header))
	for i, name := range header {
		switch {
		case i == 0:
			line[i] = row.Month.Label()
		case i == 1:
			line[i] = row.Month.FirstDay().String()
		case strings.HasPrefix(name, prefix):
			if avg, ok := lookupAverage(row.Averages, strings.TrimPrefix(name, prefix)); ok {
				line[i] = avg
			} else {
				line[i] = ""
			}
		default:
			line[i] = safeGet(existing, i)
		}
	}
	return line, nil
}

func lookupAverage(averages map[string]float64, habit string) (float64, bool) {
	if v, ok := averages[habit]; ok {
		return v, true
	}
	for name, v := range averages {
		if strings.EqualFold(name, habit) {
			return v, true
		}
	}
	return 0, false
}

// parseRows converts a values matrix into month rows sorted ascending.
// Rows whose first cell is not a month label are skipped.
func parseRows(values [][]any) []core.MonthlyRow {
	if len(values) == 0 {
		return nil
	}
	header := toStrings(values[0])
	prefix := summary.ColumnName("")
	var out []core.MonthlyRow
	for i := 1; i < len(values); i++ {
		cols := toStrings(values[i])
		month, err := core.ParseMonthLabel(safeGet(cols, 0))
		if err != nil {
			continue
		}
		row := core.MonthlyRow{Month: month, Averages: map[string]float64{}}
		for j, name := range header {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			if v, ok := parseNumber(safeGet(cols, j)); ok {
				row.Averages[strings.TrimPrefix(name, prefix)] = v
			}
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

// parseNumber reads a cell as a float, accepting a decimal comma.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
