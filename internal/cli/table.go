package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"

	"habitsync/internal/core"
	"habitsync/internal/summary"
)

// isTTY reports whether w is connected to a terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func bold(s string, color bool) string {
	if !color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

// table writes column-aligned output. Headers are bold on a terminal.
type table struct {
	tw *tabwriter.Writer
}

func newTable(w io.Writer, headers ...string) *table {
	color := isTTY(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := make([]string, len(headers))
	for i, h := range headers {
		row[i] = bold(h, color)
	}
	fmt.Fprintln(tw, strings.Join(row, "\t"))
	return &table{tw: tw}
}

func (t *table) row(cells ...string) {
	fmt.Fprintln(t.tw, strings.Join(cells, "\t"))
}

func (t *table) flush() error {
	return t.tw.Flush()
}

// printDaily renders one line per day; absent habit values are blank.
func printDaily(w io.Writer, tbl core.Table) error {
	t := newTable(w, append([]string{"Date"}, tbl.Habits...)...)
	for _, r := range tbl.Rows {
		cells := []string{r.Date.String()}
		for _, h := range tbl.Habits {
			cells = append(cells, formatHabit(r.Value(h)))
		}
		t.row(cells...)
	}
	return t.flush()
}

// printMonthly renders one line per month with the averages of each habit.
func printMonthly(w io.Writer, habits []string, rows []core.MonthlyRow) error {
	headers := []string{"Month"}
	for _, h := range habits {
		headers = append(headers, summary.ColumnName(h))
	}
	t := newTable(w, headers...)
	for _, r := range rows {
		cells := []string{r.Month.Label()}
		for _, h := range habits {
			if v, ok := r.Average(h); ok {
				cells = append(cells, formatNumber(v))
			} else {
				cells = append(cells, "")
			}
		}
		t.row(cells...)
	}
	return t.flush()
}

func formatHabit(v core.HabitValue) string {
	switch v.Kind {
	case core.KindBoolean:
		return strconv.FormatBool(v.Bool)
	case core.KindNumber:
		return formatNumber(v.Number)
	default:
		return ""
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type monthlyJSON struct {
	Month    string             `json:"month"`
	Date     string             `json:"date"`
	Count    int                `json:"count"`
	Averages map[string]float64 `json:"averages"`
}

type dailyJSON struct {
	Date   string         `json:"date"`
	Habits map[string]any `json:"habits"`
}

func printMonthlyJSON(w io.Writer, rows []core.MonthlyRow) error {
	out := make([]monthlyJSON, 0, len(rows))
	for _, r := range rows {
		out = append(out, monthlyJSON{
			Month:    r.Month.Label(),
			Date:     r.Month.FirstDay().String(),
			Count:    r.Count,
			Averages: r.Averages,
		})
	}
	return writeJSON(w, out)
}

func printDailyJSON(w io.Writer, tbl core.Table) error {
	out := make([]dailyJSON, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		habits := map[string]any{}
		for _, h := range tbl.Habits {
			switch v := r.Value(h); v.Kind {
			case core.KindBoolean:
				habits[h] = v.Bool
			case core.KindNumber:
				habits[h] = v.Number
			default:
				habits[h] = nil
			}
		}
		out = append(out, dailyJSON{Date: r.Date.String(), Habits: habits})
	}
	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
