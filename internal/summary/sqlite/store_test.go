package sqlite

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"habitsync/internal/core"
	"habitsync/internal/log"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "habits.db")
	s, err := New(path, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(" ", "")
	var cfgErr *core.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestFindOrCreate_Idempotent(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	id, err := s.FindOrCreate(ctx, "journal", []string{"steps"})
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	again, err := s.FindOrCreate(ctx, "journal", []string{"steps", "gym"})
	if err != nil {
		t.Fatalf("second FindOrCreate: %v", err)
	}
	if id != again {
		t.Fatalf("expected same id, got %s and %s", id, again)
	}
	other, err := s.FindOrCreate(ctx, "other", nil)
	if err != nil {
		t.Fatalf("FindOrCreate other parent: %v", err)
	}
	if other == id {
		t.Fatal("different parents must get different summaries")
	}

	cols, err := s.Columns(ctx, id)
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if !reflect.DeepEqual(cols, []string{"steps", "gym"}) {
		t.Fatalf("unexpected columns %v", cols)
	}

	// Reopening runs migrations again without error and keeps data.
	s.Close()
	reopened, err := New(path, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	id3, err := reopened.FindOrCreate(ctx, "journal", nil)
	if err != nil || id3 != id {
		t.Fatalf("reopened FindOrCreate = %s, %v; want %s", id3, err, id)
	}
}

func TestUpsert_ReplacesMonth(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, err := s.FindOrCreate(ctx, "journal", []string{"steps", "gym"})
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	feb := core.Month{Year: 2024, Month: time.February}
	mar := core.Month{Year: 2024, Month: time.March}
	writes := []core.MonthlyRow{
		{Month: mar, Averages: map[string]float64{"steps": 8000}},
		{Month: feb, Averages: map[string]float64{"steps": 10000, "gym": 0.5}},
		{Month: feb, Averages: map[string]float64{"steps": 9000}},
		{Month: core.Month{Year: 2023, Month: time.December}, Averages: map[string]float64{}},
	}
	for _, row := range writes {
		if err := s.Upsert(ctx, id, row); err != nil {
			t.Fatalf("Upsert %s: %v", row.Month.Label(), err)
		}
	}

	rows, err := s.ListMonths(ctx, id)
	if err != nil {
		t.Fatalf("ListMonths: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 months, got %d: %+v", len(rows), rows)
	}
	if rows[0].Month.Year != 2023 || len(rows[0].Averages) != 0 {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1].Month != feb || !reflect.DeepEqual(rows[1].Averages, map[string]float64{"steps": 9000}) {
		t.Fatalf("February not replaced: %+v", rows[1])
	}
	if rows[2].Month != mar || rows[2].Averages["steps"] != 8000 {
		t.Fatalf("unexpected March %+v", rows[2])
	}
}

func TestUpsert_MissingColumn(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, err := s.FindOrCreate(ctx, "journal", []string{"steps"})
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	err = s.Upsert(ctx, id, core.MonthlyRow{Month: core.Month{Year: 2024, Month: time.May}, Averages: map[string]float64{"sleep": 7}})
	var cfgErr *core.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestUnknownResource(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "42", core.MonthlyRow{Month: core.Month{Year: 2024, Month: time.May}}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var cfgErr *core.ConfigurationError
	if err := s.EnsureSchema(ctx, "not-a-number", nil); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestUpsert_LogsWithRunLogger(t *testing.T) {
	s, _ := newTestStore(t)
	var buf bytes.Buffer
	ctx := log.NewContext(context.Background(),
		log.New(log.Config{Format: "json", Output: &buf}).With(log.FieldRunID, "run-7"))

	id, err := s.FindOrCreate(ctx, "journal", []string{"steps"})
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if err := s.Upsert(ctx, id, core.MonthlyRow{Month: core.Month{Year: 2024, Month: time.July}, Averages: map[string]float64{"steps": 3}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"msg":"Added summary month"`, `"run_id":"run-7"`, `"backend":"sqlite"`, `"operation":"upsert"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output lacks %s:\n%s", want, out)
		}
	}
}
