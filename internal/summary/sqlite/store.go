// Package sqlite keeps monthly summaries in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"habitsync/internal/core"
	"habitsync/internal/log"
	"habitsync/internal/summary"

	_ "modernc.org/sqlite"
)

// Ensure interface conformance
var (
	_ summary.Store  = (*Store)(nil)
	_ summary.Reader = (*Store)(nil)
)

// logFor returns the run logger carried by ctx.
func logFor(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentSummary).With(log.FieldBackend, "sqlite")
}

// Store is a summary.Store backed by SQLite. Resource ids are the decimal
// id of a row in the summaries table; parents are free-form labels.
type Store struct {
	db    *sql.DB
	title string
}

// New opens (creating if needed) the database at dbPath and migrates it.
func New(dbPath, title string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, &core.ConfigurationError{Field: "SQLITE_DB_PATH", Reason: "is required"}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = summary.DefaultTitle
	}
	return &Store{db: db, title: title}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FindOrCreate implements summary.Store.
func (s *Store) FindOrCreate(ctx context.Context, parentID string, habits []string) (string, error) {
	parent := strings.TrimSpace(parentID)
	if parent == "" {
		return "", &core.ConfigurationError{Field: "parent id", Reason: "is required"}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries (parent, title, title_key) VALUES (?, ?, ?)
		 ON CONFLICT (parent, title_key) DO NOTHING`,
		parent, s.title, strings.ToLower(s.title))
	if err != nil {
		return "", fmt.Errorf("create summary: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM summaries WHERE parent = ? AND title_key = ?`,
		parent, strings.ToLower(s.title)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("find summary: %w", err)
	}

	ref := strconv.FormatInt(id, 10)
	if err := s.EnsureSchema(ctx, ref, habits); err != nil {
		return "", err
	}
	logFor(ctx).InfoContext(ctx, "Summary ready", log.FieldSummaryID, ref, log.FieldParentID, parent, "title", s.title)
	return ref, nil
}

// EnsureSchema registers any habit columns the summary does not have yet.
func (s *Store) EnsureSchema(ctx context.Context, resourceID string, habits []string) error {
	id, err := s.summaryID(ctx, resourceID)
	if err != nil {
		return err
	}
	existing, err := s.columns(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var added []string
	for _, h := range habits {
		if _, ok := existing[h]; ok {
			continue
		}
		pos := len(existing)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summary_columns (summary_id, habit, position) VALUES (?, ?, ?)`,
			id, h, pos); err != nil {
			return fmt.Errorf("add column %s: %w", h, err)
		}
		existing[h] = pos
		added = append(added, h)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit columns: %w", err)
	}
	if len(added) > 0 {
		logFor(ctx).InfoContext(ctx, "Added summary columns", log.FieldSummaryID, resourceID, "columns", added)
	}
	return nil
}

// Upsert replaces the averages stored for row.Month in one transaction.
func (s *Store) Upsert(ctx context.Context, resourceID string, row core.MonthlyRow) error {
	id, err := s.summaryID(ctx, resourceID)
	if err != nil {
		return err
	}
	cols, err := s.columns(ctx, id)
	if err != nil {
		return err
	}
	for habit := range row.Averages {
		if _, ok := cols[habit]; !ok {
			return &core.ConfigurationError{
				Field:  "summary " + resourceID,
				Reason: fmt.Sprintf("missing column %q", summary.ColumnName(habit)),
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	year, month := row.Month.Year, int(row.Month.Month)
	res, err := tx.ExecContext(ctx,
		`UPDATE summary_months SET label = ?, updated_at = ? WHERE summary_id = ? AND year = ? AND month = ?`,
		row.Month.Label(), time.Now().UTC(), id, year, month)
	if err != nil {
		return fmt.Errorf("update month %s: %w", row.Month.Label(), err)
	}
	updated, _ := res.RowsAffected()
	if updated == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summary_months (summary_id, year, month, label, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id, year, month, row.Month.Label(), time.Now().UTC()); err != nil {
			return fmt.Errorf("insert month %s: %w", row.Month.Label(), err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM monthly_averages WHERE summary_id = ? AND year = ? AND month = ?`,
		id, year, month); err != nil {
		return fmt.Errorf("clear month %s: %w", row.Month.Label(), err)
	}
	for habit, avg := range row.Averages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO monthly_averages (summary_id, year, month, habit, average) VALUES (?, ?, ?, ?, ?)`,
			id, year, month, habit, avg); err != nil {
			return fmt.Errorf("insert average %s/%s: %w", row.Month.Label(), habit, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit month %s: %w", row.Month.Label(), err)
	}

	msg := "Added summary month"
	if updated > 0 {
		msg = "Updated summary month"
	}
	logFor(ctx).InfoContext(ctx, msg,
		log.FieldOperation, log.OpUpsert, log.FieldMonth, row.Month.Label(), log.FieldSummaryID, resourceID, "averages", row.Averages)
	return nil
}

// ListMonths implements summary.Reader.
func (s *Store) ListMonths(ctx context.Context, resourceID string) ([]core.MonthlyRow, error) {
	id, err := s.summaryID(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.year, m.month, a.habit, a.average
		   FROM summary_months m
		   LEFT JOIN monthly_averages a
		     ON a.summary_id = m.summary_id AND a.year = m.year AND a.month = m.month
		  WHERE m.summary_id = ?
		  ORDER BY m.year, m.month`, id)
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlyRow
	for rows.Next() {
		var (
			year, month int
			habit       sql.NullString
			avg         sql.NullFloat64
		)
		if err := rows.Scan(&year, &month, &habit, &avg); err != nil {
			return nil, fmt.Errorf("scan month: %w", err)
		}
		m := core.Month{Year: year, Month: time.Month(month)}
		if len(out) == 0 || out[len(out)-1].Month != m {
			out = append(out, core.MonthlyRow{Month: m, Averages: map[string]float64{}})
		}
		if habit.Valid && avg.Valid {
			out[len(out)-1].Averages[habit.String] = avg.Float64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate months: %w", err)
	}
	return out, nil
}

// Columns returns the habit columns of a summary in the order they were added.
func (s *Store) Columns(ctx context.Context, resourceID string) ([]string, error) {
	id, err := s.summaryID(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	cols, err := s.columns(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cols))
	for h := range cols {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return cols[out[i]] < cols[out[j]] })
	return out, nil
}

func (s *Store) columns(ctx context.Context, id int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT habit, position FROM summary_columns WHERE summary_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	cols := map[string]int{}
	for rows.Next() {
		var (
			habit string
			pos   int
		)
		if err := rows.Scan(&habit, &pos); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols[habit] = pos
	}
	return cols, rows.Err()
}

// summaryID parses resourceID and checks that the summary exists.
func (s *Store) summaryID(ctx context.Context, resourceID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(resourceID), 10, 64)
	if err != nil {
		return 0, &core.ConfigurationError{Field: "summary resource id", Reason: fmt.Sprintf("%q is not a numeric id", resourceID)}
	}
	var found int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM summaries WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &core.RemoteAccessError{
			Op:         "lookup summary " + resourceID,
			StatusCode: 404,
			Message:    "summary not found",
			Err:        core.ErrNotFound,
		}
	}
	if err != nil {
		return 0, fmt.Errorf("lookup summary %s: %w", resourceID, err)
	}
	return found, nil
}
