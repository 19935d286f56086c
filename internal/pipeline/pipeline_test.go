package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"habitsync/internal/amqp"
	"habitsync/internal/core"
	"habitsync/internal/habits"
	"habitsync/internal/log"
	"habitsync/internal/summary/memory"
)

type fakeSource struct {
	records map[string][]core.RawRecord
	err     error
	calls   int
}

func (f *fakeSource) FetchAll(_ context.Context, databaseID string) ([]core.RawRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	recs, ok := f.records[databaseID]
	if !ok {
		return nil, &core.RemoteAccessError{Op: "query database " + databaseID, StatusCode: 404, Err: core.ErrNotFound}
	}
	return recs, nil
}

type fakePublisher struct {
	msgs []*amqp.SummaryUpdatedMessage
	err  error
}

func (f *fakePublisher) PublishSummaryUpdated(_ context.Context, msg *amqp.SummaryUpdatedMessage) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func record(id, date string, props map[string]core.PropertyValue) core.RawRecord {
	all := map[string]core.PropertyValue{}
	if date != "" {
		all["Date"] = core.DateValue(date)
	}
	for k, v := range props {
		all[k] = v
	}
	return core.RawRecord{ID: id, Properties: all}
}

func testLogger(buf *bytes.Buffer) *log.Logger {
	return log.New(log.Config{Level: slog.LevelDebug, Format: "json", Output: buf})
}

func newPipeline(t *testing.T, src *fakeSource, pub Publisher) (*Pipeline, *memory.Store, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	store := memory.New("")
	cfg := DefaultConfig()
	cfg.Backend = "memory"
	cfg.Logger = testLogger(&buf)
	return New(src, store, pub, cfg), store, &buf
}

func TestProcessBooleanHabitAverage(t *testing.T) {
	src := &fakeSource{records: map[string][]core.RawRecord{
		"src": {
			record("b", "2024-01-20", map[string]core.PropertyValue{"meditated": core.BoolValue(false)}),
			record("a", "2024-01-05", map[string]core.PropertyValue{"meditated": core.BoolValue(true)}),
		},
	}}
	p, store, _ := newPipeline(t, src, nil)

	res, err := p.Process(context.Background(), Request{SourceDatabaseID: "src", ParentID: "page"})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	require.Len(t, res.Daily.Rows, 2)
	require.Equal(t, core.NewDate(2024, 1, 5), res.Daily.Rows[0].Date)

	require.Len(t, res.Monthly.Rows, 1)
	row := res.Monthly.Rows[0]
	require.Equal(t, core.Month{Year: 2024, Month: time.January}, row.Month)
	require.Equal(t, map[string]float64{"meditated": 0.5}, row.Averages)

	stored, err := store.ListMonths(context.Background(), res.SummaryID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, 0.5, stored[0].Averages["meditated"])
}

func TestProcessTwoMonths(t *testing.T) {
	src := &fakeSource{records: map[string][]core.RawRecord{
		"src": {
			record("m", "2024-03-01", map[string]core.PropertyValue{"steps": core.NumberValue(8000)}),
			record("f", "2024-02-01", map[string]core.PropertyValue{"steps": core.NumberValue(10000)}),
		},
	}}
	p, store, _ := newPipeline(t, src, nil)

	res, err := p.Process(context.Background(), Request{SourceDatabaseID: "src", ParentID: "page"})
	require.NoError(t, err)
	require.Len(t, res.Monthly.Rows, 2)
	require.Equal(t, time.February, res.Monthly.Rows[0].Month.Month)
	require.Equal(t, 10000.0, res.Monthly.Rows[0].Averages["steps"])
	require.Equal(t, time.March, res.Monthly.Rows[1].Month.Month)
	require.Equal(t, 8000.0, res.Monthly.Rows[1].Averages["steps"])
	require.Equal(t, []string{"steps"}, store.Columns(res.SummaryID))
}

func TestProcessIsIdempotent(t *testing.T) {
	src := &fakeSource{records: map[string][]core.RawRecord{
		"src": {
			record("1", "2024-01-01", map[string]core.PropertyValue{"steps": core.NumberValue(1), "gym": core.BoolValue(true)}),
			record("2", "2024-01-02", map[string]core.PropertyValue{"steps": core.NumberValue(2)}),
			record("3", "2024-02-10", map[string]core.PropertyValue{"steps": core.NumberValue(4)}),
		},
	}}
	p, store, _ := newPipeline(t, src, nil)
	ctx := context.Background()
	req := Request{SourceDatabaseID: "src", ParentID: "page"}

	first, err := p.Process(ctx, req)
	require.NoError(t, err)
	afterFirst, err := store.ListMonths(ctx, first.SummaryID)
	require.NoError(t, err)

	second, err := p.Process(ctx, req)
	require.NoError(t, err)
	afterSecond, err := store.ListMonths(ctx, second.SummaryID)
	require.NoError(t, err)

	require.Equal(t, first.SummaryID, second.SummaryID)
	require.Equal(t, first.Monthly, second.Monthly)
	require.Equal(t, afterFirst, afterSecond)
	require.Len(t, afterSecond, 2, "no duplicate month entries")
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestProcessMalformedRecordWritesNothing(t *testing.T) {
	src := &fakeSource{records: map[string][]core.RawRecord{
		"src": {
			record("ok", "2024-01-01", map[string]core.PropertyValue{"steps": core.NumberValue(1)}),
			record("bad", "", map[string]core.PropertyValue{"steps": core.NumberValue(2)}),
		},
	}}
	pub := &fakePublisher{}
	p, store, _ := newPipeline(t, src, pub)

	res, err := p.Process(context.Background(), Request{SourceDatabaseID: "src", ParentID: "page"})
	require.Nil(t, res)
	var malformed *core.MalformedRecordError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, "bad", malformed.RecordID)
	require.Zero(t, store.Writes())
	require.Empty(t, pub.msgs)
}

func TestProcessSkipMalformed(t *testing.T) {
	src := &fakeSource{records: map[string][]core.RawRecord{
		"src": {
			record("ok", "2024-01-01", map[string]core.PropertyValue{"steps": core.NumberValue(1)}),
			record("bad", "", map[string]core.PropertyValue{"steps": core.NumberValue(2)}),
		},
	}}
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Mapper = habits.Options{DateProperty: "Date", SkipMalformed: true}
	cfg.Logger = testLogger(&buf)
	p := New(src, memory.New(""), nil, cfg)

	res, err := p.Process(context.Background(), Request{SourceDatabaseID: "src", ParentID: "page"})
	require.NoError(t, err)
	require.Len(t, res.Daily.Rows, 1)
	require.Contains(t, buf.String(), `"record_id":"bad"`)
}

func TestProcessRequestValidation(t *testing.T) {
	src := &fakeSource{}
	p, store, _ := newPipeline(t, src, nil)

	for _, req := range []Request{
		{ParentID: "page"},
		{SourceDatabaseID: "src"},
		{SourceDatabaseID: " ", SummaryID: "mem:1"},
	} {
		_, err := p.Process(context.Background(), req)
		var cfgErr *core.ConfigurationError
		require.ErrorAs(t, err, &cfgErr, "request %+v", req)
	}
	require.Zero(t, src.calls, "validation happens before any fetch")
	require.Zero(t, store.Writes())
}

func TestProcessFetchErrorPropagates(t *testing.T) {
	src := &fakeSource{err: &core.RemoteAccessError{Op: "query database src", StatusCode: 401, Err: core.ErrUnauthorized}}
	p, store, _ := newPipeline(t, src, nil)

	_, err := p.Process(context.Background(), Request{SourceDatabaseID: "src", ParentID: "page"})
	require.ErrorIs(t, err, core.ErrUnauthorized)
	require.Zero(t, store.Writes())
}

func TestProcessExplicitSummaryID(t *testing.T) {
	src := &fakeSource{records: map[string][]core.RawRecord{
		"src": {record("1", "2024-05-01", map[string]core.PropertyValue{"steps": core.NumberValue(3)})},
	}}
	p, store, _ := newPipeline(t, src, nil)
	ctx := context.Background()

	id, err := store.FindOrCreate(ctx, "elsewhere", nil)
	require.NoError(t, err)

	res, err := p.Process(ctx, Request{SourceDatabaseID: "src", SummaryID: id})
	require.NoError(t, err)
	require.Equal(t, id, res.SummaryID)
	require.Equal(t, []string{"steps"}, store.Columns(id))

	_, err = p.Process(ctx, Request{SourceDatabaseID: "src", SummaryID: "mem:99"})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestProcessPublishes(t *testing.T) {
	src := &fakeSource{records: map[string][]core.RawRecord{
		"src": {
			record("1", "2024-01-01", map[string]core.PropertyValue{"steps": core.NumberValue(3)}),
			record("2", "2024-02-01", map[string]core.PropertyValue{"steps": core.NumberValue(5)}),
		},
	}}
	pub := &fakePublisher{}
	p, _, buf := newPipeline(t, src, pub)

	res, err := p.Process(context.Background(), Request{SourceDatabaseID: "src", ParentID: "page"})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	require.Equal(t, res.RunID, msg.RunID)
	require.Equal(t, res.SummaryID, msg.SummaryID)
	require.Equal(t, "memory", msg.Backend)
	require.Equal(t, []string{"January 2024", "February 2024"}, msg.Months)
	require.Contains(t, buf.String(), `"run_id":"`+res.RunID+`"`)

	pub.err = errors.New("broker down")
	_, err = p.Process(context.Background(), Request{SourceDatabaseID: "src", ParentID: "page"})
	require.ErrorContains(t, err, "broker down")
}

func TestMonthlyRoundsToPrecision(t *testing.T) {
	table := core.Table{
		Habits: []string{"sleep"},
		Rows: []core.Row{
			{Date: core.NewDate(2024, 4, 1), Habits: map[string]core.HabitValue{"sleep": core.NumberHabit(7)}},
			{Date: core.NewDate(2024, 4, 2), Habits: map[string]core.HabitValue{"sleep": core.NumberHabit(8)}},
			{Date: core.NewDate(2024, 4, 3), Habits: map[string]core.HabitValue{"sleep": core.NumberHabit(8)}},
		},
	}
	p := New(&fakeSource{}, memory.New(""), nil, DefaultConfig())
	require.Equal(t, 7.67, p.Monthly(table).Rows[0].Averages["sleep"])

	cfg := DefaultConfig()
	cfg.Precision = -1
	raw := New(&fakeSource{}, memory.New(""), nil, cfg).Monthly(table)
	require.InDelta(t, 23.0/3.0, raw.Rows[0].Averages["sleep"], 1e-12)
}

func TestEmptySourceResolvesSummaryOnly(t *testing.T) {
	src := &fakeSource{records: map[string][]core.RawRecord{"src": nil}}
	p, store, _ := newPipeline(t, src, nil)

	res, err := p.Process(context.Background(), Request{SourceDatabaseID: "src", ParentID: "page"})
	require.NoError(t, err)
	require.Empty(t, res.Monthly.Rows)
	require.Equal(t, 1, store.Writes(), "only the summary resource is created")
}

// ctxLoggingSource logs through the logger carried by ctx, as the adapters do.
type ctxLoggingSource struct{ fakeSource }

func (s *ctxLoggingSource) FetchAll(ctx context.Context, databaseID string) ([]core.RawRecord, error) {
	log.FromContext(ctx).WithComponent(log.ComponentNotion).InfoContext(ctx, "Querying source", log.FieldDatabaseID, databaseID)
	return s.fakeSource.FetchAll(ctx, databaseID)
}

func TestProcessRunLoggerReachesAdapters(t *testing.T) {
	src := &ctxLoggingSource{fakeSource{err: &core.RemoteAccessError{Op: "query database src", StatusCode: 401, Err: core.ErrUnauthorized}}}
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logger = testLogger(&buf)
	p := New(src, memory.New(""), nil, cfg)

	_, err := p.Process(context.Background(), Request{SourceDatabaseID: "src", ParentID: "page"})
	require.Error(t, err)

	var adapter, failed map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		switch entry["msg"] {
		case "Querying source":
			adapter = entry
		case "Habit tracking run failed":
			require.Nil(t, failed, "failure logged twice")
			failed = entry
		}
	}
	require.NotNil(t, adapter, buf.String())
	require.NotNil(t, failed, buf.String())
	require.NotEmpty(t, adapter[log.FieldRunID])
	require.Equal(t, failed[log.FieldRunID], adapter[log.FieldRunID])
	require.Equal(t, log.ComponentNotion, adapter[log.FieldComponent])
	require.Equal(t, false, failed[log.FieldSuccess])
	require.Contains(t, failed[log.FieldError], "401")
}
