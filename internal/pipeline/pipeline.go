// Package pipeline runs the habit tracking job: fetch records, tabulate them
// into daily rows, aggregate monthly averages and upsert them into a summary.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"habitsync/internal/amqp"
	"habitsync/internal/core"
	"habitsync/internal/habits"
	"habitsync/internal/log"
	"habitsync/internal/summary"
)

// RecordSource returns every record of a source database.
type RecordSource interface {
	FetchAll(ctx context.Context, databaseID string) ([]core.RawRecord, error)
}

// Publisher announces a finished summary update.
type Publisher interface {
	PublishSummaryUpdated(ctx context.Context, msg *amqp.SummaryUpdatedMessage) error
}

// Config holds the pipeline settings.
type Config struct {
	Mapper habits.Options

	// Precision is the number of decimal places kept in stored averages.
	// A negative value stores them unrounded.
	Precision int

	// Backend names the summary store in notifications.
	Backend string

	Logger *log.Logger
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Mapper:    habits.Options{DateProperty: habits.DefaultDateProperty},
		Precision: 2,
		Backend:   "notion",
	}
}

// Request identifies the source database and where its summary lives.
// SummaryID takes precedence over ParentID.
type Request struct {
	SourceDatabaseID string
	ParentID         string
	SummaryID        string
}

// Result is what a run produced.
type Result struct {
	RunID     string
	Daily     core.Table
	Monthly   core.MonthlyTable
	SummaryID string
}

type Pipeline struct {
	source    RecordSource
	store     summary.Store
	publisher Publisher
	config    Config
	logger    *log.Logger
}

// New creates a pipeline. publisher may be nil.
func New(source RecordSource, store summary.Store, publisher Publisher, config Config) *Pipeline {
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Pipeline{
		source:    source,
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger.WithComponent(log.ComponentPipeline),
	}
}

// Daily fetches every record of sourceID and returns the date-sorted table.
func (p *Pipeline) Daily(ctx context.Context, sourceID string) (core.Table, error) {
	return p.daily(ctx, p.logger, sourceID)
}

func (p *Pipeline) daily(ctx context.Context, logger *log.Logger, sourceID string) (core.Table, error) {
	if strings.TrimSpace(sourceID) == "" {
		return core.Table{}, &core.ConfigurationError{Field: "source database id", Reason: "is required"}
	}

	start := time.Now()
	records, err := p.source.FetchAll(ctx, sourceID)
	if err != nil {
		return core.Table{}, fmt.Errorf("fetch records: %w", err)
	}
	logger.InfoContext(ctx, "Fetched records",
		log.FieldOperation, log.OpFetch,
		log.FieldDatabaseID, sourceID,
		log.FieldRecords, len(records),
		log.FieldDuration, time.Since(start).Milliseconds())

	mapper := habits.NewMapper(p.config.Mapper, logger.WithComponent(log.ComponentHabits).Slog())
	table, err := mapper.Tabulate(records)
	if err != nil {
		return core.Table{}, fmt.Errorf("tabulate records: %w", err)
	}
	logger.DebugContext(ctx, "Tabulated records",
		log.FieldOperation, log.OpTabulate,
		log.FieldRows, len(table.Rows),
		log.FieldHabits, table.Habits)
	return table, nil
}

// Monthly aggregates a daily table and rounds the averages to the configured
// precision.
func (p *Pipeline) Monthly(table core.Table) core.MonthlyTable {
	monthly := habits.AggregateMonthly(table)
	if p.config.Precision >= 0 {
		monthly = monthly.Round(p.config.Precision)
	}
	return monthly
}

// Process runs every stage and upserts one summary entry per month. It stops
// at the first error; entries written before it are kept. The context passed
// to the source, the store and the publisher carries the run logger.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := p.logger.With(log.FieldRunID, runID)
	ctx = log.NewContext(ctx, logger)
	start := time.Now()

	logger.InfoContext(ctx, "Starting habit tracking run",
		log.FieldDatabaseID, req.SourceDatabaseID,
		log.FieldParentID, req.ParentID,
		log.FieldSummaryID, req.SummaryID,
		log.FieldBackend, p.config.Backend)

	result, err := p.process(ctx, logger, runID, req)
	fields := log.NewFields().WithDuration(time.Since(start)).WithOutcome(err)
	if err != nil {
		logger.ErrorContext(ctx, "Habit tracking run failed", fields.ToSlice()...)
		return nil, err
	}

	fields[log.FieldSummaryID] = result.SummaryID
	fields[log.FieldRows] = len(result.Daily.Rows)
	fields[log.FieldMonths] = len(result.Monthly.Rows)
	logger.InfoContext(ctx, "Habit tracking run finished", fields.ToSlice()...)
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, logger *log.Logger, runID string, req Request) (*Result, error) {
	daily, err := p.daily(ctx, logger, req.SourceDatabaseID)
	if err != nil {
		return nil, err
	}
	monthly := p.Monthly(daily)
	logger.DebugContext(ctx, "Aggregated months",
		log.FieldOperation, log.OpAggregate,
		log.FieldMonths, len(monthly.Rows))

	summaryID, err := p.resolveSummary(ctx, req, monthly.Habits)
	if err != nil {
		return nil, err
	}

	months := make([]string, 0, len(monthly.Rows))
	for _, row := range monthly.Rows {
		if err := p.store.Upsert(ctx, summaryID, row); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", row.Month.Label(), err)
		}
		months = append(months, row.Month.Label())
	}

	if p.publisher != nil {
		msg := amqp.NewSummaryUpdatedMessage(runID, summaryID, p.config.Backend, months)
		if err := p.publisher.PublishSummaryUpdated(ctx, msg); err != nil {
			return nil, fmt.Errorf("publish summary update: %w", err)
		}
	}

	return &Result{
		RunID:     runID,
		Daily:     daily,
		Monthly:   monthly,
		SummaryID: summaryID,
	}, nil
}

func (p *Pipeline) resolveSummary(ctx context.Context, req Request, habitNames []string) (string, error) {
	if id := strings.TrimSpace(req.SummaryID); id != "" {
		if err := p.store.EnsureSchema(ctx, id, habitNames); err != nil {
			return "", fmt.Errorf("prepare summary %s: %w", id, err)
		}
		return id, nil
	}
	id, err := p.store.FindOrCreate(ctx, req.ParentID, habitNames)
	if err != nil {
		return "", fmt.Errorf("find or create summary under %s: %w", req.ParentID, err)
	}
	return id, nil
}

func (r Request) validate() error {
	if strings.TrimSpace(r.SourceDatabaseID) == "" {
		return &core.ConfigurationError{Field: "source database id", Reason: "is required"}
	}
	if strings.TrimSpace(r.ParentID) == "" && strings.TrimSpace(r.SummaryID) == "" {
		return &core.ConfigurationError{Field: "parent id or summary id", Reason: "is required"}
	}
	return nil
}
