package backend

import (
	"context"
	"fmt"
	"log/slog"

	gsheet "habitsync/internal/summary/google"
	"habitsync/internal/summary/memory"
	"habitsync/internal/summary/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case NotionBackend:
		f.logger.Info("Initialized Notion summary backend")
		return &BackendResult{Backend: config.Notion, Type: NotionBackend}, nil
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MemoryBackend:
		f.logger.Info("Initialized memory summary backend")
		return &BackendResult{Backend: memory.New(config.SummaryTitle), Type: MemoryBackend}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	store, err := sqlite.New(config.SQLiteDBPath, config.SummaryTitle)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite summary store: %w", err)
	}

	f.logger.Info("Initialized SQLite summary backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Backend: store,
		Type:    SQLiteBackend,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := gsheet.NewFromEnv(ctx, config.SummaryTitle)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets summary backend")

	return &BackendResult{
		Backend: cli,
		Type:    SheetsBackend,
	}, nil
}
