package summary

import (
	"context"

	"habitsync/internal/core"
)

// DefaultTitle names the summary resource looked up under the parent.
const DefaultTitle = "Monthly Aggregate Summary"

// Ports for outbound adapters.
type (
	// Store is a month-keyed summary resource.
	Store interface {
		// FindOrCreate returns the summary resource under parentID, creating it
		// with one column per habit when it does not exist yet.
		FindOrCreate(ctx context.Context, parentID string, habits []string) (resourceID string, err error)

		// EnsureSchema adds any missing habit columns to an existing resource.
		EnsureSchema(ctx context.Context, resourceID string, habits []string) error

		// Upsert writes row under its month, replacing an existing entry.
		Upsert(ctx context.Context, resourceID string, row core.MonthlyRow) error
	}

	// Reader lists the months currently stored in a summary resource.
	Reader interface {
		ListMonths(ctx context.Context, resourceID string) ([]core.MonthlyRow, error)
	}
)

// ColumnName is the column holding a habit's monthly average.
func ColumnName(habit string) string {
	return "Average " + habit
}
