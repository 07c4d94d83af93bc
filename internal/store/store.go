// Package store persists harvest runs and their records. Persistence is an
// optional collaborator: the pipeline itself never touches it.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/waterfall-cli/internal/config"
	"github.com/sells-group/waterfall-cli/internal/model"
)

// Store defines the persistence interface for harvest output.
type Store interface {
	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// CreateRun inserts a new harvest run row and returns its id.
	CreateRun(ctx context.Context) (string, error)

	// SaveRecords bulk-inserts the run's canonical records.
	SaveRecords(ctx context.Context, runID string, records []model.CanonicalRecord) error

	// CompleteRun finalizes the run row with its outcome counts.
	CompleteRun(ctx context.Context, runID string, records, unprocessable, failedBatches int) error

	// Close releases the underlying connections.
	Close() error
}

// New opens the store named by cfg.Driver. A blank driver means persistence
// is off and returns a nil Store.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: sqlite, postgres)", cfg.Driver)
	}
}

// nullStr maps absent string fields to SQL NULL.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
