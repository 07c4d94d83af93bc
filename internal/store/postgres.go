package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/waterfall-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool creates a PostgresStore around an existing pool.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id             UUID PRIMARY KEY,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ,
	records        INTEGER,
	unprocessable  INTEGER,
	failed_batches INTEGER
);

CREATE TABLE IF NOT EXISTS waterfalls (
	run_id     UUID NOT NULL REFERENCES harvest_runs(id),
	id         TEXT NOT NULL,
	name       TEXT NOT NULL,
	county     TEXT,
	state      TEXT,
	country    TEXT,
	latitude   DOUBLE PRECISION,
	longitude  DOUBLE PRECISION,
	watershed  TEXT,
	stream     TEXT,
	form       TEXT,
	source_url TEXT NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE INDEX IF NOT EXISTS idx_waterfalls_run_id ON waterfalls(run_id);
`

// waterfallColumns is the COPY column list for bulk record inserts.
var waterfallColumns = []string{
	"run_id", "id", "name", "county", "state", "country",
	"latitude", "longitude", "watershed", "stream", "form", "source_url",
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO harvest_runs (id, started_at) VALUES ($1, $2)`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert run")
	}
	return id, nil
}

// SaveRecords bulk-inserts records via the COPY protocol.
func (s *PostgresStore) SaveRecords(ctx context.Context, runID string, records []model.CanonicalRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			runID, r.ID, r.Name,
			nullStr(r.County), nullStr(r.State), nullStr(r.Country),
			r.Latitude, r.Longitude,
			nullStr(r.Watershed), nullStr(r.Stream), nullStr(r.Form),
			r.SourceURL,
		})
	}

	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"waterfalls"}, waterfallColumns, pgx.CopyFromRows(rows))
	return eris.Wrapf(err, "postgres: COPY %d waterfalls", len(records))
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, records, unprocessable, failedBatches int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE harvest_runs SET finished_at = $1, records = $2, unprocessable = $3, failed_batches = $4 WHERE id = $5`,
		time.Now().UTC(), records, unprocessable, failedBatches, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", runID)
	}
	return nil
}
