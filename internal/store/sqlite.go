package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/waterfall-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id             TEXT PRIMARY KEY,
	started_at     DATETIME NOT NULL,
	finished_at    DATETIME,
	records        INTEGER,
	unprocessable  INTEGER,
	failed_batches INTEGER
);

CREATE TABLE IF NOT EXISTS waterfalls (
	run_id     TEXT NOT NULL REFERENCES harvest_runs(id),
	id         TEXT NOT NULL,
	name       TEXT NOT NULL,
	county     TEXT,
	state      TEXT,
	country    TEXT,
	latitude   REAL,
	longitude  REAL,
	watershed  TEXT,
	stream     TEXT,
	form       TEXT,
	source_url TEXT NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE INDEX IF NOT EXISTS idx_waterfalls_run_id ON waterfalls(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO harvest_runs (id, started_at) VALUES (?, ?)`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert run")
	}
	return id, nil
}

func (s *SQLiteStore) SaveRecords(ctx context.Context, runID string, records []model.CanonicalRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO waterfalls
		(run_id, id, name, county, state, country, latitude, longitude, watershed, stream, form, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			runID, r.ID, r.Name,
			nullStr(r.County), nullStr(r.State), nullStr(r.Country),
			r.Latitude, r.Longitude,
			nullStr(r.Watershed), nullStr(r.Stream), nullStr(r.Form),
			r.SourceURL,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert waterfall %s", r.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit records")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, records, unprocessable, failedBatches int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE harvest_runs SET finished_at = ?, records = ?, unprocessable = ?, failed_batches = ? WHERE id = ?`,
		time.Now().UTC(), records, unprocessable, failedBatches, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run %s not found", runID)
	}
	return nil
}
