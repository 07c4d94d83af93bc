package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS harvest_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateRun(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO harvest_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	runID, err := s.CreateRun(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveRecords(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectCopyFrom(pgx.Identifier{"waterfalls"}, waterfallColumns).
		WillReturnResult(2)

	err := s.SaveRecords(context.Background(), "run-1", storeRecords())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveRecordsEmptySkipsCopy(t *testing.T) {
	s, mock := newMockStore(t)

	require.NoError(t, s.SaveRecords(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteRun(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE harvest_runs").
		WithArgs(pgxmock.AnyArg(), 5, 1, 0, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteRun(context.Background(), "run-1", 5, 1, 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteUnknownRun(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE harvest_runs").
		WithArgs(pgxmock.AnyArg(), 0, 0, 0, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "ghost", 0, 0, 0)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
