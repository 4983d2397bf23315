package migration

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMigrator(t *testing.T) (*Migrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewMigrator(db, logger)
	m.migrations = []Migration{
		{Version: 1, Description: "one", SQL: "CREATE TABLE a (id INT)"},
		{Version: 2, Description: "two", SQL: "CREATE TABLE b (id INT)"},
	}
	return m, mock
}

func expectVersion(mock sqlmock.Sqlmock, version int) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(version))
}

func TestMigrateAppliesOnlyPending(t *testing.T) {
	m, mock := newTestMigrator(t)

	expectVersion(mock, 1)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs(2, "two").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := m.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2}, result.Applied)
	assert.Equal(t, 1, result.Skipped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRollsBackFailedVersion(t *testing.T) {
	m, mock := newTestMigrator(t)

	expectVersion(mock, 0)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id INT)")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	result, err := m.Migrate(context.Background())
	require.Error(t, err)
	assert.Empty(t, result.Applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateDryRun(t *testing.T) {
	m, mock := newTestMigrator(t)
	m.SetDryRun(true)

	expectVersion(mock, 0)

	result, err := m.Migrate(context.Background())
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, []int{1, 2}, result.Applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusListsPending(t *testing.T) {
	m, mock := newTestMigrator(t)

	expectVersion(mock, 1)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Current)
	assert.Equal(t, []int{2}, status.Pending)
}

func TestSchemaVersionsAscending(t *testing.T) {
	for i := 1; i < len(Schema); i++ {
		assert.Greater(t, Schema[i].Version, Schema[i-1].Version)
	}
}
