package resumestate

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*SQLiteRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteRepository(db), mock
}

func TestSQLiteRepository_SaveRollsBackOnChunkInsertError(t *testing.T) {
	repo, mock := newMock(t)
	rec := sampleRecord("h1")

	mock.ExpectBegin()
	mock.ExpectExec(`insert into resume_states`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`delete from resume_chunks where content_hash=\?`).
		WithArgs("h1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`insert into resume_chunks`).
		WithArgs("h1", 0).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`insert into resume_chunks`).
		WithArgs("h1", 1).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert uploaded chunk 1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_SaveUpsertError(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`insert into resume_states`).WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), sampleRecord("h2"))
	require.ErrorContains(t, err, "failed to upsert resume state")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_SaveRequiresHash(t *testing.T) {
	repo, mock := newMock(t)
	require.Error(t, repo.Save(context.Background(), sampleRecord("")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_LoadQueryError(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)select content_hash, source_ref .* from resume_states where content_hash=\?`).
		WithArgs("h3").WillReturnError(errors.New("no such table"))
	mock.ExpectRollback()

	rec, err := repo.Load(context.Background(), "h3")
	require.ErrorContains(t, err, "failed to select resume state")
	assert.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_LoadNoRows(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`from resume_states where content_hash=\?`).
		WithArgs("h4").WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	rec, err := repo.Load(context.Background(), "h4")
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_ListScanError(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`from resume_states order by content_hash`).
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}).AddRow("only-one-column"))
	mock.ExpectRollback()

	_, err := repo.List(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_DeleteError(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`delete from resume_chunks`).WithArgs("h5").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`delete from resume_states`).WithArgs("h5").WillReturnError(errors.New("readonly"))
	mock.ExpectRollback()

	require.ErrorContains(t, repo.Delete(context.Background(), "h5"), "failed to delete resume state")
	require.NoError(t, mock.ExpectationsWereMet())
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestInitDatabase_CreatesSchema(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "state.db")

	db, err := InitDatabase(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, tableExists(t, db, "goose_db_version"))
	assert.True(t, tableExists(t, db, "resume_states"))
	assert.True(t, tableExists(t, db, "resume_chunks"))
}

func TestRunMigrations_IsIdempotent(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunMigrations(ctx, db))
	require.NoError(t, RunMigrations(ctx, db))
	assert.True(t, tableExists(t, db, "resume_states"))
}

func TestSQLiteRepository_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "state.db")

	repo, db, err := OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sampleRecord("persist")))
	require.NoError(t, db.Close())

	repo, db, err = OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	got, err := repo.Load(ctx, "persist")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []int{0, 1, 3}, got.UploadedChunks)
}
