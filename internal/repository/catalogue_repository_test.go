package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/catalogue-reservation/internal/model"
)

func TestCatalogueRepoBumpPublishedVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT payload FROM catalogues").
		WithArgs("MTX", 1, 4, 9).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte("xml")))
	mock.ExpectExec("INSERT INTO catalogues").
		WithArgs("MTX", 2, 0, 0, []byte("xml")).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec("UPDATE catalogues SET reserved_level = NULL").
		WithArgs("MTX", 1, 4, 9).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewCatalogueRepo(db)
	next, err := repo.BumpPublishedVersion(context.Background(), testRef("MTX", 1, 4, 9), model.LevelMajor)
	require.NoError(t, err)
	assert.Equal(t, testRef("MTX", 2, 0, 0), next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogueRepoBumpMissingSourceRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT payload FROM catalogues").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectRollback()

	repo := NewCatalogueRepo(db)
	_, err = repo.BumpPublishedVersion(context.Background(), testRef("MTX", 1, 0, 0), model.LevelMinor)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogueRepoReservedRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO catalogues").
		WithArgs("MTX", 1, 0, 0, "MAJOR", "alice", "fix").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE catalogues SET busy").
		WithArgs(true, "MTX", 1, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE catalogues SET needs_reconciliation").
		WithArgs("MTX", 1, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewCatalogueRepo(db)
	ctx := context.Background()
	ref := testRef("MTX", 1, 0, 0)
	require.NoError(t, repo.CreateReservedRecord(ctx, ref, model.LevelMajor, "alice", "fix"))
	require.NoError(t, repo.SetBusy(ctx, ref, true))
	require.NoError(t, repo.MarkNeedsReconciliation(ctx, ref))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogueRepoImportRejectsEmptyPayload(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewCatalogueRepo(db).ImportVersion(context.Background(), model.StagedVersion{Code: "MTX"})
	assert.Error(t, err)
}
