package db

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateExecutesSchema(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS pgcrypto")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), conn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateWrapsError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("CREATE").WillReturnError(errors.New("permission denied"))

	err = Migrate(context.Background(), conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply schema")
}

func TestSchemaDeclaresDeliveryUniqueness(t *testing.T) {
	assert.Contains(t, Schema, "UNIQUE (send_id, email)")
}

func TestSeedInsertsNewsletterAndSubscribers(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO newsletters .* RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("nl-seed"))
	mock.ExpectExec(`INSERT INTO subscribers .* ON CONFLICT \(email\) DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	res, err := Seed(context.Background(), conn, SeedOptions{Subscribers: 4})
	require.NoError(t, err)
	assert.Equal(t, "nl-seed", res.NewsletterID)
	assert.Equal(t, 4, res.Subscribers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRollsBackOnFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO newsletters`).WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, err = Seed(context.Background(), conn, SeedOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert newsletter")
	assert.NoError(t, mock.ExpectationsWereMet())
}
