package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"leadflow/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return NewWithDB(sqlx.NewDb(raw, "sqlite3")), mock
}

func TestCreateTicketWithTracking_RollsBackWhenTrackingFails(t *testing.T) {
	db, mock := newMockDB(t)

	ticket := &models.Ticket{ID: "t-1", TenantID: 1, ContactID: "c-1", ConnectionID: 2, Status: models.TicketStatusPending, CreatedAt: time.Now()}
	tracking := &models.TicketTracking{ID: "tr-1", TicketID: "t-1", TenantID: 1, ConnectionID: 2, QueuedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tickets")).
		WithArgs("t-1", int64(1), "c-1", int64(2), models.TicketStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ticket_trackings")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := db.CreateTicketWithTracking(context.Background(), ticket, tracking)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert ticket tracking")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTicketWithTracking_RollsBackWhenTicketFails(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tickets")).
		WillReturnError(errors.New("FOREIGN KEY constraint failed"))
	mock.ExpectRollback()

	err := db.CreateTicketWithTracking(context.Background(),
		&models.Ticket{ID: "t-1", CreatedAt: time.Now()},
		&models.TicketTracking{ID: "tr-1", QueuedAt: time.Now()})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTicketWithTracking_Commits(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tickets")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ticket_trackings")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := db.CreateTicketWithTracking(context.Background(),
		&models.Ticket{ID: "t-1", CreatedAt: time.Now()},
		&models.TicketTracking{ID: "tr-1", TicketID: "t-1", QueuedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSubmissionProcessed_RetriesWhenLocked(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET processed = 1")).
		WithArgs("sub-1").
		WillReturnError(errors.New("database is locked"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET processed = 1")).
		WithArgs("sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.MarkSubmissionProcessed(context.Background(), "sub-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSubmissionProcessed_NonRetryable(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET processed = 1")).
		WillReturnError(errors.New("no such table: submissions"))

	err := db.MarkSubmissionProcessed(context.Background(), "sub-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-retryable")
	assert.NoError(t, mock.ExpectationsWereMet())
}
