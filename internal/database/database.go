package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"leadflow/internal/constants"
	apperrors "leadflow/internal/errors"
	"leadflow/internal/migrations"
	"leadflow/internal/models"
	"leadflow/internal/security"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database is the sqlite-backed store for submissions, contacts, tickets and the
// read-only landing page catalog.
type Database struct {
	db        *sqlx.DB
	encryptor *encryptor
	logger    *logrus.Logger
}

// New opens (creating if needed) the sqlite database at dbPath, applies the embedded
// migrations and returns a ready store. Connecting is retried with exponential backoff.
func New(ctx context.Context, dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	// _txlock=immediate takes the write lock at BEGIN so read-then-write transactions serialize
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, newDBBackoff(ctx, constants.DefaultDatabaseRetryAttempts))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Apply(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc, logger: logrus.StandardLogger()}, nil
}

// NewWithDB wraps an existing connection without running migrations.
func NewWithDB(db *sqlx.DB) *Database {
	return &Database{db: db, encryptor: &encryptor{}, logger: logrus.StandardLogger()}
}

// SetLogger replaces the logger used for rows the store has to skip
func (d *Database) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func now() time.Time {
	return time.Now().UTC()
}

// Submission operations

type submissionRow struct {
	ID               string    `db:"id"`
	TenantID         int64     `db:"tenant_id"`
	LandingPageID    int64     `db:"landing_page_id"`
	FormID           string    `db:"form_id"`
	Fields           string    `db:"fields"`
	Metadata         string    `db:"metadata"`
	Processed        bool      `db:"processed"`
	DispatchAttempts int       `db:"dispatch_attempts"`
	LastErrorCode    string    `db:"last_error_code"`
	CreatedAt        time.Time `db:"created_at"`
}

func (d *Database) toSubmission(row submissionRow) (*models.Submission, error) {
	sub := &models.Submission{
		ID:               row.ID,
		TenantID:         row.TenantID,
		LandingPageID:    row.LandingPageID,
		FormID:           row.FormID,
		Processed:        row.Processed,
		DispatchAttempts: row.DispatchAttempts,
		LastErrorCode:    row.LastErrorCode,
		CreatedAt:        row.CreatedAt,
	}

	fields, err := d.encryptor.Decrypt(row.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt submission fields: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &sub.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode submission fields: %w", err)
	}

	metadata, err := d.encryptor.Decrypt(row.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt submission metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &sub.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode submission metadata: %w", err)
	}

	return sub, nil
}

// CreateSubmission persists a new, unprocessed submission
func (d *Database) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	return d.CreateSubmissionWithinLimits(ctx, sub, models.SubmissionLimits{})
}

// CreateSubmissionWithinLimits counts the landing page and client IP submissions and
// inserts sub in one immediate transaction, so concurrent inserts cannot overshoot a
// cap. A reached cap returns *models.LimitExceededError and stores nothing.
func (d *Database) CreateSubmissionWithinLimits(ctx context.Context, sub *models.Submission, limits models.SubmissionLimits) error {
	fields, err := json.Marshal(sub.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode submission fields: %w", err)
	}
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode submission metadata: %w", err)
	}

	encFields, err := d.encryptor.Encrypt(string(fields))
	if err != nil {
		return fmt.Errorf("failed to encrypt submission fields: %w", err)
	}
	encMetadata, err := d.encryptor.Encrypt(string(metadata))
	if err != nil {
		return fmt.Errorf("failed to encrypt submission metadata: %w", err)
	}

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now()
	}
	ipHash := lookupHash(sub.Metadata.IP)

	return retryableDBOperationNoReturn(ctx, func() error {
		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if limits.PerLandingPage > 0 {
			var count int
			if err := tx.GetContext(ctx, &count, CountSubmissionsByLandingPageQuery, sub.LandingPageID); err != nil {
				return err
			}
			if count >= limits.PerLandingPage {
				return &models.LimitExceededError{Scope: models.LimitScopeLandingPage, Limit: limits.PerLandingPage}
			}
		}

		if limits.PerIP > 0 && sub.Metadata.IP != "" {
			var count int
			if err := tx.GetContext(ctx, &count, CountSubmissionsByIPSinceQuery, ipHash, limits.IPWindowStart.UTC()); err != nil {
				return err
			}
			if count >= limits.PerIP {
				return &models.LimitExceededError{Scope: models.LimitScopeIP, Limit: limits.PerIP}
			}
		}

		if _, err := tx.ExecContext(ctx, InsertSubmissionQuery,
			sub.ID, sub.TenantID, sub.LandingPageID, sub.FormID,
			encFields, encMetadata, ipHash, sub.CreatedAt.UTC()); err != nil {
			return err
		}
		return tx.Commit()
	}, "save submission")
}

// GetSubmission returns the submission with the given id, or nil when absent
func (d *Database) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var row submissionRow
	if err := d.db.GetContext(ctx, &row, SelectSubmissionQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return d.toSubmission(row)
}

// MarkSubmissionProcessed flips processed to true. It never resets it.
func (d *Database) MarkSubmissionProcessed(ctx context.Context, id string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, MarkSubmissionProcessedQuery, id)
		return err
	}, "mark submission processed")
}

// RecordDispatchFailure counts an aborted dispatch run and remembers why
func (d *Database) RecordDispatchFailure(ctx context.Context, id string, code string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, RecordDispatchFailureQuery, code, id)
		return err
	}, "record dispatch failure")
}

// ListReplayableSubmissions returns unprocessed submissions created before olderThan that
// either never ran or last failed with one of retryCodes, and have attempts left.
// A row that cannot be decoded is skipped and recorded as an INTERNAL_ERROR failure
// so later batches leave it out.
func (d *Database) ListReplayableSubmissions(ctx context.Context, olderThan time.Time, maxAttempts int, retryCodes []string, limit int) ([]*models.Submission, error) {
	if len(retryCodes) == 0 {
		retryCodes = []string{""}
	}
	query, args, err := sqlx.In(SelectReplayableSubmissionsQuery, olderThan.UTC(), maxAttempts, retryCodes, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build replay query: %w", err)
	}

	var rows []submissionRow
	if err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list replayable submissions: %w", err)
	}

	subs := make([]*models.Submission, 0, len(rows))
	for _, row := range rows {
		sub, err := d.toSubmission(row)
		if err != nil {
			log := d.logger.WithError(err).WithField("submission_id", row.ID)
			log.Error("Skipping unreadable submission")
			if recErr := d.RecordDispatchFailure(ctx, row.ID, string(apperrors.ErrCodeInternalError)); recErr != nil {
				log.WithField("record_error", recErr).Warn("Failed to mark unreadable submission")
			}
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Landing pages and connections

type landingPageRow struct {
	ID              int64  `db:"id"`
	TenantID        int64  `db:"tenant_id"`
	Title           string `db:"title"`
	Slug            string `db:"slug"`
	SubmissionLimit int    `db:"submission_limit"`
	DispatchConfig  string `db:"dispatch_config"`
}

// SaveLandingPage inserts a landing page and sets its ID
func (d *Database) SaveLandingPage(ctx context.Context, lp *models.LandingPage) error {
	dispatch, err := json.Marshal(lp.Dispatch)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch config: %w", err)
	}
	res, err := d.db.ExecContext(ctx, InsertLandingPageQuery, lp.TenantID, lp.Title, lp.Slug, lp.SubmissionLimit, string(dispatch))
	if err != nil {
		return fmt.Errorf("failed to save landing page: %w", err)
	}
	lp.ID, err = res.LastInsertId()
	return err
}

// GetLandingPage loads a landing page with its parsed dispatch config, or nil when absent
func (d *Database) GetLandingPage(ctx context.Context, id int64) (*models.LandingPage, error) {
	var row landingPageRow
	if err := d.db.GetContext(ctx, &row, SelectLandingPageQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get landing page: %w", err)
	}

	dispatch, err := models.ParseDispatchConfig([]byte(row.DispatchConfig))
	if err != nil {
		return nil, err
	}

	return &models.LandingPage{
		ID:              row.ID,
		TenantID:        row.TenantID,
		Title:           row.Title,
		Slug:            row.Slug,
		SubmissionLimit: row.SubmissionLimit,
		Dispatch:        dispatch,
	}, nil
}

// SaveConnection inserts a gateway connection and sets its ID
func (d *Database) SaveConnection(ctx context.Context, conn *models.Connection) error {
	res, err := d.db.ExecContext(ctx, InsertConnectionQuery, conn.TenantID, conn.Name, conn.SessionName, conn.Status, conn.IsDefault)
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	conn.ID, err = res.LastInsertId()
	return err
}

// GetConnection returns a connection by id, or nil when absent
func (d *Database) GetConnection(ctx context.Context, id int64) (*models.Connection, error) {
	var conn models.Connection
	if err := d.db.GetContext(ctx, &conn, SelectConnectionQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

// ListConnections returns a tenant's connections, default first
func (d *Database) ListConnections(ctx context.Context, tenantID int64) ([]models.Connection, error) {
	var conns []models.Connection
	if err := d.db.SelectContext(ctx, &conns, SelectConnectionsByTenantQuery, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// ListAllConnections returns every connection across tenants
func (d *Database) ListAllConnections(ctx context.Context) ([]models.Connection, error) {
	var conns []models.Connection
	if err := d.db.SelectContext(ctx, &conns, SelectAllConnectionsQuery); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// UpdateConnectionStatus stores the last observed gateway session status
func (d *Database) UpdateConnectionStatus(ctx context.Context, id int64, status models.ConnectionStatus) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateConnectionStatusQuery, status, id)
		return err
	}, "update connection status")
}

// Contact operations

// UpsertContact creates the contact or merges non-empty fields into the existing one for
// (tenant, canonical number). Extra fields are upserted by name. The stored contact is returned.
func (d *Database) UpsertContact(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	ts := now()
	var stored models.Contact

	err := retryableDBOperationNoReturn(ctx, func() error {
		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, UpsertContactQuery,
			c.ID, c.TenantID, c.CanonicalNumber, c.Name, c.Email, c.ConnectionID, ts, ts); err != nil {
			return err
		}

		if err := tx.GetContext(ctx, &stored, SelectContactByNumberQuery, c.TenantID, c.CanonicalNumber); err != nil {
			return err
		}

		for _, f := range c.ExtraFields {
			if f.Name == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, UpsertContactExtraFieldQuery, stored.ID, f.Name, f.Value); err != nil {
				return err
			}
		}

		stored.ExtraFields = nil
		if err := tx.SelectContext(ctx, &stored.ExtraFields, SelectContactExtraFieldsQuery, stored.ID); err != nil {
			return err
		}

		return tx.Commit()
	}, "upsert contact")
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}
	return &stored, nil
}

// GetContactByNumber returns the tenant's contact for a canonical number, or nil when absent
func (d *Database) GetContactByNumber(ctx context.Context, tenantID int64, canonicalNumber string) (*models.Contact, error) {
	var c models.Contact
	if err := d.db.GetContext(ctx, &c, SelectContactByNumberQuery, tenantID, canonicalNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	if err := d.db.SelectContext(ctx, &c.ExtraFields, SelectContactExtraFieldsQuery, c.ID); err != nil {
		return nil, fmt.Errorf("failed to get contact extra fields: %w", err)
	}
	return &c, nil
}

// UpdateContactProfilePicture stores the latest profile picture URL
func (d *Database) UpdateContactProfilePicture(ctx context.Context, contactID, url string) error {
	_, err := d.db.ExecContext(ctx, UpdateContactProfilePictureQuery, url, now(), contactID)
	if err != nil {
		return fmt.Errorf("failed to update profile picture: %w", err)
	}
	return nil
}

// Ticket operations

// FindRecentTicket returns the newest ticket for the contact on the connection created at or
// after since, or nil when there is none.
func (d *Database) FindRecentTicket(ctx context.Context, tenantID int64, contactID string, connectionID int64, since time.Time) (*models.Ticket, error) {
	var t models.Ticket
	if err := d.db.GetContext(ctx, &t, SelectRecentTicketQuery, tenantID, contactID, connectionID, since.UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find recent ticket: %w", err)
	}
	return &t, nil
}

// ListTicketsByContact returns all tickets of a contact, oldest first
func (d *Database) ListTicketsByContact(ctx context.Context, tenantID int64, contactID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	if err := d.db.SelectContext(ctx, &tickets, SelectTicketsByContactQuery, tenantID, contactID); err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

// CreateTicketWithTracking inserts a ticket and its tracking record in one transaction.
// Either both rows exist afterwards or neither does.
func (d *Database) CreateTicketWithTracking(ctx context.Context, t *models.Ticket, tr *models.TicketTracking) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ticket transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, InsertTicketQuery,
		t.ID, t.TenantID, t.ContactID, t.ConnectionID, t.Status, t.CreatedAt.UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert ticket: %w", err)
	}

	if _, err := tx.ExecContext(ctx, InsertTicketTrackingQuery,
		tr.ID, tr.TicketID, tr.TenantID, tr.ConnectionID, tr.QueuedAt.UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert ticket tracking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ticket: %w", err)
	}
	return nil
}

// Message operations

// SaveMessage appends a message record
func (d *Database) SaveMessage(ctx context.Context, m *models.MessageRecord) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.NamedExecContext(ctx, InsertMessageQuery, m)
		return err
	}, "save message")
}

// ListMessagesByTicket returns a ticket's messages in send order
func (d *Database) ListMessagesByTicket(ctx context.Context, ticketID string) ([]models.MessageRecord, error) {
	var msgs []models.MessageRecord
	if err := d.db.SelectContext(ctx, &msgs, SelectMessagesByTicketQuery, ticketID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// Tags

// CreateTag inserts a tenant tag and returns its id
func (d *Database) CreateTag(ctx context.Context, tenantID int64, name string) (int64, error) {
	res, err := d.db.ExecContext(ctx, InsertTagQuery, tenantID, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create tag: %w", err)
	}
	return res.LastInsertId()
}

// AttachTags links tags to a contact, skipping links that already exist and tags that
// do not belong to the tenant. It returns the number of new links.
func (d *Database) AttachTags(ctx context.Context, tenantID int64, contactID string, tagIDs []int64) (int, error) {
	if len(tagIDs) == 0 {
		return 0, nil
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tag transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	added := 0
	for _, tagID := range tagIDs {
		res, err := tx.ExecContext(ctx, AttachTagQuery, contactID, tagID, tenantID)
		if err != nil {
			return 0, fmt.Errorf("failed to attach tag %d: %w", tagID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit tags: %w", err)
	}
	return added, nil
}

// Groups

// SaveGroupSeries inserts a managed group series and sets its ID
func (d *Database) SaveGroupSeries(ctx context.Context, s *models.GroupSeries) error {
	res, err := d.db.ExecContext(ctx, InsertGroupSeriesQuery, s.TenantID, s.Name)
	if err != nil {
		return fmt.Errorf("failed to save group series: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

// SaveGroup inserts a group and sets its ID
func (d *Database) SaveGroup(ctx context.Context, g *models.Group) error {
	res, err := d.db.NamedExecContext(ctx, InsertGroupQuery, g)
	if err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	return err
}

// GetGroup returns a group scoped to tenant and connection, or nil when absent
func (d *Database) GetGroup(ctx context.Context, tenantID, connectionID, groupID int64) (*models.Group, error) {
	var g models.Group
	if err := d.db.GetContext(ctx, &g, SelectGroupQuery, groupID, tenantID, connectionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &g, nil
}

// ListSeriesGroups returns the series' groups on a connection ordered by position
func (d *Database) ListSeriesGroups(ctx context.Context, tenantID, connectionID, seriesID int64) ([]models.Group, error) {
	var groups []models.Group
	if err := d.db.SelectContext(ctx, &groups, SelectSeriesGroupsQuery, seriesID, tenantID, connectionID); err != nil {
		return nil, fmt.Errorf("failed to list series groups: %w", err)
	}
	return groups, nil
}

// UpdateGroupParticipantCount stores the participant count reported by the gateway
func (d *Database) UpdateGroupParticipantCount(ctx context.Context, groupID int64, count int) error {
	_, err := d.db.ExecContext(ctx, UpdateGroupParticipantCountQuery, count, groupID)
	if err != nil {
		return fmt.Errorf("failed to update group participant count: %w", err)
	}
	return nil
}
