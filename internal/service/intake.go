package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"leadflow/internal/constants"
	"leadflow/internal/errors"
	"leadflow/internal/metrics"
	"leadflow/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Intake results reported to metrics
const (
	IntakeAccepted = "accepted"
	IntakeInvalid  = "invalid"
	IntakeLimited  = "limited"
	IntakeUnqueued = "unqueued"
	IntakeError    = "error"
)

// IntakeDatabaseService defines the database operations needed by Intake
type IntakeDatabaseService interface {
	GetLandingPage(ctx context.Context, id int64) (*models.LandingPage, error)
	CreateSubmissionWithinLimits(ctx context.Context, sub *models.Submission, limits models.SubmissionLimits) error
}

// Enqueuer hands a persisted submission to background dispatch
type Enqueuer interface {
	Enqueue(submissionID string) bool
}

// SubmissionRequest is one inbound form fill
type SubmissionRequest struct {
	TenantID      int64             `validate:"gt=0"`
	LandingPageID int64             `validate:"gt=0"`
	FormID        string            `validate:"max=128"`
	Fields        map[string]string `validate:"required"`
	Metadata      models.SubmissionMetadata
}

// SubmissionReceipt acknowledges a persisted submission
type SubmissionReceipt struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Queued    bool      `json:"-"`
}

// Intake is the synchronous front door. It validates, enforces caps, persists
// and enqueues. It never talks to the gateway.
type Intake struct {
	db       IntakeDatabaseService
	queue    Enqueuer
	cfg      models.IntakeConfig
	validate *validator.Validate
	logger   *logrus.Logger
	now      func() time.Time
}

// NewIntake creates the submission intake
func NewIntake(db IntakeDatabaseService, queue Enqueuer, cfg models.IntakeConfig, logger *logrus.Logger) *Intake {
	if cfg.MaxFieldLength <= 0 {
		cfg.MaxFieldLength = constants.DefaultMaxFieldLength
	}
	if cfg.MaxFieldsPerForm <= 0 {
		cfg.MaxFieldsPerForm = constants.DefaultMaxFieldsPerForm
	}
	return &Intake{
		db:       db,
		queue:    queue,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Submit records req and schedules its dispatch. Dispatch outcomes are never
// reported back; a full queue leaves the submission for the replay scheduler.
func (in *Intake) Submit(ctx context.Context, req SubmissionRequest) (*SubmissionReceipt, error) {
	fields, err := in.check(req)
	if err != nil {
		metrics.RecordSubmission(IntakeInvalid)
		return nil, err
	}

	page, err := in.db.GetLandingPage(ctx, req.LandingPageID)
	if err != nil {
		metrics.RecordSubmission(IntakeError)
		return nil, errors.NewDatabaseError("get landing page", err)
	}
	if page == nil || page.TenantID != req.TenantID {
		metrics.RecordSubmission(IntakeInvalid)
		return nil, errors.NewNotFoundError("landing page", fmt.Sprintf("%d", req.LandingPageID))
	}

	sub := &models.Submission{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		LandingPageID: req.LandingPageID,
		FormID:        strings.TrimSpace(req.FormID),
		Fields:        fields,
		Metadata:      req.Metadata,
		CreatedAt:     in.now().UTC(),
	}
	if err := in.db.CreateSubmissionWithinLimits(ctx, sub, in.limitsFor(page, sub.CreatedAt)); err != nil {
		var limitErr *models.LimitExceededError
		if stderrors.As(err, &limitErr) {
			metrics.RecordSubmission(IntakeLimited)
			return nil, errors.NewSubmissionLimitError(limitErr.Scope, limitErr.Limit)
		}
		metrics.RecordSubmission(IntakeError)
		return nil, errors.NewDatabaseError("create submission", err)
	}

	receipt := &SubmissionReceipt{ID: sub.ID, CreatedAt: sub.CreatedAt}
	receipt.Queued = in.queue.Enqueue(sub.ID)

	log := in.logger.WithFields(runFields(sub.TenantID, sub.ID)).WithField(LogFieldLandingPageID, sub.LandingPageID)
	if receipt.Queued {
		metrics.RecordSubmission(IntakeAccepted)
		log.Info("Accepted submission")
	} else {
		metrics.RecordSubmission(IntakeUnqueued)
		log.Warn("Accepted submission without queueing it")
	}
	return receipt, nil
}

// check validates the request shape and returns the cleaned field map
func (in *Intake) check(req SubmissionRequest) (map[string]string, error) {
	if err := in.validate.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return nil, errors.NewValidationError(strings.ToLower(verrs[0].Field()), fmt.Sprintf("failed %s check", verrs[0].Tag()))
		}
		return nil, errors.NewValidationError("request", err.Error())
	}
	if len(req.Fields) > in.cfg.MaxFieldsPerForm {
		return nil, errors.NewValidationError("fields", fmt.Sprintf("at most %d fields are accepted", in.cfg.MaxFieldsPerForm))
	}

	fields := make(map[string]string, len(req.Fields))
	for key, value := range req.Fields {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) > in.cfg.MaxFieldLength {
			return nil, errors.NewValidationError(key, fmt.Sprintf("longer than %d characters", in.cfg.MaxFieldLength))
		}
		fields[key] = value
	}

	for _, required := range []string{models.FieldName, models.FieldNumber} {
		if fields[required] == "" {
			return nil, errors.NewValidationError(required, "is required")
		}
	}
	return fields, nil
}

// limitsFor returns the caps the store checks while inserting a submission for page
func (in *Intake) limitsFor(page *models.LandingPage, at time.Time) models.SubmissionLimits {
	return models.SubmissionLimits{
		PerLandingPage: page.SubmissionLimit,
		PerIP:          in.cfg.MaxPerIPPerHour,
		IPWindowStart:  at.Add(-time.Hour),
	}
}
