package service

import (
	"context"
	"fmt"
	"time"

	"leadflow/internal/constants"
	"leadflow/internal/errors"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/internal/tracing"
	"leadflow/internal/validation"
	"leadflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DispatchStage is how far a run got
type DispatchStage string

const (
	StageReceived        DispatchStage = "received"
	StageContactResolved DispatchStage = "contact_resolved"
	StageThreadCreated   DispatchStage = "thread_created"
	StageConfirmation    DispatchStage = "confirmation_done"
	StageGroupInvite     DispatchStage = "group_invite_done"
	StageAdminNotify     DispatchStage = "admin_notify_done"
	StageCompleted       DispatchStage = "completed"
	StageFailed          DispatchStage = "failed"
)

const bookkeepingTimeout = time.Duration(constants.DefaultBookkeepingTimeoutSec) * time.Second

var stageAfterStep = map[string]DispatchStage{
	StepConfirmation: StageConfirmation,
	StepGroupInvite:  StageGroupInvite,
	StepAdminNotify:  StageAdminNotify,
}

// DispatchDatabaseService defines the database operations the orchestrator itself needs
type DispatchDatabaseService interface {
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	GetLandingPage(ctx context.Context, id int64) (*models.LandingPage, error)
	GetConnection(ctx context.Context, id int64) (*models.Connection, error)
	ListConnections(ctx context.Context, tenantID int64) ([]models.Connection, error)
	MarkSubmissionProcessed(ctx context.Context, id string) error
	RecordDispatchFailure(ctx context.Context, id string, code string) error
}

// Store is every persistence operation a dispatch run touches
type Store interface {
	DispatchDatabaseService
	ContactDatabaseService
	TicketDatabaseService
	TagDatabaseService
	GroupDatabaseService
	MessageDatabaseService
}

// DispatchSummary is the result of one run
type DispatchSummary struct {
	SubmissionID     string
	TenantID         int64
	ContactID        string
	TicketID         string
	TicketCreated    bool
	Stage            DispatchStage
	FailedStage      DispatchStage
	Steps            []StepOutcome
	Err              error
	AlreadyProcessed bool
	StartedAt        time.Time
	Duration         time.Duration
}

// Failed reports whether the run aborted before its thread existed
func (s *DispatchSummary) Failed() bool {
	return s.Stage == StageFailed
}

// Outcome returns the metric label for the run
func (s *DispatchSummary) Outcome() string {
	switch {
	case s.Failed():
		return metrics.OutcomeFailure
	case s.AlreadyProcessed:
		return metrics.OutcomeSkipped
	default:
		return metrics.OutcomeSuccess
	}
}

// StepFailures counts steps that ran and failed
func (s *DispatchSummary) StepFailures() int {
	n := 0
	for _, o := range s.Steps {
		if !o.OK && !o.Skipped {
			n++
		}
	}
	return n
}

// Orchestrator runs the dispatch pipeline for one submission at a time.
// It is safe for concurrent use; only TicketGuard serializes runs.
type Orchestrator struct {
	db          DispatchDatabaseService
	gateway     types.Gateway
	validator   *NumberValidator
	contacts    *ContactRegistry
	tags        *TagApplier
	tickets     *TicketGuard
	steps       []dispatchStep
	countryCode string
	stepDelay   time.Duration
	location    *time.Location
	logger      *logrus.Logger
	now         func() time.Time
}

// NewOrchestrator wires the pipeline collaborators around store and gateway
func NewOrchestrator(store Store, gateway types.Gateway, images ImageSource, pipeline models.PipelineConfig, gw models.GatewayConfig, logger *logrus.Logger) *Orchestrator {
	location := time.UTC
	if pipeline.Timezone != "" {
		loc, err := time.LoadLocation(pipeline.Timezone)
		if err != nil {
			logger.WithError(err).WithField("timezone", pipeline.Timezone).Warn("Unknown timezone, rendering times in UTC")
		} else {
			location = loc
		}
	}

	o := &Orchestrator{
		db:          store,
		gateway:     gateway,
		validator:   NewNumberValidator(gw.LookupTimeout, logger),
		contacts:    NewContactRegistry(store, pipeline.ProfilePictureTimeout, logger),
		tags:        NewTagApplier(store, logger),
		tickets:     NewTicketGuard(store, pipeline.TicketDedupeWindow, logger),
		countryCode: pipeline.DefaultCountryCode,
		stepDelay:   pipeline.StepDelay,
		location:    location,
		logger:      logger,
		now:         time.Now,
	}
	if o.countryCode == "" {
		o.countryCode = constants.DefaultCountryCode
	}

	sender := &messageSender{
		db:            store,
		images:        images,
		presenceDelay: gw.PresenceDelay,
		now:           func() time.Time { return o.now() },
	}
	o.steps = []dispatchStep{
		&confirmationStep{sender: sender},
		&groupInviteStep{sender: sender, groups: NewGroupService(store, logger)},
		&adminNotifyStep{sender: sender, validator: o.validator, contacts: o.contacts, tickets: o.tickets},
	}
	return o
}

// Contacts exposes the registry so callers can wait for background refreshes
func (o *Orchestrator) Contacts() *ContactRegistry {
	return o.contacts
}

// Run dispatches the submission with the given id. Failures before the thread
// exists leave the submission unprocessed with its error code recorded. Once the
// thread exists every step runs and the submission is marked processed.
func (o *Orchestrator) Run(ctx context.Context, submissionID string) (summary *DispatchSummary) {
	summary = &DispatchSummary{
		SubmissionID: submissionID,
		Stage:        StageReceived,
		StartedAt:    o.now(),
	}

	ctx, span := tracing.StartSpan(ctx, "dispatch.run", attribute.String(LogFieldSubmissionID, submissionID))
	defer span.End()
	defer func() {
		summary.Duration = o.now().Sub(summary.StartedAt)
		metrics.RecordDispatch(summary.Outcome(), summary.Duration)
		for _, step := range summary.Steps {
			metrics.RecordStep(step.Step, step.Outcome())
		}
		tracing.AddSpanAttributes(ctx, attribute.String(LogFieldStage, string(summary.Stage)))
	}()

	log := o.logger.WithField(LogFieldSubmissionID, submissionID)

	sub, err := o.db.GetSubmission(ctx, submissionID)
	if err != nil {
		o.abort(ctx, summary, log, nil, errors.NewDatabaseError("get submission", err))
		return summary
	}
	if sub == nil {
		o.abort(ctx, summary, log, nil, errors.NewNotFoundError("submission", submissionID))
		return summary
	}
	summary.TenantID = sub.TenantID
	log = o.logger.WithFields(runFields(sub.TenantID, sub.ID)).WithField(LogFieldLandingPageID, sub.LandingPageID)
	tracing.AddSpanAttributes(ctx, attribute.Int64(LogFieldTenantID, sub.TenantID))

	if sub.Processed {
		summary.AlreadyProcessed = true
		summary.Stage = StageCompleted
		log.Debug("Skipping dispatch: submission already processed")
		return summary
	}

	run, err := o.prepare(ctx, sub, summary, log)
	if err != nil {
		o.abort(ctx, summary, log, sub, err)
		return summary
	}

	log = run.log
	log.WithField(LogFieldStage, summary.Stage).Info("Starting dispatch steps")

	for i, step := range o.steps {
		if i > 0 && o.stepDelay > 0 {
			_ = sleepContext(ctx, o.stepDelay)
		}
		outcome := o.runStep(ctx, step, run)
		summary.Steps = append(summary.Steps, outcome)
		summary.Stage = stageAfterStep[step.Name()]
		o.logStep(log, outcome)
		tracing.AddEvent(ctx, "dispatch.step",
			attribute.String(LogFieldStep, outcome.Step),
			attribute.String(LogFieldOutcome, outcome.Outcome()))
	}

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := o.db.MarkSubmissionProcessed(markCtx, sub.ID); err != nil {
		summary.Err = errors.NewDatabaseError("mark submission processed", err)
		log.WithError(err).Error("Failed to mark submission processed")
	}
	summary.Stage = StageCompleted

	log.WithFields(logrus.Fields{
		LogFieldStage:    summary.Stage,
		"step_failures":  summary.StepFailures(),
		LogFieldTicketID: summary.TicketID,
		LogFieldDuration: o.now().Sub(summary.StartedAt).Milliseconds(),
	}).Info("Completed dispatch")
	return summary
}

// prepare takes the run from received to thread_created
func (o *Orchestrator) prepare(ctx context.Context, sub *models.Submission, summary *DispatchSummary, log *logrus.Entry) (*dispatchRun, error) {
	page, err := o.db.GetLandingPage(ctx, sub.LandingPageID)
	if err != nil {
		return nil, errors.NewDatabaseError("get landing page", err)
	}
	if page == nil || page.TenantID != sub.TenantID {
		return nil, errors.NewNotFoundError("landing page", fmt.Sprintf("%d", sub.LandingPageID))
	}

	conn, err := o.selectConnection(ctx, sub.TenantID, page.Dispatch.ConnectionID)
	if err != nil {
		return nil, err
	}
	session := o.gateway.Session(conn.SessionName)
	log = log.WithFields(logrus.Fields{LogFieldConnectionID: conn.ID, LogFieldSession: conn.SessionName})

	countryCode := o.countryCode
	if page.Dispatch.CountryCode != "" {
		countryCode = page.Dispatch.CountryCode
	}

	phone, err := validation.NormalizePhone(sub.Number(), countryCode)
	if err != nil {
		return nil, err
	}
	chatID, err := o.validator.Resolve(ctx, session, phone)
	if err != nil {
		return nil, err
	}
	canonical := validation.CanonicalFromChatID(chatID)
	if canonical == "" {
		canonical = phone.E164()
	}

	contact, err := o.contacts.CreateOrUpdate(ctx, session, ContactInput{
		TenantID:        sub.TenantID,
		CanonicalNumber: canonical,
		ChatID:          chatID,
		Name:            sub.Name(),
		Email:           sub.Email(),
		ConnectionID:    conn.ID,
		ExtraFields:     sub.Fields,
	})
	if err != nil {
		return nil, err
	}
	summary.ContactID = contact.ID
	summary.Stage = StageContactResolved
	log = log.WithField(LogFieldContactID, contact.ID)

	if _, err := o.tags.Apply(ctx, sub.TenantID, contact.ID, page.Dispatch.ContactTags); err != nil {
		log.WithError(err).Warn("Failed to apply contact tags")
	}

	ticket, created, err := o.tickets.OpenTicket(ctx, TicketRequest{
		TenantID:     sub.TenantID,
		ContactID:    contact.ID,
		ConnectionID: conn.ID,
	})
	if err != nil {
		return nil, err
	}
	summary.TicketID = ticket.ID
	summary.TicketCreated = created
	summary.Stage = StageThreadCreated

	return &dispatchRun{
		submission:  sub,
		page:        page,
		connection:  conn,
		session:     session,
		contact:     contact,
		ticket:      ticket,
		chatID:      chatID,
		countryCode: countryCode,
		vars:        templateVars(sub, page, canonical, o.now().In(o.location)),
		log:         log.WithField(LogFieldTicketID, ticket.ID),
	}, nil
}

// selectConnection returns the page's configured connection, or the tenant's
// default connected one when none is configured
func (o *Orchestrator) selectConnection(ctx context.Context, tenantID, preferredID int64) (*models.Connection, error) {
	if preferredID > 0 {
		conn, err := o.db.GetConnection(ctx, preferredID)
		if err != nil {
			return nil, errors.NewDatabaseError("get connection", err)
		}
		if conn == nil || conn.TenantID != tenantID {
			return nil, errors.NewConfigError("dispatch.connection_id", "configured connection does not exist").
				WithContext(LogFieldConnectionID, preferredID)
		}
		if !conn.IsConnected() {
			return nil, errors.NewConfigError("dispatch.connection_id", fmt.Sprintf("configured connection is %s", conn.Status)).
				WithContext(LogFieldConnectionID, conn.ID)
		}
		return conn, nil
	}

	conns, err := o.db.ListConnections(ctx, tenantID)
	if err != nil {
		return nil, errors.NewDatabaseError("list connections", err)
	}
	var fallback *models.Connection
	for i := range conns {
		if !conns[i].IsConnected() {
			continue
		}
		if conns[i].IsDefault {
			return &conns[i], nil
		}
		if fallback == nil {
			fallback = &conns[i]
		}
	}
	if fallback == nil {
		return nil, errors.NewConfigError("connections", "tenant has no connected connection").
			WithContext(LogFieldTenantID, tenantID).
			WithContext(LogFieldCount, len(conns))
	}
	return fallback, nil
}

func (o *Orchestrator) runStep(ctx context.Context, step dispatchStep, run *dispatchRun) (outcome StepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = stepFailed(step.Name(), fmt.Errorf("step panicked: %v", r))
		}
	}()
	if err := ctx.Err(); err != nil {
		return stepFailed(step.Name(), errors.NewTimeoutError(step.Name(), "context done"))
	}
	return step.Run(ctx, run)
}

func (o *Orchestrator) logStep(log *logrus.Entry, outcome StepOutcome) {
	entry := log.WithFields(logrus.Fields{
		LogFieldStep:    outcome.Step,
		LogFieldOutcome: outcome.Outcome(),
	})
	switch {
	case outcome.Skipped:
		entry.WithField("reason", outcome.Reason).Debug("Skipping dispatch step")
	case outcome.OK:
		entry.Info("Completed dispatch step")
	default:
		errors.WrapLogger(o.logger).LogRetryableError(outcome.Err, "Failed dispatch step", entry.Data)
	}
}

// abort ends a run that never reached its thread
func (o *Orchestrator) abort(ctx context.Context, summary *DispatchSummary, log *logrus.Entry, sub *models.Submission, err error) {
	summary.FailedStage = summary.Stage
	summary.Stage = StageFailed
	summary.Err = err

	code := errors.GetCode(err)
	tracing.RecordError(ctx, err, attribute.String(LogFieldStage, string(summary.FailedStage)))

	if sub != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
		defer cancel()
		if recErr := o.db.RecordDispatchFailure(recordCtx, sub.ID, string(code)); recErr != nil {
			log.WithError(recErr).Error("Failed to record dispatch failure")
		}
	}

	errors.WrapLogger(o.logger).LogRetryableError(err, "Failed to dispatch submission", log.WithFields(logrus.Fields{
		LogFieldStage:     summary.FailedStage,
		LogFieldErrorCode: code,
	}).Data)
}
