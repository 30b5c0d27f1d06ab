package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"leadflow/internal/errors"
	"leadflow/internal/media"
	"leadflow/internal/models"
	"leadflow/internal/validation"
	"leadflow/pkg/constants"
	"leadflow/pkg/whatsapp/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatch step names
const (
	StepConfirmation = "confirmation"
	StepGroupInvite  = "group_invite"
	StepAdminNotify  = "admin_notify"
)

// MessageDatabaseService defines the database operations needed to record sends
type MessageDatabaseService interface {
	SaveMessage(ctx context.Context, msg *models.MessageRecord) error
}

// ImageSource resolves image references to loadable files
type ImageSource interface {
	Resolve(ctx context.Context, ref string, tenantID int64) *media.Image
}

// StepOutcome is the result of one dispatch step
type StepOutcome struct {
	Step    string
	OK      bool
	Skipped bool
	Reason  string
	Err     error
}

// Outcome returns the metric label for the step result
func (o StepOutcome) Outcome() string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.OK:
		return "success"
	default:
		return "failure"
	}
}

func stepSucceeded(step string) StepOutcome {
	return StepOutcome{Step: step, OK: true}
}

func stepSkipped(step, reason string) StepOutcome {
	return StepOutcome{Step: step, Skipped: true, Reason: reason}
}

func stepFailed(step string, err error) StepOutcome {
	return StepOutcome{Step: step, Err: errors.NewStepFailure(step, err)}
}

// dispatchRun carries what a run resolved before its steps start
type dispatchRun struct {
	submission  *models.Submission
	page        *models.LandingPage
	connection  *models.Connection
	session     types.Session
	contact     *models.Contact
	ticket      *models.Ticket
	chatID      string
	countryCode string
	vars        map[string]string
	log         *logrus.Entry
}

// dispatchStep is one best-effort action of a run. Run never panics the caller
// and reports every problem through the outcome.
type dispatchStep interface {
	Name() string
	Run(ctx context.Context, run *dispatchRun) StepOutcome
}

// outgoing is one message to a single chat
type outgoing struct {
	tenantID  int64
	ticketID  string
	contactID string
	chatID    string
	body      string
	imageRef  string
}

// messageSender delivers one message with an optional image and records every
// attempt. A missing or rejected image degrades to a text send with the same body.
type messageSender struct {
	db            MessageDatabaseService
	images        ImageSource
	presenceDelay time.Duration
	now           func() time.Time
}

func (s *messageSender) send(ctx context.Context, session types.Session, msg outgoing, log *logrus.Entry) error {
	var img *media.Image
	if msg.imageRef != "" && s.images != nil {
		img = s.images.Resolve(ctx, msg.imageRef, msg.tenantID)
		if img == nil {
			log.WithField(LogFieldImageRef, msg.imageRef).Warn("Skipping image: not resolvable, sending text only")
		}
	}

	s.showTyping(ctx, session, msg.chatID, log)

	if img != nil {
		resp, err := session.SendImage(ctx, msg.chatID, types.NewFileData(img.Data, img.Filename, img.MimeType), msg.body)
		s.record(ctx, msg, models.MediaKindImage, msg.imageRef, resp, err, log)
		if err == nil {
			return nil
		}
		log.WithError(err).WithField(LogFieldImageRef, msg.imageRef).Warn("Failed to send image, falling back to text")
	}

	resp, err := session.SendText(ctx, msg.chatID, msg.body)
	s.record(ctx, msg, models.MediaKindNone, "", resp, err, log)
	if err != nil {
		return errors.NewGatewayUnavailableError("send_text", err)
	}
	return nil
}

func (s *messageSender) showTyping(ctx context.Context, session types.Session, chatID string, log *logrus.Entry) {
	if err := session.SetPresence(ctx, chatID, constants.PresenceTyping); err != nil {
		log.WithError(err).Debug("Failed to set typing presence")
	}
	if s.presenceDelay > 0 {
		_ = sleepContext(ctx, s.presenceDelay)
	}
}

func (s *messageSender) record(ctx context.Context, msg outgoing, kind models.MediaKind, ref string, resp *types.SendMessageResponse, sendErr error, log *logrus.Entry) {
	rec := &models.MessageRecord{
		ID:        uuid.NewString(),
		TicketID:  msg.ticketID,
		ContactID: msg.contactID,
		FromMe:    true,
		Body:      msg.body,
		MediaKind: kind,
		MediaRef:  ref,
		Status:    models.MessageStatusSent,
		CreatedAt: s.now().UTC(),
	}
	if sendErr != nil {
		rec.Status = models.MessageStatusFailed
	} else if resp != nil {
		rec.GatewayMessageID = resp.MessageID
	}

	// Recorded even when the run context is already cancelled.
	if err := s.db.SaveMessage(context.WithoutCancel(ctx), rec); err != nil {
		log.WithError(err).WithField(LogFieldMediaKind, string(kind)).Error("Failed to record outgoing message")
		return
	}
	log.WithFields(logrus.Fields{
		LogFieldMessageID: SanitizeMessageID(ctx, rec.GatewayMessageID),
		LogFieldMediaKind: string(kind),
		LogFieldOutcome:   string(rec.Status),
	}).Debug("Recorded outgoing message")
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// confirmationStep thanks the submitter in their own thread
type confirmationStep struct {
	sender *messageSender
}

func (s *confirmationStep) Name() string { return StepConfirmation }

func (s *confirmationStep) Run(ctx context.Context, run *dispatchRun) StepOutcome {
	cfg := run.page.Dispatch.Confirmation
	if !cfg.Enabled {
		return stepSkipped(StepConfirmation, "disabled")
	}
	if strings.TrimSpace(cfg.Message) == "" {
		return stepSkipped(StepConfirmation, "empty message")
	}

	err := s.sender.send(ctx, run.session, outgoing{
		tenantID:  run.submission.TenantID,
		ticketID:  run.ticket.ID,
		contactID: run.contact.ID,
		chatID:    run.chatID,
		body:      RenderTemplate(cfg.Message, run.vars),
		imageRef:  cfg.ImageURL,
	}, run.log.WithField(LogFieldStep, StepConfirmation))
	if err != nil {
		return stepFailed(StepConfirmation, err)
	}
	return stepSucceeded(StepConfirmation)
}

// groupInviteStep sends a fresh invite link for the configured group or the
// active group of a managed series
type groupInviteStep struct {
	sender *messageSender
	groups *GroupService
}

func (s *groupInviteStep) Name() string { return StepGroupInvite }

func (s *groupInviteStep) Run(ctx context.Context, run *dispatchRun) StepOutcome {
	cfg := run.page.Dispatch.Group
	if !cfg.HasGroup() {
		return stepSkipped(StepGroupInvite, "no group configured")
	}

	tenantID := run.submission.TenantID
	connID := run.connection.ID

	var (
		group *models.Group
		err   error
	)
	if cfg.InviteGroupID > 0 {
		group, err = s.groups.FindGroup(ctx, tenantID, connID, cfg.InviteGroupID)
	} else {
		group, err = s.groups.ActiveSeriesGroup(ctx, run.session, tenantID, connID, cfg.ManagedGroupSeriesID)
	}
	if err != nil {
		return stepFailed(StepGroupInvite, err)
	}
	if group == nil {
		return stepFailed(StepGroupInvite, errors.NewNotFoundError("group", groupRef(cfg)).
			WithContext(LogFieldConnectionID, connID))
	}

	link, err := s.groups.InviteLink(ctx, run.session, group)
	if err != nil {
		return stepFailed(StepGroupInvite, err)
	}

	vars := make(map[string]string, len(run.vars)+1)
	for k, v := range run.vars {
		vars[k] = v
	}
	vars[VarLink] = link

	tpl := cfg.Message
	if !HasPlaceholder(tpl, VarLink) {
		tpl = strings.TrimRight(tpl, " \n") + "\n\n{{link}}"
	}

	err = s.sender.send(ctx, run.session, outgoing{
		tenantID:  tenantID,
		ticketID:  run.ticket.ID,
		contactID: run.contact.ID,
		chatID:    run.chatID,
		body:      strings.TrimSpace(RenderTemplate(tpl, vars)),
		imageRef:  cfg.ImageURL,
	}, run.log.WithFields(logrus.Fields{LogFieldStep: StepGroupInvite, LogFieldGroupID: group.ID}))
	if err != nil {
		return stepFailed(StepGroupInvite, err)
	}
	return stepSucceeded(StepGroupInvite)
}

func groupRef(cfg models.GroupInviteConfig) string {
	if cfg.InviteGroupID > 0 {
		return "group " + strconv.FormatInt(cfg.InviteGroupID, 10)
	}
	return "series " + strconv.FormatInt(cfg.ManagedGroupSeriesID, 10)
}

// adminNotifyStep alerts the landing page owner. The admin number goes through
// its own normalize, validate, contact and thread stages.
type adminNotifyStep struct {
	sender    *messageSender
	validator *NumberValidator
	contacts  *ContactRegistry
	tickets   *TicketGuard
}

func (s *adminNotifyStep) Name() string { return StepAdminNotify }

func (s *adminNotifyStep) Run(ctx context.Context, run *dispatchRun) StepOutcome {
	cfg := run.page.Dispatch.Notification
	if !cfg.Enabled {
		return stepSkipped(StepAdminNotify, "disabled")
	}
	if !cfg.Ready() {
		return stepSkipped(StepAdminNotify, "no admin number")
	}

	phone, err := validation.NormalizePhone(cfg.Number, run.countryCode)
	if err != nil {
		return stepFailed(StepAdminNotify, err)
	}
	chatID, err := s.validator.Resolve(ctx, run.session, phone)
	if err != nil {
		return stepFailed(StepAdminNotify, err)
	}

	canonical := validation.CanonicalFromChatID(chatID)
	if canonical == "" {
		canonical = phone.E164()
	}
	admin, err := s.contacts.CreateOrUpdate(ctx, run.session, ContactInput{
		TenantID:        run.submission.TenantID,
		CanonicalNumber: canonical,
		ChatID:          chatID,
		ConnectionID:    run.connection.ID,
	})
	if err != nil {
		return stepFailed(StepAdminNotify, err)
	}

	ticket, _, err := s.tickets.OpenTicket(ctx, TicketRequest{
		TenantID:     run.submission.TenantID,
		ContactID:    admin.ID,
		ConnectionID: run.connection.ID,
	})
	if err != nil {
		return stepFailed(StepAdminNotify, err)
	}

	tpl := cfg.Template
	if strings.TrimSpace(tpl) == "" {
		tpl = defaultNotificationTemplate(run.submission)
	}

	err = s.sender.send(ctx, run.session, outgoing{
		tenantID:  run.submission.TenantID,
		ticketID:  ticket.ID,
		contactID: admin.ID,
		chatID:    chatID,
		body:      RenderTemplate(tpl, run.vars),
		imageRef:  cfg.ImageURL,
	}, run.log.WithField(LogFieldStep, StepAdminNotify))
	if err != nil {
		return stepFailed(StepAdminNotify, err)
	}
	return stepSucceeded(StepAdminNotify)
}
